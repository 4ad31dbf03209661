package index

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/record"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idOf(r record.Record) string {
	v, ok := r.Get("id")
	if !ok {
		return ""
	}
	return v.String()
}

func sampleRecords() []record.Record {
	return []record.Record{
		{"id": record.Single("alpha-item"), "title": record.Single("Alpha concert"), "subject": record.List("live", "jazz")},
		{"id": record.Single("beta-item"), "title": record.Single("Beta")},
	}
}

func TestBuildIndexesEveryRecord(t *testing.T) {
	ix, err := Build(sampleRecords(), []string{"title", "subject", "id"}, idOf)
	require.NoError(t, err)

	assert.Equal(t, 2, ix.DocCount())
	assert.Equal(t, []string{"id", "subject", "title"}, ix.Fields())
	assert.ElementsMatch(t, []string{"alpha-item", "beta-item"}, ix.IDs())

	postings := ix.Postings("title", "alpha")
	require.Len(t, postings, 1)
	assert.Equal(t, "alpha-item", postings[0].DocID)
	assert.Equal(t, 1, postings[0].Frequency)

	jazz := ix.Postings("subject", "jazz")
	require.Len(t, jazz, 1)
	assert.Equal(t, []int{1}, jazz[0].Positions)

	rec, ok := ix.Record("beta-item")
	require.True(t, ok)
	assert.Equal(t, "Beta", rec["title"].String())
}

func TestBuildAbsentFieldContributesNothing(t *testing.T) {
	ix, err := Build(sampleRecords(), []string{"title", "subject", "id"}, idOf)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.FieldDocCount("subject"))
	assert.Equal(t, 0, ix.DocLength("subject", "beta-item"))

	withEmpty := sampleRecords()
	withEmpty[1]["subject"] = record.Single("")
	ix2, err := Build(withEmpty, []string{"title", "subject", "id"}, idOf)
	require.NoError(t, err)
	assert.Equal(t, ix.FieldDocCount("subject"), ix2.FieldDocCount("subject"))
	assert.Equal(t, ix.AvgDocLength("subject"), ix2.AvgDocLength("subject"))
}

func TestBuildIgnoresFieldsOutsideUnion(t *testing.T) {
	ix, err := Build(sampleRecords(), []string{"title", "id"}, idOf)
	require.NoError(t, err)
	assert.Empty(t, ix.Postings("subject", "jazz"))
	assert.False(t, ix.HasField("subject"))
}

func TestBuildDuplicateIdentifier(t *testing.T) {
	recs := append(sampleRecords(), record.Record{"id": record.Single("alpha-item"), "title": record.Single("Imposter")})
	_, err := Build(recs, []string{"title", "id"}, idOf)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateIdentifier)
	var dup *DuplicateIdentifierError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "alpha-item", dup.ID)
}

func TestBuildMissingIdentifier(t *testing.T) {
	_, err := Build([]record.Record{{"title": record.Single("nameless")}}, []string{"title"}, idOf)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestBuildNDistinct(t *testing.T) {
	const n = 50
	recs := make([]record.Record, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, record.Record{
			"id":    record.Single(fmt.Sprintf("item-%03d", i)),
			"title": record.Single(fmt.Sprintf("title number %d", i)),
		})
	}
	ix, err := Build(recs, []string{"id", "title"}, idOf)
	require.NoError(t, err)
	assert.Equal(t, n, ix.DocCount())
	assert.Len(t, ix.Postings("title", tokenizer.Terms("title")[0]), n)
}

func TestBuildReturnsFreshIndex(t *testing.T) {
	a, err := Build(sampleRecords(), []string{"title", "id"}, idOf)
	require.NoError(t, err)
	b, err := Build(sampleRecords(), []string{"title", "id"}, idOf)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c, err := Build(sampleRecords()[:1], []string{"title", "id"}, idOf)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	changed := sampleRecords()
	changed[0] = changed[0].Clone()
	changed[0]["title"] = record.Single("Alpha revised")
	d, err := Build(changed, []string{"title", "id"}, idOf)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), d.Fingerprint())
}

func TestCacheScopeTracksContent(t *testing.T) {
	a, err := Build(sampleRecords(), []string{"title", "id"}, idOf)
	require.NoError(t, err)
	b, err := Build(sampleRecords(), []string{"title", "id"}, idOf)
	require.NoError(t, err)
	assert.Equal(t, a.CacheScope(), b.CacheScope())
	assert.True(t, strings.HasSuffix(a.CacheScope(), fmt.Sprintf("-%d", a.DocCount())))

	changed := sampleRecords()
	changed[0] = changed[0].Clone()
	changed[0]["title"] = record.Single("Alpha revised")
	d, err := Build(changed, []string{"title", "id"}, idOf)
	require.NoError(t, err)
	assert.Equal(t, a.DocCount(), d.DocCount())
	assert.NotEqual(t, a.CacheScope(), d.CacheScope())

	e, err := Build(sampleRecords(), []string{"title"}, idOf)
	require.NoError(t, err)
	assert.NotEqual(t, a.CacheScope(), e.CacheScope())
}

func TestStats(t *testing.T) {
	ix, err := Build(sampleRecords(), []string{"title", "subject", "id"}, idOf)
	require.NoError(t, err)
	stats := ix.Stats()
	assert.Equal(t, 2, stats.Docs)
	assert.Equal(t, 3, stats.Fields)
	assert.Greater(t, stats.Terms, 0)
}

// BenchmarkBuild measures full index construction over 5 000 records.
func BenchmarkBuild(b *testing.B) {
	recs := make([]record.Record, 0, 5000)
	for i := 0; i < 5000; i++ {
		recs = append(recs, record.Record{
			"id":          record.Single(fmt.Sprintf("item-%d", i)),
			"title":       record.Single("distributed search benchmark"),
			"subject":     record.List("search engine", "indexing", "query processing"),
			"description": record.Single("this is a benchmark document with several terms for testing index builds"),
		})
	}
	fields := []string{"id", "title", "subject", "description"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Build(recs, fields, idOf); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPostingsParallel measures concurrent read throughput.
func BenchmarkPostingsParallel(b *testing.B) {
	recs := make([]record.Record, 0, 10000)
	for i := 0; i < 10000; i++ {
		recs = append(recs, record.Record{
			"id":    record.Single(fmt.Sprintf("doc-%d", i)),
			"title": record.Single("distributed search engine with query processing"),
		})
	}
	ix, err := Build(recs, []string{"id", "title"}, idOf)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = ix.Postings("title", "search")
		}
	})
}
