package ranker

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/indexer/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCorpus struct {
	docs    int
	avg     map[string]float64
	lengths map[string]map[string]int
}

func (c fakeCorpus) DocCount() int                     { return c.docs }
func (c fakeCorpus) AvgDocLength(field string) float64 { return c.avg[field] }
func (c fakeCorpus) DocLength(field, docID string) int {
	return c.lengths[field][docID]
}

func corpus() fakeCorpus {
	return fakeCorpus{
		docs: 3,
		avg:  map[string]float64{"title": 2, "subject": 4},
		lengths: map[string]map[string]int{
			"title":   {"a": 1, "b": 3, "c": 2},
			"subject": {"a": 4, "c": 4},
		},
	}
}

func TestRankHigherFrequencyWins(t *testing.T) {
	matches := []FieldPostings{{
		Field: "title",
		Term:  "alpha",
		Postings: index.PostingList{
			{DocID: "a", Frequency: 1},
			{DocID: "c", Frequency: 2},
		},
	}}
	got := Rank(matches, corpus(), 0)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].DocID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestRankSumsAcrossFields(t *testing.T) {
	matches := []FieldPostings{
		{Field: "title", Term: "jazz", Postings: index.PostingList{{DocID: "a", Frequency: 1}, {DocID: "b", Frequency: 1}}},
		{Field: "subject", Term: "jazz", Postings: index.PostingList{{DocID: "b", Frequency: 1}}},
	}
	got := Rank(matches, corpus(), 0)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].DocID)
}

func TestRankTiesBreakByID(t *testing.T) {
	c := corpus()
	c.lengths["title"]["b"] = 1
	matches := []FieldPostings{{
		Field:    "title",
		Term:     "alpha",
		Postings: index.PostingList{{DocID: "b", Frequency: 1}, {DocID: "a", Frequency: 1}},
	}}
	got := Rank(matches, c, 0)
	require.Len(t, got, 2)
	assert.Equal(t, got[0].Score, got[1].Score)
	assert.Equal(t, "a", got[0].DocID)
}

func TestRankLimit(t *testing.T) {
	matches := []FieldPostings{{
		Field:    "title",
		Term:     "alpha",
		Postings: index.PostingList{{DocID: "a", Frequency: 1}, {DocID: "b", Frequency: 1}, {DocID: "c", Frequency: 1}},
	}}
	assert.Len(t, Rank(matches, corpus(), 2), 2)
	assert.Empty(t, Rank(nil, corpus(), 2))
}

func TestIDFPositive(t *testing.T) {
	assert.Greater(t, computeIDF(10, 10), 0.0)
	assert.Greater(t, computeIDF(10, 1), computeIDF(10, 5))
}
