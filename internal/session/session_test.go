package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/record"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	docA = `<metadata><title>Alpha</title><subject>x</subject><subject>y</subject></metadata>`
	docB = `<metadata><title>Beta</title></metadata>`
)

type fakeSource struct {
	ids   []string
	docs  map[string]string
	files map[string]string
	calls atomic.Int32
}

func (f *fakeSource) ListIDs(context.Context) ([]string, error) {
	return f.ids, nil
}

func (f *fakeSource) Fetch(_ context.Context, id string) ([]byte, error) {
	f.calls.Add(1)
	doc, ok := f.docs[id]
	if !ok {
		return nil, &source.FetchError{ID: id, URL: id, Status: http.StatusInternalServerError}
	}
	return []byte(doc), nil
}

func (f *fakeSource) FetchFiles(_ context.Context, id string) ([]byte, error) {
	doc, ok := f.files[id]
	if !ok {
		return nil, &source.FetchError{ID: id, URL: id, Status: http.StatusNotFound}
	}
	return []byte(doc), nil
}

// locatingSource serves fakeSource documents under item URLs.
type locatingSource struct {
	*fakeSource
}

func (l locatingSource) ItemURL(id string) string {
	return "https://archive.example/items/" + id
}

func twoDocSource() *fakeSource {
	return &fakeSource{
		ids:  []string{"item-a", "item-b"},
		docs: map[string]string{"item-a": docA, "item-b": docB},
	}
}

func testOptions() Options {
	return Options{IDField: "id", Concurrency: 4}
}

func TestCollectBuildSearch(t *testing.T) {
	s := New(testOptions(), metrics.New(prometheus.NewRegistry()))
	report, err := s.Collect(context.Background(), twoDocSource())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Listed)
	assert.Equal(t, 2, report.Indexed)
	assert.Empty(t, report.Failures)
	assert.Equal(t, []string{"id", "subject", "title"}, s.Fields())

	rec, ok := s.Record("item-a")
	require.True(t, ok)
	assert.Equal(t, record.Single("Alpha"), rec["title"])
	assert.Equal(t, record.List("x", "y"), rec["subject"])
	assert.Equal(t, record.Single("item-a"), rec["id"])

	_, err = s.Build()
	require.NoError(t, err)

	res, err := s.Search(context.Background(), "Alpha", 10)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "item-a", res.Results[0].ID)

	res, err = s.Search(context.Background(), "subject", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Results)

	res, err = s.Search(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestCollectIsolatesFailures(t *testing.T) {
	src := &fakeSource{
		ids: []string{"item-a", "broken", "missing", "manifest-shaped", "item-b"},
		docs: map[string]string{
			"item-a":          docA,
			"item-b":          docB,
			"broken":          `<metadata><title>Unclosed</metadata>`,
			"manifest-shaped": `<files><file><format>MP3</format></file></files>`,
		},
	}
	s := New(testOptions(), nil)
	report, err := s.Collect(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Listed)
	assert.Equal(t, 2, report.Indexed)
	require.Len(t, report.Failures, 3)

	reasons := map[string]string{}
	for _, f := range report.Failures {
		reasons[f.ID] = f.Reason
	}
	assert.Equal(t, map[string]string{
		"broken":          "decode",
		"manifest-shaped": "malformed_shape",
		"missing":         "fetch",
	}, reasons)
	assert.Equal(t, "broken", report.Failures[0].ID)
	assert.Equal(t, 2, s.Len())
}

func TestCollectFailFast(t *testing.T) {
	src := &fakeSource{ids: []string{"missing"}, docs: map[string]string{}}
	opts := testOptions()
	opts.FailFast = true
	_, err := New(opts, nil).Collect(context.Background(), src)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrFetch)
}

func TestCollectUnionIndependentOfConcurrency(t *testing.T) {
	src := &fakeSource{docs: map[string]string{}}
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("item-%02d", i)
		src.ids = append(src.ids, id)
		src.docs[id] = fmt.Sprintf(`<metadata><title>t%d</title><field%d>v</field%d></metadata>`, i, i%7, i%7)
	}
	var unions [][]string
	for _, c := range []int{1, 3, 16} {
		opts := testOptions()
		opts.Concurrency = c
		s := New(opts, nil)
		_, err := s.Collect(context.Background(), src)
		require.NoError(t, err)
		unions = append(unions, s.Fields())
	}
	assert.Equal(t, unions[0], unions[1])
	assert.Equal(t, unions[0], unions[2])
	assert.Len(t, unions[0], 9)
}

func TestCollectIncludesFileManifest(t *testing.T) {
	src := twoDocSource()
	src.files = map[string]string{
		"item-a": `<files><file><name>a.mp3</name><format>VBR MP3</format></file><file><name>a.flac</name><format>Flac</format></file></files>`,
	}
	opts := testOptions()
	opts.IncludeFiles = true
	s := New(opts, nil)
	report, err := s.Collect(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)

	rec, _ := s.Record("item-a")
	assert.Equal(t, []string{"a.flac", "a.mp3"}, rec[record.FilesField].Strings())
	assert.Equal(t, []string{"Flac", "VBR MP3"}, rec[record.FileFieldPrefix+"format"].Strings())
	assert.Contains(t, s.Fields(), "file_format")

	_, err = s.Build()
	require.NoError(t, err)
	res, err := s.Search(context.Background(), "flac", 10)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "item-a", res.Results[0].ID)
}

func TestAddRules(t *testing.T) {
	s := New(testOptions(), nil)
	require.NoError(t, s.Add("item-a", record.Record{"title": record.Single("Alpha")}))

	err := s.Add("item-a", record.Record{"title": record.Single("Again")})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateIdentifier)

	assert.ErrorIs(t, s.Add("", record.Record{}), apperrors.ErrInvalidInput)

	_, err = s.Build()
	require.NoError(t, err)
	err = s.Add("item-b", record.Record{"title": record.Single("Beta")})
	assert.ErrorIs(t, err, apperrors.ErrSchemaFrozen)
}

func TestAddDoesNotMutateCaller(t *testing.T) {
	s := New(testOptions(), nil)
	rec := record.Record{"title": record.Single("Alpha")}
	require.NoError(t, s.Add("item-a", rec))
	_, has := rec["id"]
	assert.False(t, has)
}

func TestBuildIsIdempotent(t *testing.T) {
	s := New(testOptions(), nil)
	require.NoError(t, s.Add("item-a", record.Record{"title": record.Single("Alpha")}))
	a, err := s.Build()
	require.NoError(t, err)
	b, err := s.Build()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.True(t, s.Info().Built)
	assert.Equal(t, a.Fingerprint(), s.Info().Fingerprint)
}

func TestSearchBeforeBuild(t *testing.T) {
	s := New(testOptions(), nil)
	_, err := s.Search(context.Background(), "alpha", 10)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotReady)
}

type failingStore struct{}

func (failingStore) Save(context.Context, map[string]record.Record) error {
	return errors.New("disk full")
}
func (failingStore) Load(context.Context) (map[string]record.Record, error) { return nil, nil }
func (failingStore) Close() error                                           { return nil }

func TestPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	defer st.Close()

	first, report, err := Run(ctx, testOptions(), twoDocSource(), st, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Saved)

	restored, rreport, err := Restore(ctx, testOptions(), st, nil)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, 2, rreport.Indexed)
	assert.Equal(t, first.Fields(), restored.Fields())
	assert.Equal(t, first.Index().Fingerprint(), restored.Index().Fingerprint())

	res, err := restored.Search(ctx, "beta", 10)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "item-b", res.Results[0].ID)
}

func TestPersistOutcomes(t *testing.T) {
	s := New(testOptions(), nil)
	require.NoError(t, s.Add("item-a", record.Record{"title": record.Single("Alpha")}))

	out := s.Persist(context.Background(), nil)
	assert.True(t, out.OK())
	assert.Zero(t, out.Saved)

	out = s.Persist(context.Background(), failingStore{})
	assert.False(t, out.OK())
	assert.EqualError(t, out.Err, "disk full")
}

func TestRestoreEmptyStore(t *testing.T) {
	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	defer st.Close()
	s, _, err := Restore(context.Background(), testOptions(), st, nil)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestManagerRebuild(t *testing.T) {
	var builds atomic.Int32
	src := twoDocSource()
	m := NewManager(func(ctx context.Context) (*Session, Report, error) {
		builds.Add(1)
		time.Sleep(10 * time.Millisecond)
		return Run(ctx, testOptions(), src, nil, nil)
	}, nil)

	_, err := m.Search(context.Background(), "alpha", 10)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotReady)
	res, err := m.Search(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Results)

	var swapped atomic.Int32
	m.OnSwap(func(context.Context, *Session, Report) { swapped.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.Rebuild(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, builds.Load(), swapped.Load())
	assert.LessOrEqual(t, builds.Load(), int32(4))

	first := m.Current()
	require.NotNil(t, first)
	res, err = m.Search(context.Background(), "alpha", 10)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	_, _, err = m.Rebuild(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, m.Current())
}

func TestManagerKeepsSessionOnFailedRebuild(t *testing.T) {
	fail := false
	m := NewManager(func(ctx context.Context) (*Session, Report, error) {
		if fail {
			return nil, Report{}, errors.New("source down")
		}
		return Run(ctx, testOptions(), twoDocSource(), nil, nil)
	}, nil)
	_, _, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	current := m.Current()

	fail = true
	_, _, err = m.Rebuild(context.Background())
	assert.Error(t, err)
	assert.Same(t, current, m.Current())
}

func TestCollectAttachesItemURL(t *testing.T) {
	src := twoDocSource()
	src.docs["item-a"] = `<metadata><title>Alpha</title><url>ignored</url></metadata>`
	opts := testOptions()
	opts.URLField = "url"

	s := New(opts, nil)
	_, err := s.Collect(context.Background(), locatingSource{src})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title", "url"}, s.Fields())
	rec, ok := s.Record("item-a")
	require.True(t, ok)
	assert.Equal(t, record.Single("https://archive.example/items/item-a"), rec["url"])

	plain := New(opts, nil)
	_, err = plain.Collect(context.Background(), twoDocSource())
	require.NoError(t, err)
	assert.NotContains(t, plain.Fields(), "url")
}
