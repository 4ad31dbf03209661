package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/record"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/session"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string]string
}

func (b *memBackend) Get(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (b *memBackend) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		b.data[key] = string(v)
	case string:
		b.data[key] = v
	}
	return nil
}

func (b *memBackend) FlushByPattern(context.Context, string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := int64(len(b.data))
	b.data = map[string]string{}
	return n, nil
}

func alphaBeta(ctx context.Context) (*session.Session, session.Report, error) {
	s := session.New(session.Options{IDField: "id"}, nil)
	if err := s.Add("item-one", record.Record{
		"title":   record.Single("Alpha"),
		"subject": record.List("x", "y"),
	}); err != nil {
		return nil, session.Report{}, err
	}
	if err := s.Add("item-two", record.Record{"title": record.Single("Beta")}); err != nil {
		return nil, session.Report{}, err
	}
	if _, err := s.Build(); err != nil {
		return nil, session.Report{}, err
	}
	return s, session.Report{SessionID: s.ID(), Listed: 2, Indexed: 2, Failures: []session.Failure{}}, nil
}

type fixture struct {
	server  *httptest.Server
	manager *session.Manager
	agg     *events.Aggregator
}

func newFixture(t *testing.T, build session.Builder, withCache bool) *fixture {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	mgr := session.NewManager(build, m)
	var qc *cache.QueryCache
	if withCache {
		qc = cache.New(&memBackend{data: map[string]string{}}, time.Minute, m)
	}
	agg := events.NewAggregator()
	h := New(mgr, qc, events.NewRecorder(nil, agg), m, 10, 50)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fixture{server: srv, manager: mgr, agg: agg}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return f.do(t, http.MethodGet, path)
}

func (f *fixture) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, []byte(buf.String())
}

func decodeResult(t *testing.T, body []byte) executor.SearchResult {
	t.Helper()
	var res executor.SearchResult
	require.NoError(t, json.Unmarshal(body, &res))
	return res
}

func TestSearchBeforeFirstBuild(t *testing.T) {
	f := newFixture(t, alphaBeta, false)

	resp, _ := f.get(t, "/api/v1/search?q=alpha")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, body := f.get(t, "/api/v1/search?q=")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeResult(t, body).Results)
}

func TestSearchEndToEnd(t *testing.T) {
	for _, withCache := range []bool{false, true} {
		f := newFixture(t, alphaBeta, withCache)
		_, _, err := f.manager.Rebuild(context.Background())
		require.NoError(t, err)

		resp, body := f.get(t, "/api/v1/search?q=Alpha")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		res := decodeResult(t, body)
		require.Len(t, res.Results, 1)
		assert.Equal(t, "item-one", res.Results[0].ID)

		resp, body = f.get(t, "/api/v1/search?q=beta")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		res = decodeResult(t, body)
		require.Len(t, res.Results, 1)
		assert.Equal(t, "item-two", res.Results[0].ID)

		_, body = f.get(t, "/api/v1/search?q=subject")
		assert.Empty(t, decodeResult(t, body).Results)

		_, body = f.get(t, "/api/v1/search?q=Alpha")
		assert.Len(t, decodeResult(t, body).Results, 1)

		stats := f.agg.Stats()
		assert.Equal(t, int64(4), stats.TotalSearches)
		assert.Equal(t, int64(1), stats.ZeroResultCount)
		if withCache {
			assert.Equal(t, int64(1), stats.CacheHits)
		} else {
			assert.Zero(t, stats.CacheHits)
		}
	}
}

func TestSearchLimitValidation(t *testing.T) {
	f := newFixture(t, alphaBeta, false)
	_, _, err := f.manager.Rebuild(context.Background())
	require.NoError(t, err)

	for _, limit := range []string{"0", "-3", "many"} {
		resp, _ := f.get(t, "/api/v1/search?q=alpha&limit="+limit)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, limit)
	}
	resp, body := f.get(t, "/api/v1/search?q=alpha+OR+beta&limit=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeResult(t, body)
	assert.Equal(t, 2, res.TotalHits)
	assert.Len(t, res.Results, 1)
}

func TestFieldsAndRecords(t *testing.T) {
	f := newFixture(t, alphaBeta, false)
	resp, _ := f.get(t, "/api/v1/fields")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, _, err := f.manager.Rebuild(context.Background())
	require.NoError(t, err)

	resp, body := f.get(t, "/api/v1/fields")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fields struct {
		Fields []string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Equal(t, []string{"id", "subject", "title"}, fields.Fields)

	resp, body = f.get(t, "/api/v1/records/item-one")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec struct {
		ID     string        `json:"id"`
		Record record.Record `json:"record"`
	}
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, "item-one", rec.ID)
	assert.Equal(t, []string{"x", "y"}, rec.Record["subject"].Strings())

	resp, _ = f.get(t, "/api/v1/records/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReindex(t *testing.T) {
	var fail atomic.Bool
	f := newFixture(t, func(ctx context.Context) (*session.Session, session.Report, error) {
		if fail.Load() {
			return nil, session.Report{}, errors.New("source down")
		}
		return alphaBeta(ctx)
	}, false)

	resp, body := f.do(t, http.MethodPost, "/api/v1/reindex")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Session session.Info   `json:"session"`
		Report  session.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 2, out.Session.Records)
	assert.Equal(t, f.manager.Current().ID(), out.Session.ID)

	resp, body = f.get(t, "/api/v1/session")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), out.Session.ID)

	fail.Store(true)
	resp, _ = f.do(t, http.MethodPost, "/api/v1/reindex")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, out.Session.ID, f.manager.Current().ID())
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, alphaBeta, false)
	_, body := f.get(t, "/api/v1/cache/stats")
	assert.JSONEq(t, `{"status":"disabled"}`, string(body))
	resp, _ := f.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f = newFixture(t, alphaBeta, true)
	_, _, err := f.manager.Rebuild(context.Background())
	require.NoError(t, err)
	f.get(t, "/api/v1/search?q=alpha")
	f.get(t, "/api/v1/search?q=alpha")

	_, body = f.get(t, "/api/v1/cache/stats")
	var stats map[string]any
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.EqualValues(t, 1, stats["hits"])
	assert.EqualValues(t, 1, stats["misses"])

	resp, _ = f.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t, alphaBeta, false)
	_, _, err := f.manager.Rebuild(context.Background())
	require.NoError(t, err)
	f.get(t, "/api/v1/search?q=zzz")

	resp, body := f.get(t, "/api/v1/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats events.Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, int64(1), stats.ZeroResultCount)
	require.Len(t, stats.ZeroResultQueries, 1)
	assert.Equal(t, "AND zzz", stats.ZeroResultQueries[0].Query)
}
