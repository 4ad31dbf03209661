package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/session"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/middleware"
)

type Handler struct {
	manager      *session.Manager
	cache        *cache.QueryCache
	recorder     *events.Recorder
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// New creates a Handler. queryCache, recorder and m may be nil.
func New(mgr *session.Manager, queryCache *cache.QueryCache, recorder *events.Recorder, m *metrics.Metrics, defaultLimit, maxResults int) *Handler {
	return &Handler{
		manager:      mgr,
		cache:        queryCache,
		recorder:     recorder,
		metrics:      m,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/fields", h.Fields)
	mux.HandleFunc("GET /api/v1/records/{id}", h.Record)
	mux.HandleFunc("GET /api/v1/session", h.Session)
	mux.HandleFunc("POST /api/v1/reindex", h.Reindex)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	limit := h.defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > h.maxResults {
			parsed = h.maxResults
		}
		limit = parsed
	}

	current := h.manager.Current()
	plan := parser.Parse(query)
	if current != nil {
		plan = current.Parse(query)
	}
	if plan.Empty() {
		h.countQuery("empty")
		h.writeJSON(w, http.StatusOK, &executor.SearchResult{
			Query:   query,
			Results: []executor.Hit{},
		})
		return
	}

	if current == nil {
		h.countQuery("error")
		h.writeAppError(w, apperrors.ErrIndexNotReady)
		return
	}

	var (
		result   *executor.SearchResult
		err      error
		cacheHit bool
	)
	if h.cache != nil {
		scope := current.Index().CacheScope()
		result, cacheHit, err = h.cache.GetOrCompute(ctx, scope, plan, limit, func() (*executor.SearchResult, error) {
			return current.Execute(ctx, plan, limit)
		})
	} else {
		result, err = current.Execute(ctx, plan, limit)
	}
	if err != nil {
		h.countQuery("error")
		log.Error("search execution failed", "query", query, "error", err)
		h.writeAppError(w, err)
		return
	}

	elapsed := time.Since(start)
	resultType := "hit"
	if result.TotalHits == 0 {
		resultType = "zero_result"
	}
	h.countQuery(resultType)
	if h.metrics != nil {
		cacheStatus := "disabled"
		if h.cache != nil {
			cacheStatus = "miss"
			if cacheHit {
				cacheStatus = "hit"
			}
		}
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
		h.metrics.SearchResultsCount.Observe(float64(len(result.Results)))
	}

	log.Info("search completed",
		"query", query,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", elapsed.Milliseconds(),
	)
	if h.recorder != nil {
		h.recorder.Search(events.SearchEvent{
			Query:      query,
			Normalized: plan.Normalized(),
			TotalHits:  result.TotalHits,
			Returned:   len(result.Results),
			LatencyMs:  elapsed.Milliseconds(),
			CacheHit:   cacheHit,
			SessionID:  current.ID(),
			Timestamp:  time.Now().UTC(),
			RequestID:  middleware.GetRequestID(ctx),
		})
	}

	h.writeJSON(w, http.StatusOK, result)
}

// Fields returns the field-name union of the serving session.
func (h *Handler) Fields(w http.ResponseWriter, r *http.Request) {
	current := h.manager.Current()
	if current == nil {
		h.writeAppError(w, apperrors.ErrIndexNotReady)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": current.ID(),
		"fields":     current.Fields(),
	})
}

func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	current := h.manager.Current()
	if current == nil {
		h.writeAppError(w, apperrors.ErrIndexNotReady)
		return
	}
	id := r.PathValue("id")
	rec, ok := current.Record(id)
	if !ok {
		h.writeAppError(w, fmt.Errorf("record %q: %w", id, apperrors.ErrNotFound))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"record": rec,
	})
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	current := h.manager.Current()
	if current == nil {
		h.writeAppError(w, apperrors.ErrIndexNotReady)
		return
	}
	h.writeJSON(w, http.StatusOK, current.Info())
}

// Reindex builds a new session and swaps it in. The build is not tied to
// the request: a client that gives up does not abort it. With async=true
// the request returns 202 at once.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		go func() {
			if _, _, err := h.manager.Rebuild(ctx); err != nil {
				h.logger.Error("background reindex failed", "error", err)
			}
		}()
		h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	s, report, err := h.manager.Rebuild(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("reindex failed", "error", err)
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"session": s.Info(),
		"report":  report,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.recorder == nil || h.recorder.Aggregator() == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.recorder.Aggregator().Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) countQuery(resultType string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps err to a status; server-side failures are not echoed.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	h.writeError(w, status, message)
}
