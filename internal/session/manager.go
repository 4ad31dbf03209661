package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// Builder produces a fully built session.
type Builder func(ctx context.Context) (*Session, Report, error)

// SwapFunc observes each newly installed session.
type SwapFunc func(ctx context.Context, s *Session, report Report)

// Manager serves queries from the current session and replaces it with a
// freshly built one on Rebuild. Readers never see a partially built session.
type Manager struct {
	current atomic.Pointer[Session]
	build   Builder
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	onSwap []SwapFunc
}

// NewManager creates a Manager with no current session. m may be nil.
func NewManager(build Builder, m *metrics.Metrics) *Manager {
	return &Manager{
		build:   build,
		metrics: m,
		logger:  slog.Default().With("component", "session-manager"),
	}
}

// OnSwap registers fn to run after every successful swap.
func (m *Manager) OnSwap(fn SwapFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSwap = append(m.onSwap, fn)
}

// Current returns the serving session, or nil before the first build.
func (m *Manager) Current() *Session {
	return m.current.Load()
}

// Install makes s the serving session.
func (m *Manager) Install(ctx context.Context, s *Session, report Report) {
	prev := m.current.Swap(s)
	info := s.Info()
	if m.metrics != nil {
		m.metrics.IndexedRecords.Set(float64(info.Records))
		m.metrics.SchemaFields.Set(float64(info.Fields))
	}
	attrs := []any{"session_id", info.ID, "records", info.Records, "fields", info.Fields}
	if prev != nil {
		attrs = append(attrs, "previous_session_id", prev.ID())
	}
	m.logger.Info("session installed", attrs...)

	m.mu.Lock()
	hooks := append([]SwapFunc(nil), m.onSwap...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, s, report)
	}
}

// Rebuild builds a new session and installs it. Concurrent callers share
// one build. On failure the current session keeps serving.
func (m *Manager) Rebuild(ctx context.Context) (*Session, Report, error) {
	type result struct {
		session *Session
		report  Report
	}
	v, err, shared := m.group.Do("rebuild", func() (interface{}, error) {
		s, report, err := m.build(ctx)
		if err != nil {
			return result{report: report}, err
		}
		m.Install(ctx, s, report)
		return result{session: s, report: report}, nil
	})
	res := v.(result)
	if shared {
		m.logger.Debug("joined in-flight rebuild")
	}
	if err != nil {
		m.logger.Error("rebuild failed", "error", err)
		return nil, res.report, err
	}
	return res.session, res.report, nil
}

// Search runs query against the current session.
func (m *Manager) Search(ctx context.Context, query string, limit int) (*executor.SearchResult, error) {
	if s := m.Current(); s != nil {
		return s.Search(ctx, query, limit)
	}
	return m.Execute(ctx, parser.Parse(query), limit)
}

func (m *Manager) Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*executor.SearchResult, error) {
	s := m.Current()
	if s == nil {
		if plan.Empty() {
			return &executor.SearchResult{Query: plan.RawQuery, Results: []executor.Hit{}}, nil
		}
		return nil, apperrors.ErrIndexNotReady
	}
	return s.Execute(ctx, plan, limit)
}
