package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/record"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Failure is an identifier that produced no record.
type Failure struct {
	ID      string `json:"id"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Report summarises a collection run.
type Report struct {
	SessionID string        `json:"session_id"`
	Listed    int           `json:"listed"`
	Indexed   int           `json:"indexed"`
	Failures  []Failure     `json:"failures"`
	Saved     int           `json:"saved"`
	Duration  time.Duration `json:"duration_ns"`
}

// Collect lists identifiers from src and ingests each document. Documents
// are fetched and normalized concurrently; records are added one at a time.
// A failing identifier is reported and skipped unless FailFast is set, in
// which case the first failure cancels the run and is returned.
func (s *Session) Collect(ctx context.Context, src source.Source) (Report, error) {
	start := time.Now()
	report := Report{SessionID: s.id, Failures: []Failure{}}
	ids, err := src.ListIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("listing identifiers: %w", err)
	}
	report.Listed = len(ids)

	files, _ := src.(source.ManifestFetcher)
	var (
		mu       sync.Mutex
		indexed  int
		failures []Failure
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := s.collectOne(gctx, src, files, id)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				indexed++
				return nil
			}
			reason := apperrors.Reason(err)
			failures = append(failures, Failure{ID: id, Reason: reason, Message: err.Error(), Err: err})
			if s.metrics != nil {
				s.metrics.NormalizeFailures.WithLabelValues(reason).Inc()
			}
			s.logger.Warn("record skipped", "id", id, "reason", reason, "error", err)
			if s.opts.FailFast {
				return fmt.Errorf("collecting %s: %w", id, err)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].ID < failures[j].ID })
	if failures != nil {
		report.Failures = failures
	}
	report.Indexed = indexed
	report.Duration = time.Since(start)
	s.logger.Info("collection finished",
		"listed", report.Listed,
		"indexed", report.Indexed,
		"failed", len(report.Failures),
		"duration", report.Duration,
	)
	if waitErr != nil {
		return report, waitErr
	}
	return report, ctx.Err()
}

func (s *Session) collectOne(ctx context.Context, src source.Fetcher, files source.ManifestFetcher, id string) error {
	data, err := src.Fetch(ctx, id)
	if err != nil {
		return err
	}
	var manifest []byte
	if s.opts.IncludeFiles && files != nil {
		manifest, err = files.FetchFiles(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrNotFound):
			manifest = nil
		default:
			s.logger.Warn("file manifest unavailable", "id", id, "error", err)
			manifest = nil
		}
	}
	var extra record.Record
	if loc, ok := src.(source.Locator); ok && s.opts.URLField != "" {
		extra = record.Record{s.opts.URLField: record.Single(loc.ItemURL(id))}
	}
	return s.ingest(id, data, manifest, extra)
}

// Run is one complete indexing pass: a new session collects from src, is
// built, and its records are persisted to st when st is non-nil.
func Run(ctx context.Context, opts Options, src source.Source, st store.Store, m *metrics.Metrics) (*Session, Report, error) {
	s := New(opts, m)
	report, err := s.Collect(ctx, src)
	if err != nil {
		return nil, report, err
	}
	if _, err := s.Build(); err != nil {
		return nil, report, err
	}
	if outcome := s.Persist(ctx, st); outcome.OK() {
		report.Saved = outcome.Saved
	}
	return s, report, nil
}

// Restore builds a session from the records held by st. It returns a nil
// session when st holds nothing.
func Restore(ctx context.Context, opts Options, st store.Store, m *metrics.Metrics) (*Session, Report, error) {
	s := New(opts, m)
	report := Report{SessionID: s.id, Failures: []Failure{}}
	start := time.Now()
	n, err := s.Restore(ctx, st)
	if err != nil {
		return nil, report, err
	}
	if n == 0 {
		return nil, report, nil
	}
	if _, err := s.Build(); err != nil {
		return nil, report, err
	}
	report.Listed, report.Indexed = n, n
	report.Duration = time.Since(start)
	return s, report, nil
}
