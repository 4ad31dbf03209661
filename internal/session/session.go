// Package session owns one indexing run: the records collected for it, the
// union of their field names and, once built, the immutable search index.
// A session is built once; picking up new records means starting a new one.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/record"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/xmlshape"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/resilience"
	"github.com/google/uuid"
)

// Options configure a session.
type Options struct {
	IDField string
	// URLField, when set, receives the item URL of records collected from
	// a source.Locator.
	URLField     string
	Concurrency  int
	IncludeFiles bool
	FailFast     bool
	MaxDepth     int
	StoreTimeout time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		IDField:      cfg.Index.IDField,
		URLField:     cfg.Index.URLField,
		Concurrency:  cfg.Source.Concurrency,
		IncludeFiles: cfg.Source.IncludeFiles,
		FailFast:     cfg.Source.FailFast,
		MaxDepth:     cfg.Index.MaxDepth,
		StoreTimeout: cfg.Store.Timeout,
	}
}

type Session struct {
	id        string
	opts      Options
	decoder   xmlshape.Decoder
	metrics   *metrics.Metrics
	executor  *executor.Executor
	logger    *slog.Logger
	createdAt time.Time

	mu      sync.Mutex
	records map[string]record.Record
	union   *schema.Union
	index   *index.Index
	builtAt time.Time
}

// New starts an empty session. m may be nil.
func New(opts Options, m *metrics.Metrics) *Session {
	if opts.IDField == "" {
		opts.IDField = "id"
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		opts:      opts,
		decoder:   xmlshape.Decoder{MaxDepth: opts.MaxDepth},
		metrics:   m,
		executor:  executor.New(),
		logger:    slog.Default().With("component", "session", "session_id", id),
		createdAt: time.Now().UTC(),
		records:   make(map[string]record.Record),
		union:     schema.NewUnion(),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Normalize decodes and normalizes one metadata document.
func (s *Session) Normalize(data []byte) (record.Record, error) {
	tree, err := s.decoder.Decode(data)
	if err != nil {
		return nil, err
	}
	res, err := record.Normalize(tree)
	if err != nil {
		return nil, err
	}
	return res.Record(), nil
}

// Ingest normalizes data and adds the result under id. A non-nil files
// document is normalized as a manifest and merged in without overriding
// the metadata fields.
func (s *Session) Ingest(id string, data []byte, files []byte) error {
	return s.ingest(id, data, files, nil)
}

// ingest is Ingest with extra fields set last, over the document's own.
func (s *Session) ingest(id string, data []byte, files []byte, extra record.Record) error {
	rec, err := s.Normalize(data)
	if err != nil {
		return err
	}
	if files != nil {
		manifest, err := s.Normalize(files)
		if err != nil {
			s.logger.Warn("ignoring unusable file manifest", "id", id, "error", err)
		} else {
			rec.Merge(manifest)
		}
	}
	for name, v := range extra {
		rec[name] = v
	}
	return s.Add(id, rec)
}

// Add attaches id under the identifier field and records rec together with
// its field names. Adding after Build fails with ErrSchemaFrozen; adding a
// known id fails with a DuplicateIdentifierError.
func (s *Session) Add(id string, rec record.Record) error {
	if id == "" {
		return fmt.Errorf("empty record identifier: %w", apperrors.ErrInvalidInput)
	}
	rec = rec.Clone()
	rec[s.opts.IDField] = record.Single(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil {
		return fmt.Errorf("adding %s: %w", id, apperrors.ErrSchemaFrozen)
	}
	if _, exists := s.records[id]; exists {
		return &index.DuplicateIdentifierError{ID: id}
	}
	if err := s.union.Observe(rec); err != nil {
		return fmt.Errorf("adding %s: %w", id, err)
	}
	s.records[id] = rec
	if s.metrics != nil {
		s.metrics.RecordsNormalizedTotal.Inc()
	}
	return nil
}

// Build freezes the field union and indexes every record. Calling Build
// again returns the same index.
func (s *Session) Build() (*index.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil {
		return s.index, nil
	}
	start := time.Now()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	recs := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, s.records[id])
	}

	idField := s.opts.IDField
	idx, err := index.Build(recs, s.union.Fields(), func(r record.Record) string {
		v, _ := r.Get(idField)
		return v.String()
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.IndexBuildsTotal.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("building index: %w", err)
	}
	s.union.Freeze()
	s.index = idx
	s.builtAt = time.Now().UTC()
	if s.metrics != nil {
		s.metrics.IndexBuildsTotal.WithLabelValues("success").Inc()
		s.metrics.IndexBuildDuration.Observe(time.Since(start).Seconds())
	}
	stats := idx.Stats()
	s.logger.Info("index built",
		"records", stats.Docs,
		"fields", stats.Fields,
		"terms", stats.Terms,
		"duration", time.Since(start),
	)
	return idx, nil
}

// Index returns the built index, or nil before Build.
func (s *Session) Index() *index.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Parse plans query against this session's fields: a field:word prefix
// that names no indexed field is searched as plain text.
func (s *Session) Parse(query string) *parser.QueryPlan {
	if idx := s.Index(); idx != nil {
		return parser.ParseFields(query, idx.HasField)
	}
	return parser.Parse(query)
}

// Search runs query against the built index. An empty query yields an
// empty result.
func (s *Session) Search(ctx context.Context, query string, limit int) (*executor.SearchResult, error) {
	return s.Execute(ctx, s.Parse(query), limit)
}

func (s *Session) Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*executor.SearchResult, error) {
	idx := s.Index()
	if idx == nil && !plan.Empty() {
		return nil, apperrors.ErrIndexNotReady
	}
	return s.executor.Execute(ctx, idx, plan, limit)
}

// Fields returns the field-name union, sorted.
func (s *Session) Fields() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.union.Fields()
}

// Record returns the record stored under id.
func (s *Session) Record(id string) (record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Info summarises the session for status endpoints and events.
type Info struct {
	ID          string    `json:"id"`
	Records     int       `json:"records"`
	Fields      int       `json:"fields"`
	Built       bool      `json:"built"`
	Fingerprint uint32    `json:"fingerprint,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	BuiltAt     time.Time `json:"built_at,omitempty"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:        s.id,
		Records:   len(s.records),
		Fields:    s.union.Len(),
		Built:     s.index != nil,
		CreatedAt: s.createdAt,
		BuiltAt:   s.builtAt,
	}
	if s.index != nil {
		info.Fingerprint = s.index.Fingerprint()
	}
	return info
}

// Persist saves the session's records to st. A nil st is a no-op that
// reports success with nothing saved.
func (s *Session) Persist(ctx context.Context, st store.Store) store.Outcome {
	if st == nil {
		return store.Outcome{}
	}
	s.mu.Lock()
	snapshot := make(map[string]record.Record, len(s.records))
	for id, rec := range s.records {
		snapshot[id] = rec
	}
	s.mu.Unlock()

	err := resilience.WithTimeout(ctx, s.opts.StoreTimeout, "persist records", func(ctx context.Context) error {
		return st.Save(ctx, snapshot)
	})
	if err != nil {
		s.logger.Warn("persisting records failed", "error", err)
		return store.Outcome{Err: err}
	}
	return store.Outcome{Saved: len(snapshot)}
}

// Restore adds every record held by st and returns how many were added.
func (s *Session) Restore(ctx context.Context, st store.Store) (int, error) {
	if st == nil {
		return 0, nil
	}
	var loaded map[string]record.Record
	err := resilience.WithTimeout(ctx, s.opts.StoreTimeout, "restore records", func(ctx context.Context) error {
		var err error
		loaded, err = st.Load(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("loading stored records: %w", err)
	}
	ids := make([]string, 0, len(loaded))
	for id := range loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	added := 0
	for _, id := range ids {
		if err := s.Add(id, loaded[id]); err != nil {
			if errors.Is(err, apperrors.ErrSchemaFrozen) {
				return added, err
			}
			s.logger.Warn("skipping stored record", "id", id, "error", err)
			continue
		}
		added++
	}
	s.logger.Info("records restored", "count", added)
	return added, nil
}
