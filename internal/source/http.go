package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/resilience"
	"github.com/temoto/robotstxt"
)

// maxDocumentSize bounds a single listing or metadata response.
const maxDocumentSize = 32 << 20

// HTTPSource reads the listing and metadata documents from an item server.
// Requests go through a robots.txt gate, a circuit breaker for the host and
// retry with backoff for transient failures.
type HTTPSource struct {
	cfg     config.SourceConfig
	base    *url.URL
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *slog.Logger

	robotsOnce sync.Once
	robots     *robotstxt.RobotsData
}

// NewHTTPSource validates cfg.BaseURL and prepares a client. m may be nil.
func NewHTTPSource(cfg config.SourceConfig, m *metrics.Metrics) (*HTTPSource, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing source base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("source base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.ListingPath == "" {
		cfg.ListingPath = "/items/"
	}
	if cfg.MetaSuffix == "" {
		cfg.MetaSuffix = "_meta.xml"
	}
	if cfg.FilesSuffix == "" {
		cfg.FilesSuffix = "_files.xml"
	}
	cbCfg := resilience.CircuitBreakerConfig{
		IsFailure: retryable,
	}
	if m != nil {
		cbCfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &HTTPSource{
		cfg:     cfg,
		base:    base,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker("source:"+base.Host, cbCfg),
		retry:   resilience.RetryConfig{MaxAttempts: cfg.MaxRetries},
		logger:  slog.Default().With("component", "http-source", "host", base.Host),
	}, nil
}

// ListIDs fetches and parses the listing page.
func (s *HTTPSource) ListIDs(ctx context.Context) ([]string, error) {
	body, err := s.get(ctx, "", s.cfg.ListingPath)
	if err != nil {
		return nil, err
	}
	ids, err := ParseListing(bytes.NewReader(body), s.cfg.ListingPath)
	if err != nil {
		return nil, fmt.Errorf("parsing listing: %w", err)
	}
	s.logger.Info("listing parsed", "ids", len(ids))
	return ids, nil
}

// Fetch returns <listing><id>/<id><metaSuffix>.
func (s *HTTPSource) Fetch(ctx context.Context, id string) ([]byte, error) {
	return s.get(ctx, id, s.documentPath(id, s.cfg.MetaSuffix))
}

// FetchFiles returns <listing><id>/<id><filesSuffix>.
func (s *HTTPSource) FetchFiles(ctx context.Context, id string) ([]byte, error) {
	return s.get(ctx, id, s.documentPath(id, s.cfg.FilesSuffix))
}

// ItemURL is the absolute URL of an item's directory page.
func (s *HTTPSource) ItemURL(id string) string {
	return s.base.ResolveReference(&url.URL{Path: s.cfg.ListingPath + id}).String()
}

func (s *HTTPSource) documentPath(id, suffix string) string {
	return s.cfg.ListingPath + id + "/" + id + suffix
}

func (s *HTTPSource) get(ctx context.Context, id, path string) ([]byte, error) {
	target := s.base.ResolveReference(&url.URL{Path: path})
	if !s.allowed(ctx, target.EscapedPath()) {
		return nil, &FetchError{ID: id, URL: target.String(), Status: http.StatusForbidden,
			Err: fmt.Errorf("disallowed by robots.txt")}
	}
	var body []byte
	err := resilience.Retry(ctx, "fetch "+path, s.retry, func() error {
		err := s.breaker.Execute(func() error {
			var err error
			body, err = s.do(ctx, id, target.String())
			return err
		})
		if err != nil && !retryable(err) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &FetchError{ID: id, URL: target.String(), Err: err}
	}
	return body, nil
}

func (s *HTTPSource) do(ctx context.Context, id, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{ID: id, URL: target, Err: err}
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{ID: id, URL: target, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{ID: id, URL: target, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, &FetchError{ID: id, URL: target, Status: resp.StatusCode, Err: err}
	}
	if len(body) > maxDocumentSize {
		return nil, &FetchError{ID: id, URL: target, Status: resp.StatusCode,
			Err: fmt.Errorf("document exceeds %d bytes", maxDocumentSize)}
	}
	return body, nil
}

// allowed consults robots.txt, fetched once per source. An unreachable or
// unparsable robots.txt allows everything.
func (s *HTTPSource) allowed(ctx context.Context, path string) bool {
	if !s.cfg.RespectRobots {
		return true
	}
	s.robotsOnce.Do(func() {
		s.robots = s.fetchRobots(ctx)
	})
	if s.robots == nil {
		return true
	}
	agent := s.cfg.UserAgent
	if i := strings.IndexByte(agent, '/'); i > 0 {
		agent = agent[:i]
	}
	return s.robots.TestAgent(path, agent)
}

func (s *HTTPSource) fetchRobots(ctx context.Context) *robotstxt.RobotsData {
	robotsURL := s.base.ResolveReference(&url.URL{Path: "/robots.txt"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("robots.txt unavailable, allowing all", "error", err)
		return nil
	}
	defer resp.Body.Close()
	robots, err := robotstxt.FromResponse(resp)
	if err != nil {
		s.logger.Warn("robots.txt unparsable, allowing all", "error", err)
		return nil
	}
	return robots
}
