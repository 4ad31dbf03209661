// Command loadtest drives concurrent searches against a running searcher,
// optionally forcing async reindexes so that session swaps happen under load.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var defaultQueries = []string{
	"alpha",
	"beta",
	"jazz OR blues",
	"title:concert",
	"live recording -bootleg",
	"subject:history",
	"field recording",
	"78rpm",
	"radio NOT news",
	"lecture",
}

type config struct {
	baseURL      string
	concurrency  int
	duration     time.Duration
	queries      []string
	reindexEvery time.Duration
}

// sample is one completed search request.
type sample struct {
	latency time.Duration
	status  int
	hits    int
	err     error
}

// tally is owned by a single worker; tallies are merged after the run.
type tally struct {
	samples   []sample
	reindexes int
}

func main() {
	var cfg config
	var queries string
	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "base URL of the search service")
	flag.IntVar(&cfg.concurrency, "concurrency", 10, "concurrent search workers")
	flag.DurationVar(&cfg.duration, "duration", 30*time.Second, "test duration")
	flag.StringVar(&queries, "queries", "", "comma-separated queries (default: built-in sample)")
	flag.DurationVar(&cfg.reindexEvery, "reindex-every", 0, "trigger an async reindex at this interval; 0 disables")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(cfg.baseURL, "/")
	cfg.queries = defaultQueries
	if queries != "" {
		cfg.queries = lo.Compact(lo.Map(strings.Split(queries, ","), func(q string, _ int) string {
			return strings.TrimSpace(q)
		}))
	}
	if cfg.concurrency < 1 || len(cfg.queries) == 0 {
		fmt.Fprintln(os.Stderr, "need at least one worker and one query")
		os.Exit(2)
	}

	fmt.Printf("load test: %s, %d workers, %s, %d queries", cfg.baseURL, cfg.concurrency, cfg.duration, len(cfg.queries))
	if cfg.reindexEvery > 0 {
		fmt.Printf(", reindex every %s", cfg.reindexEvery)
	}
	fmt.Println()

	result := run(cfg)
	if !report(os.Stdout, result, cfg.duration) {
		os.Exit(1)
	}
}

func run(cfg config) tally {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency * 2,
			MaxIdleConnsPerHost: cfg.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	tallies := make([]tally, cfg.concurrency+1)
	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.concurrency {
		g.Go(func() error {
			t := &tallies[w]
			for i := w; ctx.Err() == nil; i++ {
				s := search(ctx, client, cfg.baseURL, cfg.queries[i%len(cfg.queries)])
				if ctx.Err() != nil && s.err != nil {
					break
				}
				t.samples = append(t.samples, s)
			}
			return nil
		})
	}
	if cfg.reindexEvery > 0 {
		g.Go(func() error {
			t := &tallies[cfg.concurrency]
			ticker := time.NewTicker(cfg.reindexEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if reindex(ctx, client, cfg.baseURL) {
						t.reindexes++
					}
				}
			}
		})
	}
	g.Wait()

	var merged tally
	for _, t := range tallies {
		merged.samples = append(merged.samples, t.samples...)
		merged.reindexes += t.reindexes
	}
	return merged
}

func search(ctx context.Context, client *http.Client, baseURL, query string) sample {
	u := baseURL + "/api/v1/search?limit=10&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return sample{err: err}
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return sample{latency: time.Since(start), err: err}
	}
	defer resp.Body.Close()

	s := sample{status: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var body struct {
			TotalHits int `json:"total_hits"`
		}
		s.err = json.NewDecoder(resp.Body).Decode(&body)
		s.hits = body.TotalHits
	}
	io.Copy(io.Discard, resp.Body)
	s.latency = time.Since(start)
	return s
}

func reindex(ctx context.Context, client *http.Client, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/reindex?async=true", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusAccepted
}

// report prints the run summary and reports whether any request completed.
func report(out io.Writer, t tally, duration time.Duration) bool {
	ok := lo.Filter(t.samples, func(s sample, _ int) bool {
		return s.err == nil && s.status == http.StatusOK
	})
	zero := lo.CountBy(ok, func(s sample) bool { return s.hits == 0 })
	failed := len(t.samples) - len(ok)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "requests\t%d\n", len(t.samples))
	fmt.Fprintf(tw, "ok\t%d\n", len(ok))
	fmt.Fprintf(tw, "zero results\t%d\n", zero)
	fmt.Fprintf(tw, "failed\t%d\n", failed)
	fmt.Fprintf(tw, "reindexes\t%d\n", t.reindexes)
	if len(t.samples) > 0 {
		fmt.Fprintf(tw, "error rate\t%.2f%%\n", 100*float64(failed)/float64(len(t.samples)))
		fmt.Fprintf(tw, "req/s\t%.1f\n", float64(len(t.samples))/duration.Seconds())
	}

	latencies := lo.Map(lo.Filter(t.samples, func(s sample, _ int) bool { return s.status != 0 }),
		func(s sample, _ int) time.Duration { return s.latency })
	if len(latencies) > 0 {
		slices.Sort(latencies)
		fmt.Fprintf(tw, "latency min\t%s\n", latencies[0])
		fmt.Fprintf(tw, "latency mean\t%s\n", lo.Sum(latencies)/time.Duration(len(latencies)))
		for _, p := range []float64{50, 90, 99} {
			fmt.Fprintf(tw, "latency p%.0f\t%s\n", p, percentile(latencies, p))
		}
		fmt.Fprintf(tw, "latency max\t%s\n", latencies[len(latencies)-1])
	}

	codes := lo.CountValuesBy(t.samples, func(s sample) int { return s.status })
	for _, code := range slices.Sorted(maps.Keys(codes)) {
		label := http.StatusText(code)
		switch code {
		case 0:
			label = "transport error"
		case http.StatusServiceUnavailable:
			label = "index not ready"
		}
		fmt.Fprintf(tw, "status %d\t%d (%s)\n", code, codes[code], label)
	}
	tw.Flush()

	if len(t.samples) == 0 {
		fmt.Fprintln(out, "no requests completed; is the searcher running?")
		return false
	}
	return true
}

// percentile uses the nearest-rank method on sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(rank, len(sorted)-1))]
}
