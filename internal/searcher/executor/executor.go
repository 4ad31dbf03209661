package executor

import (
	"context"
	"log/slog"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
)

// Hit is one ranked result. Matches lists, per field, the query terms the
// record matched.
type Hit struct {
	ID      string              `json:"id"`
	Score   float64             `json:"score"`
	Matches map[string][]string `json:"matches,omitempty"`
}

type SearchResult struct {
	Query     string         `json:"query"`
	TotalHits int            `json:"total_hits"`
	Results   []Hit          `json:"results"`
	TermStats map[string]int `json:"term_stats,omitempty"`
}

type Executor struct {
	logger *slog.Logger
}

func New() *Executor {
	return &Executor{
		logger: slog.Default().With("component", "query-executor"),
	}
}

// Search parses query against idx's fields and runs it. An empty query
// yields no hits.
func Search(idx *index.Index, query string, limit int) ([]Hit, error) {
	plan := parser.Parse(query)
	if idx != nil {
		plan = parser.ParseFields(query, idx.HasField)
	}
	res, err := New().Execute(context.Background(), idx, plan, limit)
	if err != nil {
		return nil, err
	}
	return res.Results, nil
}

func (e *Executor) Execute(ctx context.Context, idx *index.Index, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	if plan.Empty() {
		return &SearchResult{
			Query:   plan.RawQuery,
			Results: []Hit{},
		}, nil
	}
	if idx == nil {
		return nil, apperrors.ErrIndexNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := make([]ranker.FieldPostings, 0, len(plan.Terms))
	clauseDocs := make([]map[string]struct{}, 0, len(plan.Terms))
	termStats := make(map[string]int)
	seen := make(map[parser.Clause]struct{})
	for _, clause := range plan.Terms {
		if _, dup := seen[clause]; dup {
			continue
		}
		seen[clause] = struct{}{}
		found := lookup(idx, clause)
		docs := make(map[string]struct{})
		for _, fp := range found {
			for _, p := range fp.Postings {
				docs[p.DocID] = struct{}{}
			}
		}
		matches = append(matches, found...)
		clauseDocs = append(clauseDocs, docs)
		termStats[clauseKey(clause)] = len(docs)
	}

	var candidates map[string]struct{}
	switch plan.Type {
	case parser.QueryOR:
		candidates = unionDocs(clauseDocs)
	default:
		candidates = intersectDocs(clauseDocs)
	}
	for _, clause := range plan.ExcludeTerms {
		for _, fp := range lookup(idx, clause) {
			for _, p := range fp.Postings {
				delete(candidates, p.DocID)
			}
		}
	}

	filtered := make([]ranker.FieldPostings, 0, len(matches))
	matched := make(map[string]map[string][]string)
	for _, fp := range matches {
		list := make(index.PostingList, 0, len(fp.Postings))
		for _, p := range fp.Postings {
			if _, ok := candidates[p.DocID]; !ok {
				continue
			}
			list = append(list, p)
			byField, ok := matched[p.DocID]
			if !ok {
				byField = make(map[string][]string)
				matched[p.DocID] = byField
			}
			byField[fp.Field] = append(byField[fp.Field], fp.Term)
		}
		if len(list) > 0 {
			filtered = append(filtered, ranker.FieldPostings{Field: fp.Field, Term: fp.Term, Postings: list})
		}
	}

	ranked := ranker.Rank(filtered, idx, limit)
	hits := make([]Hit, 0, len(ranked))
	for _, doc := range ranked {
		byField := matched[doc.DocID]
		for _, terms := range byField {
			sort.Strings(terms)
		}
		hits = append(hits, Hit{ID: doc.DocID, Score: doc.Score, Matches: byField})
	}
	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"type", plan.Type.String(),
		"candidates", len(candidates),
		"results", len(hits),
	)
	return &SearchResult{
		Query:     plan.RawQuery,
		TotalHits: len(candidates),
		Results:   hits,
		TermStats: termStats,
	}, nil
}

// lookup returns the non-empty postings of clause, either in its named field
// or in every indexed field.
func lookup(idx *index.Index, clause parser.Clause) []ranker.FieldPostings {
	fields := idx.Fields()
	if clause.Field != "" {
		if !idx.HasField(clause.Field) {
			return nil
		}
		fields = []string{clause.Field}
	}
	var out []ranker.FieldPostings
	for _, field := range fields {
		postings := idx.Postings(field, clause.Term)
		if len(postings) == 0 {
			continue
		}
		out = append(out, ranker.FieldPostings{Field: field, Term: clause.Term, Postings: postings})
	}
	return out
}

func clauseKey(c parser.Clause) string {
	if c.Field == "" {
		return c.Term
	}
	return c.Field + ":" + c.Term
}

// intersectDocs keeps documents present in every set; any empty set empties
// the result.
func intersectDocs(sets []map[string]struct{}) map[string]struct{} {
	if len(sets) == 0 {
		return make(map[string]struct{})
	}
	shortest := 0
	for i, s := range sets {
		if len(s) < len(sets[shortest]) {
			shortest = i
		}
	}
	candidates := make(map[string]struct{}, len(sets[shortest]))
	for docID := range sets[shortest] {
		candidates[docID] = struct{}{}
	}
	for i, s := range sets {
		if i == shortest {
			continue
		}
		for docID := range candidates {
			if _, exists := s[docID]; !exists {
				delete(candidates, docID)
			}
		}
	}
	return candidates
}

func unionDocs(sets []map[string]struct{}) map[string]struct{} {
	result := make(map[string]struct{})
	for _, s := range sets {
		for docID := range s {
			result[docID] = struct{}{}
		}
	}
	return result
}
