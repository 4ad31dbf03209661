package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/indexer/index"
)

const (
	k1 = 1.2
	b  = 0.75
)

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Corpus supplies the collection statistics BM25 needs. *index.Index
// satisfies it.
type Corpus interface {
	DocCount() int
	AvgDocLength(field string) float64
	DocLength(field, docID string) int
}

// FieldPostings are the postings of one term within one field.
type FieldPostings struct {
	Field    string
	Term     string
	Postings index.PostingList
}

// Rank scores each document by summing BM25 over every (field, term) pair it
// matched. Fields are weighted equally; each uses its own length statistics.
// Ties are broken by document id.
func Rank(matches []FieldPostings, corpus Corpus, limit int) []ScoredDoc {
	totalDocs := int64(corpus.DocCount())
	scores := make(map[string]float64)
	for _, m := range matches {
		if len(m.Postings) == 0 {
			continue
		}
		idf := computeIDF(totalDocs, int64(len(m.Postings)))
		avg := corpus.AvgDocLength(m.Field)
		for _, posting := range m.Postings {
			tfNorm := computeTFNorm(
				float64(posting.Frequency),
				float64(corpus.DocLength(m.Field, posting.DocID)),
				avg,
			)
			scores[posting.DocID] += idf * tfNorm
		}
	}
	result := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		result = append(result, ScoredDoc{
			DocID: docID,
			Score: math.Round(score*10000) / 10000,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].DocID < result[j].DocID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
