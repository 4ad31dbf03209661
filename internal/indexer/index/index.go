// Package index builds an immutable, field-aware inverted index over
// normalized records: field -> term -> postings, plus per-field document
// lengths for ranking and the records themselves for result hydration.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/record"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
	"github.com/huichen/murmur"
)

// DuplicateIdentifierError reports two records resolving to one id.
type DuplicateIdentifierError struct {
	ID string
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("record identifier %q appears more than once", e.ID)
}

// Is matches apperrors.ErrDuplicateIdentifier.
func (e *DuplicateIdentifierError) Is(target error) bool {
	return target == apperrors.ErrDuplicateIdentifier
}

type Index struct {
	fields      []string
	fieldSet    map[string]struct{}
	building    map[string]map[string]map[string]*Posting
	postings    map[string]map[string]PostingList
	docLengths  map[string]map[string]int
	fieldTokens map[string]int64
	records     map[string]record.Record
	ids         []string
	fingerprint uint32
	digest      [sha256.Size]byte
}

// Build indexes every record under each field of fields. Records missing a
// field contribute nothing to it; fields outside the list are ignored.
// Each call returns a new Index.
func Build(records []record.Record, fields []string, idOf func(record.Record) string) (*Index, error) {
	ix := &Index{
		fields:      append([]string(nil), fields...),
		fieldSet:    make(map[string]struct{}, len(fields)),
		building:    make(map[string]map[string]map[string]*Posting, len(fields)),
		docLengths:  make(map[string]map[string]int, len(fields)),
		fieldTokens: make(map[string]int64, len(fields)),
		records:     make(map[string]record.Record, len(records)),
		ids:         make([]string, 0, len(records)),
	}
	sort.Strings(ix.fields)
	for _, f := range ix.fields {
		ix.fieldSet[f] = struct{}{}
	}
	for _, rec := range records {
		id := idOf(rec)
		if id == "" {
			return nil, fmt.Errorf("record without identifier: %w", apperrors.ErrInvalidInput)
		}
		if _, exists := ix.records[id]; exists {
			return nil, &DuplicateIdentifierError{ID: id}
		}
		ix.addDocument(id, rec)
	}
	ix.finalize()
	return ix, nil
}

func (ix *Index) addDocument(docID string, rec record.Record) {
	ix.records[docID] = rec
	ix.ids = append(ix.ids, docID)
	for field, value := range rec {
		if _, indexed := ix.fieldSet[field]; !indexed {
			continue
		}
		tokens := tokenizer.TokenizeValues(value.Strings()...)
		if len(tokens) == 0 {
			continue
		}
		termData := make(map[string]*Posting)
		for _, token := range tokens {
			p, exists := termData[token.Term]
			if !exists {
				p = &Posting{
					DocID:     docID,
					Frequency: 0,
					Positions: make([]int, 0, 4),
				}
				termData[token.Term] = p
			}
			p.Frequency++
			p.Positions = append(p.Positions, token.Position)
		}
		terms, ok := ix.building[field]
		if !ok {
			terms = make(map[string]map[string]*Posting)
			ix.building[field] = terms
		}
		for term, posting := range termData {
			if _, exists := terms[term]; !exists {
				terms[term] = make(map[string]*Posting)
			}
			terms[term][docID] = posting
		}
		if _, ok := ix.docLengths[field]; !ok {
			ix.docLengths[field] = make(map[string]int)
		}
		ix.docLengths[field][docID] = len(tokens)
		ix.fieldTokens[field] += int64(len(tokens))
	}
}

func (ix *Index) finalize() {
	ix.postings = make(map[string]map[string]PostingList, len(ix.building))
	for field, terms := range ix.building {
		lists := make(map[string]PostingList, len(terms))
		for term, docs := range terms {
			list := make(PostingList, 0, len(docs))
			for _, posting := range docs {
				list = append(list, *posting)
			}
			sort.Slice(list, func(i, j int) bool {
				return list[i].DocID < list[j].DocID
			})
			lists[term] = list
		}
		ix.postings[field] = lists
	}
	ix.building = nil

	ix.fingerprint, ix.digest = ix.computeFingerprint()
}

// computeFingerprint hashes the field list and every record's indexed
// values in id order, returning the short murmur form and a full digest.
func (ix *Index) computeFingerprint() (uint32, [sha256.Size]byte) {
	sortedIDs := append([]string(nil), ix.ids...)
	sort.Strings(sortedIDs)
	var sb strings.Builder
	sb.WriteString(strings.Join(ix.fields, "\x00"))
	for _, id := range sortedIDs {
		sb.WriteString("\x01")
		sb.WriteString(id)
		rec := ix.records[id]
		for _, field := range ix.fields {
			value, ok := rec[field]
			if !ok {
				continue
			}
			sb.WriteString("\x02")
			sb.WriteString(field)
			for _, v := range value.Strings() {
				sb.WriteString("\x00")
				sb.WriteString(v)
			}
		}
	}
	content := []byte(sb.String())
	return murmur.Murmur3(content), sha256.Sum256(content)
}

// Postings returns the postings of term in field, sorted by document id.
func (ix *Index) Postings(field, term string) PostingList {
	return ix.postings[field][term]
}

// HasField reports whether field is one of the indexed fields.
func (ix *Index) HasField(field string) bool {
	_, ok := ix.fieldSet[field]
	return ok
}

// Fields returns the indexed field names, sorted.
func (ix *Index) Fields() []string {
	return append([]string(nil), ix.fields...)
}

// IDs returns the document ids in insertion order.
func (ix *Index) IDs() []string {
	return append([]string(nil), ix.ids...)
}

func (ix *Index) DocCount() int {
	return len(ix.ids)
}

// FieldDocCount returns how many documents contributed tokens to field.
func (ix *Index) FieldDocCount(field string) int {
	return len(ix.docLengths[field])
}

func (ix *Index) DocLength(field, docID string) int {
	return ix.docLengths[field][docID]
}

func (ix *Index) AvgDocLength(field string) float64 {
	n := len(ix.docLengths[field])
	if n == 0 {
		return 0
	}
	return float64(ix.fieldTokens[field]) / float64(n)
}

// Record returns the original record for docID.
func (ix *Index) Record(docID string) (record.Record, bool) {
	rec, ok := ix.records[docID]
	return rec, ok
}

// Fingerprint identifies the records and field set the index was built
// from; rebuilding identical records yields the same value.
func (ix *Index) Fingerprint() uint32 {
	return ix.fingerprint
}

// CacheScope keys derived data such as cached results to this build. It
// uses the full content digest and the record count rather than the 32-bit
// fingerprint, so two different builds share a scope only on a SHA-256
// collision.
func (ix *Index) CacheScope() string {
	return fmt.Sprintf("%s-%d", hex.EncodeToString(ix.digest[:12]), len(ix.ids))
}

func (ix *Index) Stats() Stats {
	terms := 0
	for _, lists := range ix.postings {
		terms += len(lists)
	}
	return Stats{
		Docs:   len(ix.ids),
		Fields: len(ix.fields),
		Terms:  terms,
	}
}
