// Package tokenizer provides text tokenisation for the search engine.
// It segments input on Unicode word boundaries, folds case and diacritics,
// removes stop-words, and applies the Porter2 stemmer to letter words.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/segment"
	"github.com/surgebase/porter2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into a slice of stemmed, lowercased Tokens with
// stop-words removed.
func Tokenize(text string) []Token {
	return TokenizeValues(text)
}

// TokenizeValues tokenizes each value in turn; positions continue across
// values so a list field reads as one stream.
func TokenizeValues(values ...string) []Token {
	var tokens []Token
	pos := 0
	for _, text := range values {
		if strings.TrimSpace(text) == "" {
			continue
		}
		seg := segment.NewWordSegmenter(strings.NewReader(fold(text)))
		for seg.Segment() {
			kind := seg.Type()
			if kind == segment.None {
				continue
			}
			word := strings.ToLower(seg.Text())
			if utf8.RuneCountInString(word) < 2 && kind != segment.Ideo {
				continue
			}
			if _, isStop := stopWords[word]; isStop {
				continue
			}
			if kind == segment.Letter {
				word = porter2.Stem(word)
			}
			if word == "" {
				continue
			}
			tokens = append(tokens, Token{
				Term:     word,
				Position: pos,
			})
			pos++
		}
	}
	return tokens
}

// Terms returns just the terms of Tokenize(text).
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		terms = append(terms, t.Term)
	}
	return terms
}

// fold strips combining marks so "Café" and "cafe" share a term.
func fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return folded
}
