package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/indexer/tokenizer"
)

type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

func (t QueryType) String() string {
	if t == QueryOR {
		return "OR"
	}
	return "AND"
}

// Clause is one normalized term, optionally restricted to a single field.
// An empty Field matches every indexed field.
type Clause struct {
	Field string `json:"field,omitempty"`
	Term  string `json:"term"`
}

type QueryPlan struct {
	Terms        []Clause
	Type         QueryType
	ExcludeTerms []Clause
	RawQuery     string
}

// Empty reports whether the plan has nothing to match.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

// Normalized renders the plan canonically; equivalent queries render the
// same string.
func (p *QueryPlan) Normalized() string {
	var sb strings.Builder
	sb.WriteString(p.Type.String())
	for _, c := range p.Terms {
		sb.WriteByte(' ')
		writeClause(&sb, c)
	}
	for _, c := range p.ExcludeTerms {
		sb.WriteString(" -")
		writeClause(&sb, c)
	}
	return sb.String()
}

func writeClause(sb *strings.Builder, c Clause) {
	if c.Field != "" {
		sb.WriteString(c.Field)
		sb.WriteByte(':')
	}
	sb.WriteString(c.Term)
}

// Parse is ParseFields with every prefix accepted as a field name.
func Parse(query string) *QueryPlan {
	return ParseFields(query, nil)
}

// ParseFields turns a free-text query into a plan. Words are combined with
// AND unless an OR keyword appears. NOT or a leading '-' excludes the next
// word, and field:word restricts a word to one field when isField accepts
// the prefix; otherwise the whole word is searched as text, so 10:30 or
// http://host stay value queries. A nil isField accepts every prefix. A word
// that tokenizes into several terms contributes all of them.
func ParseFields(query string, isField func(name string) bool) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]Clause, 0),
		ExcludeTerms: make([]Clause, 0),
		Type:         QueryAND,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	words := strings.Fields(query)
	excludeNext := false
	for i := 0; i < len(words); i++ {
		word := words[i]
		switch word {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		exclude := excludeNext
		excludeNext = false
		if len(word) > 1 && word[0] == '-' {
			exclude = true
			word = word[1:]
		}
		field := ""
		if idx := strings.IndexByte(word, ':'); idx > 0 && idx < len(word)-1 {
			if isField == nil || isField(word[:idx]) {
				field = word[:idx]
				word = word[idx+1:]
			}
		}
		for _, token := range tokenizer.Tokenize(word) {
			clause := Clause{Field: field, Term: token.Term}
			if exclude {
				plan.ExcludeTerms = append(plan.ExcludeTerms, clause)
			} else {
				plan.Terms = append(plan.Terms, clause)
			}
		}
	}
	return plan
}
