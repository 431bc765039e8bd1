// Package parser turns a raw search box query into a plan: pipeline-normalised
// terms to rank, terms whose documents are excluded, and the raw words used
// to highlight teasers. The upper-case keywords AND and OR override the
// index's configured boolean mode; NOT excludes the following word.
package parser

import (
	"sort"
	"strings"

	"github.com/mrhatman/booksearch/internal/pipeline"
)

type QueryType int

const (
	// QueryDefault defers to the index's search_options.bool.
	QueryDefault QueryType = iota
	QueryAND
	QueryOR
)

func (t QueryType) String() string {
	switch t {
	case QueryAND:
		return "AND"
	case QueryOR:
		return "OR"
	default:
		return "DEFAULT"
	}
}

type QueryPlan struct {
	Terms        []string
	Type         QueryType
	ExcludeTerms []string
	// Words are the lower-cased query words before stop-word removal and
	// stemming, minus operators and excluded words.
	Words    []string
	RawQuery string
}

func Parse(query string, p *pipeline.Pipeline) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Words:        make([]string, 0),
		Type:         QueryDefault,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	words := strings.Fields(query)
	excludeNext := false
	for i := 0; i < len(words); i++ {
		switch words[i] {
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
		raw := pipeline.Tokenize(words[i])
		for _, tok := range raw {
			term := p.RunToken(tok)
			if term == "" {
				continue
			}
			if excludeNext {
				plan.ExcludeTerms = append(plan.ExcludeTerms, term)
			} else {
				plan.Terms = append(plan.Terms, term)
			}
		}
		if !excludeNext {
			plan.Words = append(plan.Words, raw...)
		}
		excludeNext = false
	}
	return plan
}

// Empty reports whether nothing is left to rank.
func (q *QueryPlan) Empty() bool {
	return len(q.Terms) == 0
}

// Bool resolves the boolean mode against the configured default.
func (q *QueryPlan) Bool(configured string) string {
	switch q.Type {
	case QueryAND:
		return "AND"
	case QueryOR:
		return "OR"
	}
	if strings.EqualFold(configured, "AND") {
		return "AND"
	}
	return "OR"
}

// Normalized is a canonical form of the plan. Queries that rank identically
// share it.
func (q *QueryPlan) Normalized() string {
	terms := append([]string(nil), q.Terms...)
	excludes := append([]string(nil), q.ExcludeTerms...)
	sort.Strings(terms)
	sort.Strings(excludes)
	parts := []string{q.Type.String(), strings.Join(terms, ",")}
	if len(excludes) > 0 {
		parts = append(parts, "NOT:"+strings.Join(excludes, ","))
	}
	return strings.Join(parts, "|")
}
