// Package ranker scores documents the way elasticlunr does. Each query token
// is optionally expanded to every indexed token it prefixes; a posting
// scores tf * idf * 1/sqrt(fieldLength), scaled down for expanded tokens.
// Per-field scores are merged with OR or AND semantics, normalised by the
// share of query tokens a document matched, multiplied by the field boost and
// summed over fields.
package ranker

import (
	"context"
	"math"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/mrhatman/booksearch/internal/searchindex"
)

// expansionWeight scales the score of tokens reached by prefix expansion.
const expansionWeight = 0.15

type ScoredDoc struct {
	Ref   string  `json:"ref"`
	Score float64 `json:"score"`
}

type FieldOption struct {
	Name  string
	Boost float64
}

type Options struct {
	Bool   string
	Expand bool
	Fields []FieldOption
}

// OptionsFromIndex reads search_options, taking fields in declaration order.
// When search_options lists fields, only those fields are searched.
func OptionsFromIndex(idx *searchindex.Index) Options {
	opts := Options{
		Bool:   idx.SearchOptions.Bool,
		Expand: idx.SearchOptions.Expand,
	}
	listed := idx.SearchOptions.Fields
	for _, f := range idx.Elastic.Fields {
		if len(listed) > 0 {
			if _, ok := listed[f]; !ok {
				continue
			}
		}
		opts.Fields = append(opts.Fields, FieldOption{Name: f, Boost: idx.Boost(f)})
	}
	return opts
}

// Rank scores every document matching tokens. Fields are scored
// concurrently; the result is ordered by descending score, then by ref.
func Rank(idx *searchindex.Index, tokens []string, opts Options) []ScoredDoc {
	result, _ := RankContext(context.Background(), idx, tokens, opts)
	return result
}

// RankContext is Rank that gives up with ctx's error once ctx is done.
func RankContext(ctx context.Context, idx *searchindex.Index, tokens []string, opts Options) ([]ScoredDoc, error) {
	if len(tokens) == 0 {
		return []ScoredDoc{}, nil
	}
	perField := make([]map[string]float64, len(opts.Fields))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range opts.Fields {
		if f.Boost == 0 {
			continue
		}
		g.Go(func() error {
			scores, err := FieldScores(gctx, idx, f.Name, tokens, opts.Bool, opts.Expand)
			perField[i] = scores
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := make(map[string]float64)
	for i, f := range opts.Fields {
		for ref, s := range perField[i] {
			total[ref] += s * f.Boost
		}
	}
	result := make([]ScoredDoc, 0, len(total))
	for ref, s := range total {
		result = append(result, ScoredDoc{Ref: ref, Score: s})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return refLess(result[i].Ref, result[j].Ref)
	})
	return result, nil
}

// FieldScores scores one field. ctx is checked before each query token.
func FieldScores(ctx context.Context, idx *searchindex.Index, field string, tokens []string, boolType string, expand bool) (map[string]float64, error) {
	fi := idx.Field(field)
	if fi == nil || fi.Root == nil {
		return nil, nil
	}
	and := boolType == "AND"
	var scores map[string]float64
	matched := make(map[string]int)

	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys := []string{token}
		if expand {
			keys = fi.Root.Expand(token)
		}
		tokenScores := make(map[string]float64)
		for _, key := range keys {
			var docs map[string]float64
			if n := fi.Root.Find(key); n != nil {
				docs = n.Docs
			}
			idf := IDF(idx, field, key)
			if scores != nil && and {
				filtered := make(map[string]float64, len(docs))
				for ref := range scores {
					if tf, ok := docs[ref]; ok {
						filtered[ref] = tf
					}
				}
				docs = filtered
			}
			if key == token {
				for ref := range docs {
					matched[ref]++
				}
			}
			for ref, tf := range docs {
				norm := 1.0
				if l := idx.FieldLength(ref, field); l != 0 {
					norm = 1 / math.Sqrt(float64(l))
				}
				penalty := 1.0
				if key != token {
					penalty = (1 - float64(jsLen(key)-jsLen(token))/float64(jsLen(key))) * expansionWeight
				}
				tokenScores[ref] += tf * idf * norm * penalty
			}
		}
		scores = merge(scores, tokenScores, and)
	}

	for ref, s := range scores {
		if n, ok := matched[ref]; ok {
			scores[ref] = s * float64(n) / float64(len(tokens))
		}
	}
	return scores, nil
}

// jsLen is the length of s in UTF-16 code units, as a browser measures it.
func jsLen(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func merge(acc, scores map[string]float64, and bool) map[string]float64 {
	if acc == nil {
		return scores
	}
	if and {
		out := make(map[string]float64)
		for ref, s := range scores {
			if a, ok := acc[ref]; ok {
				out[ref] = a + s
			}
		}
		return out
	}
	for ref, s := range scores {
		acc[ref] += s
	}
	return acc
}

// IDF is 1 + ln(N / (df + 1)).
func IDF(idx *searchindex.Index, field, token string) float64 {
	df := 0
	if fi := idx.Field(field); fi != nil && fi.Root != nil {
		if n := fi.Root.Find(token); n != nil {
			df = n.DF
		}
	}
	return 1 + math.Log(float64(idx.DocCount())/float64(df+1))
}

func refLess(a, b string) bool {
	x, errA := strconv.Atoi(a)
	y, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return x < y
	}
	return a < b
}
