// Package validate checks that a search index is internally consistent: the
// document store, doc_urls and every trie posting agree on the same set of
// document refs, and the configuration blocks hold usable values.
package validate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mrhatman/booksearch/internal/pipeline"
	"github.com/mrhatman/booksearch/internal/searchindex"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
)

// Problem is a single inconsistency.
type Problem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return p.Path + ": " + p.Message
}

// Report collects every problem found in an index.
type Report struct {
	Documents int       `json:"documents"`
	Tokens    int       `json:"tokens"`
	Problems  []Problem `json:"problems"`

	mu sync.Mutex
}

// OK reports whether no problem was found.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

// Error implements error so a failed report can be returned directly.
func (r *Report) Error() string {
	msgs := make([]string, 0, len(r.Problems))
	for _, p := range r.Problems {
		msgs = append(msgs, p.String())
	}
	return fmt.Sprintf("%d problem(s): %s", len(r.Problems), strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is match ErrInvalidIndex.
func (r *Report) Unwrap() error {
	return apperrors.ErrInvalidIndex
}

// Err returns the report as an error, or nil when the index is valid.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return r
}

func (r *Report) addf(path, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Problems = append(r.Problems, Problem{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) sort() {
	sort.SliceStable(r.Problems, func(i, j int) bool {
		return r.Problems[i].Path < r.Problems[j].Path
	})
}

// Validate checks idx and returns every problem it finds.
func Validate(idx *searchindex.Index) *Report {
	r := &Report{Documents: idx.DocCount(), Problems: []Problem{}}
	checkHeader(r, idx)
	checkStore(r, idx)
	checkOptions(r, idx)

	var g errgroup.Group
	var tokens sync.Map
	for _, field := range idx.Elastic.Fields {
		fi := idx.Field(field)
		if fi == nil || fi.Root == nil {
			continue
		}
		g.Go(func() error {
			tokens.Store(field, checkTrie(r, idx, field, fi.Root))
			return nil
		})
	}
	_ = g.Wait()
	tokens.Range(func(_, v any) bool {
		r.Tokens += v.(int)
		return true
	})
	r.sort()
	return r
}

func checkHeader(r *Report, idx *searchindex.Index) {
	e := idx.Elastic
	if e.Ref == "" {
		r.addf("index.ref", "must not be empty")
	}
	if e.Version == "" {
		r.addf("index.version", "must not be empty")
	}
	if len(e.Fields) == 0 {
		r.addf("index.fields", "must not be empty")
	}
	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if seen[f] {
			r.addf("index.fields", "duplicate field %q", f)
		}
		seen[f] = true
		if idx.Field(f) == nil {
			r.addf("index.index", "missing tree for field %q", f)
		}
	}
	for name := range e.Index {
		if !seen[name] {
			r.addf("index.index", "tree %q is not a declared field", name)
		}
	}
	for _, stage := range e.Pipeline {
		if !pipeline.Registered(stage) {
			r.addf("index.pipeline", "unknown stage %q", stage)
		}
	}
}

func checkStore(r *Report, idx *searchindex.Index) {
	store := idx.Elastic.DocumentStore
	if store.Length != len(store.DocInfo) {
		r.addf("index.documentStore.length", "is %d but docInfo has %d entries", store.Length, len(store.DocInfo))
	}
	if store.Length != len(idx.DocURLs) {
		r.addf("doc_urls", "has %d entries but the store holds %d documents", len(idx.DocURLs), store.Length)
	}
	if store.Save && len(store.Docs) != len(store.DocInfo) {
		r.addf("index.documentStore.docs", "has %d entries but docInfo has %d", len(store.Docs), len(store.DocInfo))
	}
	if !store.Save && len(store.Docs) > 0 {
		r.addf("index.documentStore.docs", "stores %d documents although save is false", len(store.Docs))
	}

	for _, ref := range sortedKeys(store.DocInfo) {
		path := "index.documentStore.docInfo." + ref
		n, err := strconv.Atoi(ref)
		if err != nil || n < 0 || strconv.Itoa(n) != ref {
			r.addf(path, "ref is not a decimal index")
		} else if n >= len(idx.DocURLs) {
			r.addf(path, "ref is out of range of doc_urls (%d)", len(idx.DocURLs))
		}
		info := store.DocInfo[ref]
		for _, f := range idx.Elastic.Fields {
			l, ok := info[f]
			if !ok {
				r.addf(path, "no length for field %q", f)
			} else if l < 0 {
				r.addf(path, "negative length %d for field %q", l, f)
			}
		}
		if store.Save {
			if _, ok := store.Docs[ref]; !ok {
				r.addf(path, "has no stored document")
			}
		}
	}
	for _, ref := range sortedKeys(store.Docs) {
		path := "index.documentStore.docs." + ref
		if _, ok := store.DocInfo[ref]; !ok {
			r.addf(path, "has no docInfo entry")
		}
		if refField := idx.Elastic.Ref; refField != "" {
			if got, ok := store.Docs[ref][refField]; ok && got != ref {
				r.addf(path, "%s is %q", refField, got)
			}
		}
	}
}

func checkOptions(r *Report, idx *searchindex.Index) {
	if idx.ResultsOptions.LimitResults <= 0 {
		r.addf("results_options.limit_results", "must be positive, got %d", idx.ResultsOptions.LimitResults)
	}
	if idx.ResultsOptions.TeaserWordCount <= 0 {
		r.addf("results_options.teaser_word_count", "must be positive, got %d", idx.ResultsOptions.TeaserWordCount)
	}
	switch idx.SearchOptions.Bool {
	case "OR", "AND":
	default:
		r.addf("search_options.bool", "must be OR or AND, got %q", idx.SearchOptions.Bool)
	}
	declared := make(map[string]bool, len(idx.Elastic.Fields))
	for _, f := range idx.Elastic.Fields {
		declared[f] = true
	}
	for _, name := range sortedKeys(idx.SearchOptions.Fields) {
		if !declared[name] {
			r.addf("search_options.fields."+name, "is not a declared field")
		}
		if b := idx.SearchOptions.Fields[name].Boost; b < 0 {
			r.addf("search_options.fields."+name, "negative boost %v", b)
		}
	}
}

func checkTrie(r *Report, idx *searchindex.Index, field string, root *searchindex.Node) int {
	tokens := 0
	docInfo := idx.Elastic.DocumentStore.DocInfo
	root.Walk(func(token string, n *searchindex.Node) {
		tokens++
		path := "index.index." + field + "." + token
		if n.DF != len(n.Docs) {
			r.addf(path, "df is %d but %d documents are listed", n.DF, len(n.Docs))
		}
		for _, ref := range sortedKeys(n.Docs) {
			if _, ok := docInfo[ref]; !ok {
				r.addf(path, "references unknown document %q", ref)
			}
			if tf := n.Docs[ref]; tf <= 0 {
				r.addf(path, "non-positive tf %v for document %q", tf, ref)
			}
		}
	})
	checkEmptyNodes(r, field, "", root)
	return tokens
}

// checkEmptyNodes flags nodes without postings that claim a document
// frequency.
func checkEmptyNodes(r *Report, field, prefix string, n *searchindex.Node) {
	if len(n.Docs) == 0 && n.DF != 0 {
		r.addf("index.index."+field+"."+prefix, "df is %d on a node without documents", n.DF)
	}
	for c, child := range n.Children {
		checkEmptyNodes(r, field, prefix+string(c), child)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
