// Package searchindex models the static full-text search index a book
// generator writes next to its HTML output: a document store, one
// character trie per indexed field, and the configuration blocks a search UI
// reads (result limits, teaser size, field boosts). The package parses the
// index from JSON or from its JavaScript wrapper, encodes it back byte for
// byte, and offers read-only lookups over the tries.
package searchindex

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"

	apperrors "github.com/mrhatman/booksearch/pkg/errors"
)

// Index is the whole artifact.
type Index struct {
	DocURLs        []string       `json:"doc_urls"`
	Elastic        Elastic        `json:"index"`
	ResultsOptions ResultsOptions `json:"results_options"`
	SearchOptions  SearchOptions  `json:"search_options"`
}

// Elastic is the serialized elasticlunr index.
type Elastic struct {
	DocumentStore DocumentStore          `json:"documentStore"`
	Fields        []string               `json:"fields"`
	Index         map[string]*FieldIndex `json:"index"`
	Pipeline      []string               `json:"pipeline"`
	Ref           string                 `json:"ref"`
	Version       string                 `json:"version"`
}

// DocumentStore keeps per-document field lengths and, when Save is set, the
// raw field text keyed by document ref.
type DocumentStore struct {
	DocInfo map[string]map[string]int    `json:"docInfo"`
	Docs    map[string]map[string]string `json:"docs"`
	Length  int                          `json:"length"`
	Save    bool                         `json:"save"`
}

// FieldIndex is the token trie of one field.
type FieldIndex struct {
	Root *Node `json:"root"`
}

// ResultsOptions controls how a search UI presents hits.
type ResultsOptions struct {
	LimitResults    int `json:"limit_results"`
	TeaserWordCount int `json:"teaser_word_count"`
}

// SearchOptions is the query configuration handed to the search UI.
type SearchOptions struct {
	Bool   string                  `json:"bool"`
	Expand bool                    `json:"expand"`
	Fields map[string]FieldOptions `json:"fields"`
}

// FieldOptions holds per-field query settings.
type FieldOptions struct {
	Boost float64 `json:"boost"`
}

// Document is a resolved entry of the document store.
type Document struct {
	Ref         string `json:"ref"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Breadcrumbs string `json:"breadcrumbs"`
	// Extra holds stored fields other than the three above.
	Extra map[string]string `json:"extra,omitempty"`
}

// New returns an empty index with every map and slice allocated.
func New(fields []string) *Index {
	idx := &Index{
		DocURLs: []string{},
		Elastic: Elastic{
			DocumentStore: DocumentStore{
				DocInfo: make(map[string]map[string]int),
				Docs:    make(map[string]map[string]string),
				Save:    true,
			},
			Fields:   append([]string(nil), fields...),
			Index:    make(map[string]*FieldIndex, len(fields)),
			Pipeline: []string{},
		},
		SearchOptions: SearchOptions{
			Bool:   "OR",
			Fields: make(map[string]FieldOptions, len(fields)),
		},
	}
	for _, f := range fields {
		idx.Elastic.Index[f] = &FieldIndex{Root: NewNode()}
	}
	return idx
}

// DocCount is the number of documents in the store.
func (idx *Index) DocCount() int {
	return idx.Elastic.DocumentStore.Length
}

// Field returns the trie of a field, or nil.
func (idx *Index) Field(name string) *FieldIndex {
	return idx.Elastic.Index[name]
}

// Boost returns the configured boost of a field, or 1 when search_options
// does not list it.
func (idx *Index) Boost(field string) float64 {
	if opts, ok := idx.SearchOptions.Fields[field]; ok {
		return opts.Boost
	}
	return 1
}

// FieldLength returns the token count of a field in a document.
func (idx *Index) FieldLength(ref, field string) int {
	return idx.Elastic.DocumentStore.DocInfo[ref][field]
}

// Refs returns all document refs, numeric refs in numeric order first.
func (idx *Index) Refs() []string {
	refs := make([]string, 0, len(idx.Elastic.DocumentStore.DocInfo))
	for ref := range idx.Elastic.DocumentStore.DocInfo {
		refs = append(refs, ref)
	}
	SortRefs(refs)
	return refs
}

// Documents resolves every ref in ref order.
func (idx *Index) Documents() []Document {
	refs := idx.Refs()
	out := make([]Document, 0, len(refs))
	for _, ref := range refs {
		doc, err := idx.Document(ref)
		if err != nil {
			continue
		}
		out = append(out, doc)
	}
	return out
}

// Document resolves a ref against the document store and doc_urls.
func (idx *Index) Document(ref string) (Document, error) {
	if _, ok := idx.Elastic.DocumentStore.DocInfo[ref]; !ok {
		return Document{}, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "ref %q", ref)
	}
	doc := Document{Ref: ref}
	if n, err := strconv.Atoi(ref); err == nil && n >= 0 && n < len(idx.DocURLs) {
		doc.URL = idx.DocURLs[n]
	}
	if stored, ok := idx.Elastic.DocumentStore.Docs[ref]; ok {
		doc.Title = stored["title"]
		doc.Body = stored["body"]
		doc.Breadcrumbs = stored["breadcrumbs"]
		for k, v := range stored {
			switch k {
			case "title", "body", "breadcrumbs", idx.Elastic.Ref:
				continue
			}
			if doc.Extra == nil {
				doc.Extra = make(map[string]string)
			}
			doc.Extra[k] = v
		}
	}
	return doc, nil
}

// AddDocument registers a document in the store and doc_urls. Token tries are
// filled separately. The ref is the document's position in doc_urls.
func (idx *Index) AddDocument(url string, fields map[string]string, lengths map[string]int) string {
	ref := strconv.Itoa(len(idx.DocURLs))
	idx.DocURLs = append(idx.DocURLs, url)
	store := &idx.Elastic.DocumentStore
	info := make(map[string]int, len(lengths))
	for k, v := range lengths {
		info[k] = v
	}
	store.DocInfo[ref] = info
	if store.Save {
		stored := make(map[string]string, len(fields)+1)
		for k, v := range fields {
			stored[k] = v
		}
		refField := idx.Elastic.Ref
		if refField == "" {
			refField = "id"
		}
		stored[refField] = ref
		store.Docs[ref] = stored
	}
	store.Length = len(store.DocInfo)
	return ref
}

// SortRefs orders refs numerically when they are integers and
// lexicographically otherwise.
func SortRefs(refs []string) {
	sort.Slice(refs, func(i, j int) bool {
		a, errA := strconv.Atoi(refs[i])
		b, errB := strconv.Atoi(refs[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return refs[i] < refs[j]
		}
	})
}

// normalize replaces nil collections so the encoder emits {} and [] instead
// of null.
func (idx *Index) normalize() {
	if idx.DocURLs == nil {
		idx.DocURLs = []string{}
	}
	e := &idx.Elastic
	if e.Fields == nil {
		e.Fields = []string{}
	}
	if e.Pipeline == nil {
		e.Pipeline = []string{}
	}
	if e.Index == nil {
		e.Index = make(map[string]*FieldIndex)
	}
	for name, fi := range e.Index {
		if fi == nil {
			e.Index[name] = &FieldIndex{Root: NewNode()}
		} else if fi.Root == nil {
			fi.Root = NewNode()
		}
	}
	if e.DocumentStore.DocInfo == nil {
		e.DocumentStore.DocInfo = make(map[string]map[string]int)
	}
	if e.DocumentStore.Docs == nil {
		e.DocumentStore.Docs = make(map[string]map[string]string)
	}
	if idx.SearchOptions.Fields == nil {
		idx.SearchOptions.Fields = make(map[string]FieldOptions)
	}
}

func (d Document) String() string {
	return fmt.Sprintf("%s %s (%s)", d.Ref, d.Title, d.URL)
}
