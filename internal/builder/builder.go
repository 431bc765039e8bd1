// Package builder regenerates a search index from an ordered list of
// documents. The output has the same layout as a generated book index:
// refs "0".."n-1" in input order, per-field token counts in the document
// store and one token trie per field whose postings carry sqrt(count).
package builder

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/mrhatman/booksearch/internal/pipeline"
	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/pkg/config"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
)

// Field is an indexed field and its query boost.
type Field struct {
	Name  string
	Boost float64
}

// Options describes the index to produce.
type Options struct {
	Fields          []Field
	Pipeline        []string
	Bool            string
	Expand          bool
	LimitResults    int
	TeaserWordCount int
	Ref             string
	Version         string

	// AccumulateFields carries a document's term counts from each field into
	// the fields after it, which is what mdBook's generator does.
	AccumulateFields bool

	// SkipStore leaves the raw field text out of the document store.
	SkipStore bool
}

// DefaultOptions matches config.Default().Build.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Build)
}

// OptionsFromConfig converts the build section of the configuration.
func OptionsFromConfig(cfg config.BuildConfig) Options {
	opts := Options{
		Pipeline:         append([]string(nil), cfg.Pipeline...),
		Bool:             strings.ToUpper(cfg.Bool),
		Expand:           cfg.Expand,
		LimitResults:     cfg.LimitResults,
		TeaserWordCount:  cfg.TeaserWordCount,
		Ref:              cfg.Ref,
		Version:          cfg.Version,
		AccumulateFields: cfg.AccumulateFields,
	}
	for _, f := range cfg.Fields {
		opts.Fields = append(opts.Fields, Field{Name: f.Name, Boost: f.Boost})
	}
	return opts
}

// OptionsFromIndex recovers the options an existing index was built with.
// Whether it accumulated counts across fields cannot be read from the file;
// see validate.Verify.
func OptionsFromIndex(idx *searchindex.Index, accumulate bool) Options {
	opts := Options{
		Pipeline:         append([]string(nil), idx.Elastic.Pipeline...),
		Bool:             idx.SearchOptions.Bool,
		Expand:           idx.SearchOptions.Expand,
		LimitResults:     idx.ResultsOptions.LimitResults,
		TeaserWordCount:  idx.ResultsOptions.TeaserWordCount,
		Ref:              idx.Elastic.Ref,
		Version:          idx.Elastic.Version,
		AccumulateFields: accumulate,
		SkipStore:        !idx.Elastic.DocumentStore.Save,
	}
	for _, name := range idx.Elastic.Fields {
		opts.Fields = append(opts.Fields, Field{Name: name, Boost: idx.Boost(name)})
	}
	return opts
}

func (o Options) fieldNames() []string {
	names := make([]string, len(o.Fields))
	for i, f := range o.Fields {
		names[i] = f.Name
	}
	return names
}

// Builder accumulates documents into an index. It is not safe for
// concurrent use.
type Builder struct {
	opts     Options
	pipeline *pipeline.Pipeline
	idx      *searchindex.Index
	logger   *slog.Logger
}

// New validates opts and returns an empty builder.
func New(opts Options) (*Builder, error) {
	if len(opts.Fields) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "at least one field is required")
	}
	seen := make(map[string]struct{}, len(opts.Fields))
	for _, f := range opts.Fields {
		if f.Name == "" {
			return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "field name is required")
		}
		if _, dup := seen[f.Name]; dup {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	p, err := pipeline.New(opts.Pipeline...)
	if err != nil {
		return nil, fmt.Errorf("building pipeline: %w", err)
	}
	if opts.Bool == "" {
		opts.Bool = "OR"
	}
	if opts.Ref == "" {
		opts.Ref = "id"
	}

	idx := searchindex.New(opts.fieldNames())
	idx.Elastic.Pipeline = p.Names()
	idx.Elastic.Ref = opts.Ref
	idx.Elastic.Version = opts.Version
	idx.Elastic.DocumentStore.Save = !opts.SkipStore
	idx.ResultsOptions = searchindex.ResultsOptions{
		LimitResults:    opts.LimitResults,
		TeaserWordCount: opts.TeaserWordCount,
	}
	idx.SearchOptions.Bool = opts.Bool
	idx.SearchOptions.Expand = opts.Expand
	for _, f := range opts.Fields {
		idx.SearchOptions.Fields[f.Name] = searchindex.FieldOptions{Boost: f.Boost}
	}

	return &Builder{
		opts:     opts,
		pipeline: p,
		idx:      idx,
		logger:   slog.Default().With("component", "builder"),
	}, nil
}

// Add indexes one document and returns its ref.
func (b *Builder) Add(doc searchindex.Document) string {
	texts := make(map[string]string, len(b.opts.Fields))
	lengths := make(map[string]int, len(b.opts.Fields))
	tokens := make([][]string, len(b.opts.Fields))
	for i, f := range b.opts.Fields {
		text := fieldText(doc, f.Name)
		texts[f.Name] = text
		tokens[i] = b.pipeline.Run(text)
		lengths[f.Name] = len(tokens[i])
	}
	ref := b.idx.AddDocument(doc.URL, texts, lengths)

	counts := make(map[string]int)
	for i, f := range b.opts.Fields {
		if !b.opts.AccumulateFields {
			counts = make(map[string]int, len(tokens[i]))
		}
		for _, tok := range tokens[i] {
			counts[tok]++
		}
		root := b.idx.Field(f.Name).Root
		for tok, n := range counts {
			root.Insert(tok, ref, math.Sqrt(float64(n)))
		}
	}

	b.logger.Debug("document indexed",
		"ref", ref,
		"url", doc.URL,
		"lengths", lengths,
	)
	return ref
}

// Index returns the index built so far. The builder keeps ownership; call it
// once after the last Add.
func (b *Builder) Index() *searchindex.Index {
	return b.idx
}

// Build indexes docs in order.
func Build(docs []searchindex.Document, opts Options) (*searchindex.Index, error) {
	b, err := New(opts)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		b.Add(d)
	}
	b.logger.Info("index built",
		"documents", len(docs),
		"fields", len(opts.Fields),
		"accumulate", opts.AccumulateFields,
	)
	return b.Index(), nil
}

func fieldText(doc searchindex.Document, name string) string {
	switch name {
	case "title":
		return doc.Title
	case "body":
		return doc.Body
	case "breadcrumbs":
		return doc.Breadcrumbs
	}
	return doc.Extra[name]
}
