package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mrhatman/booksearch/internal/catalog"
	"github.com/mrhatman/booksearch/internal/searcher/parser"
	"github.com/mrhatman/booksearch/internal/searcher/ranker"
	"github.com/mrhatman/booksearch/internal/searcher/teaser"
	"github.com/mrhatman/booksearch/pkg/config"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
	"github.com/mrhatman/booksearch/pkg/resilience"
	"github.com/mrhatman/booksearch/pkg/tracing"
)

// Hit is one ranked document ready for display.
type Hit struct {
	Ref         string  `json:"ref"`
	Score       float64 `json:"score"`
	URL         string  `json:"url"`
	Title       string  `json:"title,omitempty"`
	Breadcrumbs string  `json:"breadcrumbs,omitempty"`
	Teaser      string  `json:"teaser,omitempty"`
}

type SearchResult struct {
	Query       string   `json:"query"`
	Fingerprint string   `json:"fingerprint"`
	Bool        string   `json:"bool"`
	Terms       []string `json:"terms"`
	Excluded    []string `json:"excluded,omitempty"`
	TotalHits   int      `json:"total_hits"`
	Hits        []Hit    `json:"hits"`
	TookMs      float64  `json:"took_ms"`
	Cached      bool     `json:"cached"`
}

type Executor struct {
	maxResults int
	timeout    time.Duration
	logger     *slog.Logger
}

func New(cfg config.SearchConfig) *Executor {
	return &Executor{
		maxResults: cfg.MaxResults,
		timeout:    cfg.QueryTimeout,
		logger:     slog.Default().With("component", "query-executor"),
	}
}

// Limit resolves a requested limit. Zero means the index's limit_results; the
// result is capped at the configured maximum.
func (e *Executor) Limit(entry *catalog.Entry, requested int) int {
	limit := requested
	if limit <= 0 {
		limit = entry.Index.ResultsOptions.LimitResults
	}
	if e.maxResults > 0 && limit > e.maxResults {
		limit = e.maxResults
	}
	return limit
}

// Execute ranks plan against entry, drops documents holding an excluded term
// and returns the first limit hits with teasers.
func (e *Executor) Execute(ctx context.Context, entry *catalog.Entry, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	start := time.Now()
	idx := entry.Index
	opts := ranker.OptionsFromIndex(idx)
	opts.Bool = plan.Bool(opts.Bool)

	result := &SearchResult{
		Query:       plan.RawQuery,
		Fingerprint: entry.Fingerprint,
		Bool:        opts.Bool,
		Terms:       plan.Terms,
		Excluded:    plan.ExcludeTerms,
		Hits:        []Hit{},
	}
	if result.Terms == nil {
		result.Terms = []string{}
	}
	if plan.Empty() {
		return result, nil
	}

	_, rankSpan := tracing.StartChildSpan(ctx, "rank")
	ranked, err := resilience.WithTimeout(ctx, e.timeout, "rank", func(ctx context.Context) ([]ranker.ScoredDoc, error) {
		return ranker.RankContext(ctx, idx, plan.Terms, opts)
	})
	rankSpan.End()
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, apperrors.Newf(apperrors.ErrTimeout, http.StatusGatewayTimeout, "query %q exceeded %v", plan.RawQuery, e.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("ranking %q: %w", plan.RawQuery, err)
	}
	rankSpan.SetAttr("candidates", len(ranked))

	ranked = exclude(entry, ranked, plan.ExcludeTerms)
	result.TotalHits = len(ranked)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	_, teaserSpan := tracing.StartChildSpan(ctx, "teasers")
	teaserSize := idx.ResultsOptions.TeaserWordCount
	for _, sd := range ranked {
		hit := Hit{Ref: sd.Ref, Score: sd.Score}
		if doc, err := idx.Document(sd.Ref); err == nil {
			hit.URL = doc.URL
			hit.Title = doc.Title
			hit.Breadcrumbs = doc.Breadcrumbs
			if doc.Body != "" {
				hit.Teaser = teaser.Make(doc.Body, plan.Words, teaserSize)
			}
		}
		result.Hits = append(result.Hits, hit)
	}
	teaserSpan.End()
	result.TookMs = float64(time.Since(start).Microseconds()) / 1000

	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"terms", plan.Terms,
		"bool", opts.Bool,
		"total_hits", result.TotalHits,
		"returned", len(result.Hits),
	)
	return result, nil
}

// exclude removes documents that hold any excluded term in any field.
func exclude(entry *catalog.Entry, ranked []ranker.ScoredDoc, terms []string) []ranker.ScoredDoc {
	if len(terms) == 0 {
		return ranked
	}
	excluded := make(map[string]struct{})
	for _, field := range entry.Index.Elastic.Fields {
		fi := entry.Index.Field(field)
		if fi == nil || fi.Root == nil {
			continue
		}
		for _, term := range terms {
			if n := fi.Root.Find(term); n != nil {
				for ref := range n.Docs {
					excluded[ref] = struct{}{}
				}
			}
		}
	}
	out := ranked[:0:0]
	for _, sd := range ranked {
		if _, ok := excluded[sd.Ref]; !ok {
			out = append(out, sd)
		}
	}
	return out
}
