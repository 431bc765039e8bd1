// Package handler exposes the live search index over HTTP: ranked search
// with teasers, document lookup, index statistics and validation, reload, the
// raw index artifact for browser-side search, and query cache controls.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mrhatman/booksearch/internal/analytics"
	"github.com/mrhatman/booksearch/internal/catalog"
	"github.com/mrhatman/booksearch/internal/searcher/cache"
	"github.com/mrhatman/booksearch/internal/searcher/executor"
	"github.com/mrhatman/booksearch/internal/searcher/parser"
	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/internal/validate"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
	"github.com/mrhatman/booksearch/pkg/logger"
	"github.com/mrhatman/booksearch/pkg/metrics"
	"github.com/mrhatman/booksearch/pkg/tracing"
)

// Catalog is satisfied by *catalog.Catalog.
type Catalog interface {
	Current() (*catalog.Entry, error)
	Reload(ctx context.Context) (*catalog.Entry, error)
}

type Handler struct {
	catalog   Catalog
	executor  *executor.Executor
	cache     *cache.QueryCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New wires a handler. queryCache, collector and m may be nil.
func New(cat Catalog, exec *executor.Executor, queryCache *cache.QueryCache, collector *analytics.Collector, m *metrics.Metrics) *Handler {
	return &Handler{
		catalog:   cat,
		executor:  exec,
		cache:     queryCache,
		collector: collector,
		metrics:   m,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/docs/{ref}", h.Document)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/index/validate", h.Validate)
	mux.HandleFunc("POST /api/v1/index/reload", h.Reload)
	mux.HandleFunc("GET /searchindex.json", h.Artifact(searchindex.FormatJSON))
	mux.HandleFunc("GET /searchindex.js", h.Artifact(searchindex.FormatJS))
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "search", logger.RequestID(r.Context()))
	defer span.End()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	requested := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		requested = parsed
	}

	entry, err := h.catalog.Current()
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	plan := parser.Parse(query, entry.Pipeline)
	limit := h.executor.Limit(entry, requested)
	span.SetAttr("query", query)
	span.SetAttr("fingerprint", entry.Fingerprint)

	var result *executor.SearchResult
	cacheHit := false
	compute := func() (*executor.SearchResult, error) {
		return h.executor.Execute(ctx, entry, plan, limit)
	}
	if h.cache != nil && !plan.Empty() {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, entry.Fingerprint, plan, limit, compute)
	} else {
		result, err = compute()
	}
	if err != nil {
		log.Error("search execution failed", "query", query, "error", err)
		h.track(ctx, analytics.SearchEvent{Type: analytics.EventError, Query: query}, "error", start)
		h.writeAppError(w, err)
		return
	}

	// Cached results are shared between callers.
	out := *result
	out.Cached = cacheHit
	span.SetAttr("cache_hit", cacheHit)

	latency := time.Since(start)
	log.Info("search completed",
		"query", query,
		"total_hits", out.TotalHits,
		"returned", len(out.Hits),
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)

	eventType, resultType := analytics.EventSearch, "hit"
	if out.TotalHits == 0 {
		eventType, resultType = analytics.EventZeroResult, "zero_result"
	}
	h.track(ctx, analytics.SearchEvent{
		Type:        eventType,
		Query:       query,
		Terms:       plan.Terms,
		Bool:        out.Bool,
		Fingerprint: entry.Fingerprint,
		TotalHits:   out.TotalHits,
		Returned:    len(out.Hits),
		CacheHit:    cacheHit,
	}, resultType, start)
	if h.metrics != nil {
		status := "miss"
		if cacheHit {
			status = "hit"
		}
		h.metrics.SearchLatency.WithLabelValues(status).Observe(latency.Seconds())
		h.metrics.SearchResultsCount.Observe(float64(len(out.Hits)))
	}

	h.writeJSON(w, http.StatusOK, &out)
}

func (h *Handler) track(ctx context.Context, ev analytics.SearchEvent, resultType string, start time.Time) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
	if h.collector == nil {
		return
	}
	ev.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	ev.Timestamp = time.Now().UTC()
	ev.RequestID = logger.RequestID(ctx)
	h.collector.Track(ev)
}

func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	entry, err := h.catalog.Current()
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	doc, err := entry.Index.Document(r.PathValue("ref"))
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

type indexInfo struct {
	Fingerprint string            `json:"fingerprint"`
	Origin      string            `json:"origin"`
	Source      string            `json:"source"`
	LoadedAt    time.Time         `json:"loaded_at"`
	Stats       searchindex.Stats `json:"stats"`
}

func info(e *catalog.Entry) indexInfo {
	return indexInfo{
		Fingerprint: e.Fingerprint,
		Origin:      e.Origin,
		Source:      e.Source,
		LoadedAt:    e.LoadedAt,
		Stats:       e.Stats,
	}
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	entry, err := h.catalog.Current()
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info(entry))
}

// Validate re-checks the live index. With deep=true the tries are also
// rebuilt from the stored documents.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	entry, err := h.catalog.Current()
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	resp := struct {
		Fingerprint  string                 `json:"fingerprint"`
		Report       *validate.Report       `json:"report"`
		Verification *validate.Verification `json:"verification,omitempty"`
		VerifyError  string                 `json:"verify_error,omitempty"`
	}{
		Fingerprint: entry.Fingerprint,
		Report:      validate.Validate(entry.Index),
	}
	if deep, _ := strconv.ParseBool(r.URL.Query().Get("deep")); deep {
		v, err := validate.Verify(entry.Index)
		if err != nil {
			resp.VerifyError = err.Error()
		}
		resp.Verification = v
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	entry, err := h.catalog.Reload(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("index reload failed", "error", err)
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info(entry))
}

// Artifact serves the live index in format, so a static site can point its
// browser-side search at the service. The fingerprint doubles as ETag.
func (h *Handler) Artifact(format searchindex.Format) http.HandlerFunc {
	contentType := "application/json"
	if format == searchindex.FormatJS {
		contentType = "application/javascript"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := h.catalog.Current()
		if err != nil {
			h.writeAppError(w, err)
			return
		}
		etag := `"` + entry.Fingerprint + `"`
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		data, err := searchindex.Encode(entry.Index, format)
		if err != nil {
			h.writeAppError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

// CacheInvalidate drops cached results of every index, or only of the index
// named by ?fingerprint=.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context(), r.URL.Query().Get("fingerprint"))
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
}
