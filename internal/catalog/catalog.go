// Package catalog holds the search index the service is currently answering
// from. Readers call Current and never block; loads are validated first and
// swapped in atomically, so a bad file or snapshot leaves the previous index
// serving.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrhatman/booksearch/internal/pipeline"
	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/internal/store"
	"github.com/mrhatman/booksearch/internal/validate"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
	"github.com/mrhatman/booksearch/pkg/metrics"
)

const (
	OriginFile     = "file"
	OriginSnapshot = "snapshot"
)

// Entry is one loaded index with everything derived from it.
type Entry struct {
	Index       *searchindex.Index
	Fingerprint string
	Origin      string
	Source      string
	LoadedAt    time.Time
	Pipeline    *pipeline.Pipeline
	Stats       searchindex.Stats
}

// SwapHook runs after a new entry is installed. prev is nil on first load.
type SwapHook func(prev, next *Entry)

type Options struct {
	// Path is the index file LoadFile and Watch use by default.
	Path string

	// Origin is OriginFile or OriginSnapshot; Reload loads from it.
	Origin string

	Store   store.SnapshotStore
	Metrics *metrics.Metrics
}

type Catalog struct {
	opts    Options
	current atomic.Pointer[Entry]
	loadMu  sync.Mutex
	hooksMu sync.RWMutex
	hooks   []SwapHook
	logger  *slog.Logger
}

func New(opts Options) *Catalog {
	if opts.Origin == "" {
		opts.Origin = OriginFile
	}
	return &Catalog{
		opts:   opts,
		logger: slog.Default().With("component", "catalog"),
	}
}

// Current returns the live entry.
func (c *Catalog) Current() (*Entry, error) {
	e := c.current.Load()
	if e == nil {
		return nil, apperrors.New(apperrors.ErrIndexNotLoaded, http.StatusServiceUnavailable, "no search index has been loaded")
	}
	return e, nil
}

// OnSwap registers fn to run after every successful swap.
func (c *Catalog) OnSwap(fn SwapHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Swap validates idx and makes it current. Swapping in an index with the same
// fingerprint as the live one is a no-op that returns the live entry.
func (c *Catalog) Swap(idx *searchindex.Index, origin, source string) (*Entry, error) {
	c.loadMu.Lock()
	prev, next, changed, err := c.swapLocked(idx, origin, source)
	c.loadMu.Unlock()
	if err != nil {
		return nil, err
	}
	if changed {
		c.swapped(prev, next)
	}
	return next, nil
}

// swapLocked installs idx. Loads hold loadMu from reading their source until
// here, so the load that started last is the one left current.
func (c *Catalog) swapLocked(idx *searchindex.Index, origin, source string) (prev, next *Entry, changed bool, err error) {
	if report := validate.Validate(idx); !report.OK() {
		return nil, nil, false, fmt.Errorf("refusing to load %s: %w", source, report)
	}
	p, err := pipeline.New(idx.Elastic.Pipeline...)
	if err != nil {
		return nil, nil, false, fmt.Errorf("building query pipeline: %w", err)
	}
	fp, err := searchindex.Fingerprint(idx)
	if err != nil {
		return nil, nil, false, err
	}

	prev = c.current.Load()
	if prev != nil && prev.Fingerprint == fp {
		c.logger.Debug("index unchanged", "fingerprint", fp, "source", source)
		return prev, prev, false, nil
	}
	next = &Entry{
		Index:       idx,
		Fingerprint: fp,
		Origin:      origin,
		Source:      source,
		LoadedAt:    time.Now().UTC(),
		Pipeline:    p,
		Stats:       searchindex.ComputeStats(idx),
	}
	c.current.Store(next)
	c.record(next)
	return prev, next, true, nil
}

// swapped logs and runs hooks after next replaced prev, which is nil on the
// first load.
func (c *Catalog) swapped(prev, next *Entry) {
	c.logger.Info("index loaded",
		"fingerprint", next.Fingerprint,
		"origin", next.Origin,
		"source", next.Source,
		"documents", next.Stats.Documents,
	)

	c.hooksMu.RLock()
	hooks := append([]SwapHook(nil), c.hooks...)
	c.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(prev, next)
	}
}

// LoadFile reads and swaps in an index file. An empty path uses Options.Path.
func (c *Catalog) LoadFile(path string) (*Entry, error) {
	if path == "" {
		path = c.opts.Path
	}
	c.loadMu.Lock()
	prev, next, changed, err := c.loadFileLocked(path)
	c.loadMu.Unlock()
	if err != nil {
		c.count(OriginFile, "error")
		return nil, err
	}
	c.count(OriginFile, "ok")
	if changed {
		c.swapped(prev, next)
	}
	return next, nil
}

func (c *Catalog) loadFileLocked(path string) (prev, next *Entry, changed bool, err error) {
	idx, err := searchindex.Load(path)
	if err != nil {
		return nil, nil, false, err
	}
	return c.swapLocked(idx, OriginFile, path)
}

// LoadSnapshot swaps in a stored snapshot. An empty fingerprint loads the
// latest one.
func (c *Catalog) LoadSnapshot(ctx context.Context, fingerprint string) (*Entry, error) {
	if c.opts.Store == nil {
		return nil, apperrors.New(apperrors.ErrSnapshotNotFound, http.StatusServiceUnavailable, "no snapshot store configured")
	}
	c.loadMu.Lock()
	prev, next, changed, err := c.loadSnapshotLocked(ctx, fingerprint)
	c.loadMu.Unlock()
	if err != nil {
		c.count(OriginSnapshot, "error")
		return nil, err
	}
	c.count(OriginSnapshot, "ok")
	if changed {
		c.swapped(prev, next)
	}
	return next, nil
}

func (c *Catalog) loadSnapshotLocked(ctx context.Context, fingerprint string) (prev, next *Entry, changed bool, err error) {
	var (
		idx  *searchindex.Index
		info store.SnapshotInfo
	)
	if fingerprint == "" {
		idx, info, err = c.opts.Store.Latest(ctx)
	} else {
		idx, info, err = c.opts.Store.Get(ctx, fingerprint)
	}
	if err != nil {
		return nil, nil, false, err
	}
	return c.swapLocked(idx, OriginSnapshot, "snapshot:"+info.Fingerprint)
}

// Reload loads again from the configured origin.
func (c *Catalog) Reload(ctx context.Context) (*Entry, error) {
	if c.opts.Origin == OriginSnapshot {
		return c.LoadSnapshot(ctx, "")
	}
	return c.LoadFile("")
}

func (c *Catalog) count(origin, status string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.IndexReloadsTotal.WithLabelValues(origin, status).Inc()
	}
}

func (c *Catalog) record(e *Entry) {
	m := c.opts.Metrics
	if m == nil {
		return
	}
	m.IndexDocuments.Set(float64(e.Stats.Documents))
	m.IndexLoadedTimestamp.Set(float64(e.LoadedAt.Unix()))
	for _, f := range e.Stats.Fields {
		m.IndexTokens.WithLabelValues(f.Field).Set(float64(f.Tokens))
	}
}
