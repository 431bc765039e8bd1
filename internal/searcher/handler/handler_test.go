package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mrhatman/booksearch/internal/catalog"
	"github.com/mrhatman/booksearch/internal/searcher/cache"
	"github.com/mrhatman/booksearch/internal/searcher/executor"
	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/pkg/config"
)

const fixturePath = "../../searchindex/testdata/searchindex.js"

func newServer(t *testing.T, load bool, withCache bool) (*http.ServeMux, *catalog.Catalog) {
	t.Helper()
	cat := catalog.New(catalog.Options{Path: fixturePath, Origin: catalog.OriginFile})
	if load {
		if _, err := cat.LoadFile(""); err != nil {
			t.Fatal(err)
		}
	}
	var qc *cache.QueryCache
	if withCache {
		local, err := cache.NewLocal(128)
		if err != nil {
			t.Fatal(err)
		}
		qc = cache.New(local, time.Minute, nil)
	}
	h := New(cat, executor.New(config.SearchConfig{MaxResults: 100, QueryTimeout: time.Second}), qc, nil, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux, cat
}

func do(mux *http.ServeMux, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSearch(t *testing.T) {
	mux, _ := newServer(t, true, true)

	rec := do(mux, http.MethodGet, "/api/v1/search?q=snake", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var res executor.SearchResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.TotalHits != 2 || len(res.Hits) != 2 || res.Hits[0].Ref != "1" {
		t.Errorf("result = %+v", res)
	}
	if res.Cached {
		t.Error("first query reported as cached")
	}
	if !strings.Contains(res.Hits[0].Teaser, "<em>snake</em>") {
		t.Errorf("teaser = %q", res.Hits[0].Teaser)
	}

	rec = do(mux, http.MethodGet, "/api/v1/search?q=snake", nil)
	res = executor.SearchResult{}
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Cached {
		t.Error("repeated query not served from cache")
	}

	rec = do(mux, http.MethodGet, "/api/v1/search?q=snake&limit=1", nil)
	res = executor.SearchResult{}
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.TotalHits != 2 || len(res.Hits) != 1 || res.Cached {
		t.Errorf("limited result = %+v", res)
	}
}

func TestSearchBadRequests(t *testing.T) {
	mux, _ := newServer(t, true, false)
	for _, target := range []string{
		"/api/v1/search",
		"/api/v1/search?q=snake&limit=0",
		"/api/v1/search?q=snake&limit=abc",
	} {
		if rec := do(mux, http.MethodGet, target, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
	}
}

func TestNotLoaded(t *testing.T) {
	mux, _ := newServer(t, false, false)
	for _, target := range []string{"/api/v1/search?q=snake", "/api/v1/index/stats", "/searchindex.json"} {
		if rec := do(mux, http.MethodGet, target, nil); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
	}
}

func TestDocument(t *testing.T) {
	mux, _ := newServer(t, true, false)

	rec := do(mux, http.MethodGet, "/api/v1/docs/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc searchindex.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.URL != "core_game.html#core-game" || doc.Title != "Core Game" {
		t.Errorf("doc = %+v", doc)
	}

	if rec := do(mux, http.MethodGet, "/api/v1/docs/7", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing ref: status = %d", rec.Code)
	}
}

func TestIndexStatsAndValidate(t *testing.T) {
	mux, cat := newServer(t, true, false)
	entry, _ := cat.Current()

	rec := do(mux, http.MethodGet, "/api/v1/index/stats", nil)
	var info struct {
		Fingerprint string            `json:"fingerprint"`
		Origin      string            `json:"origin"`
		Stats       searchindex.Stats `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Fingerprint != entry.Fingerprint || info.Origin != catalog.OriginFile || info.Stats.Documents != 2 {
		t.Errorf("info = %+v", info)
	}

	rec = do(mux, http.MethodGet, "/api/v1/index/validate?deep=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var v struct {
		Verification *struct {
			Verified bool `json:"verified"`
		} `json:"verification"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v.Verification == nil {
		t.Error("deep validation missing verification")
	}
}

func TestReload(t *testing.T) {
	mux, _ := newServer(t, false, false)
	rec := do(mux, http.MethodPost, "/api/v1/index/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if rec := do(mux, http.MethodGet, "/api/v1/index/stats", nil); rec.Code != http.StatusOK {
		t.Errorf("stats after reload: status = %d", rec.Code)
	}
}

func TestArtifact(t *testing.T) {
	mux, cat := newServer(t, true, false)
	entry, _ := cat.Current()

	rec := do(mux, http.MethodGet, "/searchindex.json", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("json: status = %d, type = %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	idx, err := searchindex.Parse(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if idx.DocCount() != 2 {
		t.Errorf("served index has %d docs", idx.DocCount())
	}
	etag := rec.Header().Get("ETag")
	if etag != `"`+entry.Fingerprint+`"` {
		t.Errorf("etag = %s", etag)
	}

	rec = do(mux, http.MethodGet, "/searchindex.js", nil)
	if !strings.HasPrefix(rec.Body.String(), "Object.assign(window.search, ") {
		t.Errorf("js body = %.40s", rec.Body.String())
	}

	rec = do(mux, http.MethodGet, "/searchindex.json", http.Header{"If-None-Match": {etag}})
	if rec.Code != http.StatusNotModified || rec.Body.Len() != 0 {
		t.Errorf("conditional: status = %d", rec.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	mux, _ := newServer(t, true, false)
	if rec := do(mux, http.MethodPost, "/api/v1/cache/invalidate", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("invalidate without cache: status = %d", rec.Code)
	}

	mux, _ = newServer(t, true, true)
	do(mux, http.MethodGet, "/api/v1/search?q=snake", nil)
	do(mux, http.MethodGet, "/api/v1/search?q=snake", nil)

	rec := do(mux, http.MethodGet, "/api/v1/cache/stats", nil)
	var stats cache.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v", stats)
	}

	rec = do(mux, http.MethodPost, "/api/v1/cache/invalidate", nil)
	var body struct {
		KeysDeleted int64 `json:"keys_deleted"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.KeysDeleted != 1 {
		t.Errorf("keys_deleted = %d", body.KeysDeleted)
	}
}

func TestReloadUsesContext(t *testing.T) {
	cat := catalog.New(catalog.Options{Path: "missing.json", Origin: catalog.OriginFile})
	if _, err := cat.Reload(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	h := New(cat, executor.New(config.SearchConfig{}), nil, nil, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	if rec := do(mux, http.MethodPost, "/api/v1/index/reload", nil); rec.Code < 400 {
		t.Errorf("status = %d", rec.Code)
	}
}
