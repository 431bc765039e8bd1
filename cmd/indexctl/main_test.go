package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrhatman/booksearch/internal/searcher/executor"
	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/internal/store"
	"github.com/mrhatman/booksearch/internal/validate"
)

const fixturePath = "../../internal/searchindex/testdata/searchindex.js"

// run executes indexctl with args. Flag variables are package globals, so
// they are reset first.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel = "", "error"
	outputJSON, queryLimit, convertTo, convertForce = false, 0, "", false
	buildOutput, buildBook, buildPerField, buildKeepConfig = "searchindex.js", "", false, false
	publishNoEvent, snapshotsLimit, snapshotsJSON = false, 20, false

	var out, stderr bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate", fixturePath)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok (2 documents") {
		t.Errorf("output = %q", out)
	}

	broken := filepath.Join(t.TempDir(), "broken.json")
	idx, err := searchindex.Load(fixturePath)
	if err != nil {
		t.Fatal(err)
	}
	idx.DocURLs = idx.DocURLs[:1]
	if err := searchindex.WriteFile(broken, idx, searchindex.FormatJSON); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "validate", broken); err == nil {
		t.Error("inconsistent index passed validation")
	}
}

func TestVerifyCommand(t *testing.T) {
	out, err := run(t, "verify", fixturePath)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "reproduced ("+validate.ModeAccumulate+")") {
		t.Errorf("output = %q", out)
	}
}

func TestStatsCommand(t *testing.T) {
	out, err := run(t, "stats", fixturePath, "--json")
	if err != nil {
		t.Fatal(err)
	}
	var st searchindex.Stats
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if st.Documents != 2 || len(st.Fields) != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestQueryCommand(t *testing.T) {
	out, err := run(t, "query", fixturePath, "snake", "--json", "--limit", "1")
	if err != nil {
		t.Fatal(err)
	}
	var res executor.SearchResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.TotalHits != 2 || len(res.Hits) != 1 || res.Hits[0].Ref != "1" {
		t.Errorf("result = %+v", res)
	}

	out, err = run(t, "query", fixturePath, "snake")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, `2 result(s) for "snake" (OR)`) || !strings.Contains(out, "1. Core Game") {
		t.Errorf("output = %q", out)
	}
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "searchindex.json")
	if _, err := run(t, "convert", fixturePath, out); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte(`{"doc_urls":`)) {
		t.Errorf("converted file starts with %.20s", data)
	}

	if _, err := run(t, "convert", fixturePath, out); err == nil {
		t.Error("existing output overwritten without --force")
	}
	back := filepath.Join(dir, "back.js")
	if _, err := run(t, "convert", out, back); err != nil {
		t.Fatal(err)
	}
	original, _ := os.ReadFile(fixturePath)
	roundTrip, _ := os.ReadFile(back)
	if !bytes.Equal(bytes.TrimSpace(original), roundTrip) {
		t.Error("js -> json -> js changed the index")
	}
}

func TestBuildCommand(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "book.yaml")
	err := os.WriteFile(manifest, []byte(`documents:
  - url: intro.html#introduction
    title: Introduction
    breadcrumbs: Introduction
    body: A tutorial about building a snake game.
  - url: snake.html#snake
    title: Snake
    breadcrumbs: Game » Snake
    bodyFile: snake.txt
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "snake.txt"), []byte("The snake grows when it eats food."), 0o644); err != nil {
		t.Fatal(err)
	}

	output := filepath.Join(dir, "book", "searchindex.js")
	out, err := run(t, "build", manifest, "-o", output)
	if err != nil {
		t.Fatalf("build: %v\n%s", err, out)
	}
	idx, err := searchindex.Load(output)
	if err != nil {
		t.Fatal(err)
	}
	if idx.DocCount() != 2 || idx.DocURLs[1] != "snake.html#snake" {
		t.Errorf("built index: %d docs, urls %v", idx.DocCount(), idx.DocURLs)
	}
	if err := validate.Validate(idx).Err(); err != nil {
		t.Error(err)
	}

	if _, err := run(t, "build"); err == nil {
		t.Error("build without a source succeeded")
	}
}

func TestPublishAndSnapshots(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "index:\n  snapshotBackend: bolt\nbolt:\n  path: " + filepath.Join(dir, "snapshots.db") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "publish", fixturePath, "--config", cfgPath)
	if err != nil {
		t.Fatalf("publish: %v\n%s", err, out)
	}
	idx, err := searchindex.Load(fixturePath)
	if err != nil {
		t.Fatal(err)
	}
	fp, err := searchindex.Fingerprint(idx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "stored snapshot "+fp) {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, "snapshots", "--config", cfgPath, "--json")
	if err != nil {
		t.Fatal(err)
	}
	var list []store.SnapshotInfo
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(list) != 1 || list[0].Fingerprint != fp || list[0].Documents != 2 {
		t.Errorf("snapshots = %+v", list)
	}

	if _, err := run(t, "snapshots"); err == nil {
		t.Error("snapshots without a configured store succeeded")
	}
}
