package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrhatman/booksearch/internal/searchindex"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManifestYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "intro.txt", "The goal of this tutorial series")
	path := writeFile(t, dir, "book.yaml", `documents:
  - url: intro.html#introduction
    title: Introduction
    breadcrumbs: Introduction
    bodyFile: intro.txt
  - url: core_game.html#core-game
    title: Core Game
    breadcrumbs: Core Game
    body: screenshot
    extra:
      tags: snake
`)
	docs, err := Open(path).Documents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents", len(docs))
	}
	if docs[0].Body != "The goal of this tutorial series" || docs[0].URL != "intro.html#introduction" {
		t.Errorf("doc 0 = %+v", docs[0])
	}
	if docs[1].Extra["tags"] != "snake" {
		t.Errorf("doc 1 extra = %v", docs[1].Extra)
	}
}

func TestManifestJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "book.json", `{"documents":[{"url":"a.html","title":"A","body":"alpha"}]}`)
	docs, err := ManifestFile{Path: path}.Documents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Title != "A" || docs[0].Body != "alpha" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing url", "documents:\n  - title: A\n"},
		{"body and file", "documents:\n  - url: a.html\n    body: x\n    bodyFile: y.txt\n"},
		{"bad yaml", "documents: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "book.yaml", tt.content)
			_, err := ManifestFile{Path: path}.Documents(context.Background())
			if !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestIndexFile(t *testing.T) {
	src := Open("../searchindex/testdata/searchindex.js")
	if _, ok := src.(IndexFile); !ok {
		t.Fatalf("Open picked %T", src)
	}
	docs, err := src.Documents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[1].Title != "Core Game" || docs[0].URL != "intro.html#introduction" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestFromIndexWithoutStore(t *testing.T) {
	idx := searchindex.New([]string{"title"})
	idx.Elastic.DocumentStore.Save = false
	if _, err := FromIndex(idx); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}

type fakeRows struct {
	rows [][]string
	i    int
}

func (f *fakeRows) Next() bool { f.i++; return f.i <= len(f.rows) }

func (f *fakeRows) Scan(dest ...any) error {
	for j, d := range dest {
		*d.(*string) = f.rows[f.i-1][j]
	}
	return nil
}

func (f *fakeRows) Err() error { return nil }

func TestScanSections(t *testing.T) {
	docs, err := scanSections(&fakeRows{rows: [][]string{
		{"a.html", "A", "Book » A", "alpha"},
		{"b.html", "B", "Book » B", "beta"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[1].Breadcrumbs != "Book » B" || docs[0].Body != "alpha" {
		t.Errorf("docs = %+v", docs)
	}
}
