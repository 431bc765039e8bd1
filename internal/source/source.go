// Package source loads the ordered documents an index is built from. A
// source can be a YAML or JSON manifest, the document store of an existing
// index, or the book_sections table in PostgreSQL.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mrhatman/booksearch/internal/searchindex"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
)

// Source yields documents in index order.
type Source interface {
	Documents(ctx context.Context) ([]searchindex.Document, error)
}

// Manifest is the on-disk description of a book's sections.
type Manifest struct {
	Documents []ManifestEntry `yaml:"documents" json:"documents"`
}

// ManifestEntry describes one section. Body and BodyFile are exclusive;
// BodyFile is resolved relative to the manifest.
type ManifestEntry struct {
	URL         string            `yaml:"url" json:"url"`
	Title       string            `yaml:"title" json:"title"`
	Breadcrumbs string            `yaml:"breadcrumbs" json:"breadcrumbs"`
	Body        string            `yaml:"body" json:"body"`
	BodyFile    string            `yaml:"bodyFile" json:"bodyFile"`
	Extra       map[string]string `yaml:"extra" json:"extra"`
}

// ManifestFile reads a manifest from disk.
type ManifestFile struct {
	Path string
}

func (m ManifestFile) Documents(_ context.Context) ([]searchindex.Document, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", m.Path, err)
	}
	var manifest Manifest
	switch strings.ToLower(filepath.Ext(m.Path)) {
	case ".json":
		err = json.Unmarshal(data, &manifest)
	default:
		err = yaml.Unmarshal(data, &manifest)
	}
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "parsing manifest %s: %v", m.Path, err)
	}
	return manifest.resolve(filepath.Dir(m.Path))
}

func (m Manifest) resolve(dir string) ([]searchindex.Document, error) {
	docs := make([]searchindex.Document, 0, len(m.Documents))
	for i, e := range m.Documents {
		if e.URL == "" {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "document %d: url is required", i)
		}
		body := e.Body
		if e.BodyFile != "" {
			if e.Body != "" {
				return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "document %d: body and bodyFile are exclusive", i)
			}
			path := e.BodyFile
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("document %d: reading body: %w", i, err)
			}
			body = string(data)
		}
		docs = append(docs, searchindex.Document{
			URL:         e.URL,
			Title:       e.Title,
			Breadcrumbs: e.Breadcrumbs,
			Body:        body,
			Extra:       e.Extra,
		})
	}
	return docs, nil
}

// IndexFile re-reads the stored documents of an existing index.
type IndexFile struct {
	Path string
}

func (s IndexFile) Documents(_ context.Context) ([]searchindex.Document, error) {
	idx, err := searchindex.Load(s.Path)
	if err != nil {
		return nil, err
	}
	return FromIndex(idx)
}

// FromIndex returns the documents held in an index's store.
func FromIndex(idx *searchindex.Index) ([]searchindex.Document, error) {
	if !idx.Elastic.DocumentStore.Save {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "index does not store documents")
	}
	return idx.Documents(), nil
}

// Open picks a file source from the path: .js indexes and files named
// searchindex.json are read as indexes, anything else as a manifest.
func Open(path string) Source {
	base := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(base, ".js") || base == "searchindex.json" {
		return IndexFile{Path: path}
	}
	return ManifestFile{Path: path}
}
