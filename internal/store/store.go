// Package store persists published search indexes as immutable snapshots
// keyed by content fingerprint. The latest snapshot is what a search service
// loads when it starts from a store instead of a file.
package store

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/pkg/config"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
	"github.com/mrhatman/booksearch/pkg/postgres"
)

// SnapshotInfo describes a stored snapshot without its payload.
type SnapshotInfo struct {
	Fingerprint string    `json:"fingerprint"`
	Version     string    `json:"version"`
	Documents   int       `json:"documents"`
	Source      string    `json:"source"`
	Size        int       `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// SnapshotStore is implemented by every backend.
type SnapshotStore interface {
	Save(ctx context.Context, idx *searchindex.Index, source string) (SnapshotInfo, error)
	Get(ctx context.Context, fingerprint string) (*searchindex.Index, SnapshotInfo, error)
	Latest(ctx context.Context) (*searchindex.Index, SnapshotInfo, error)
	List(ctx context.Context, limit int) ([]SnapshotInfo, error)
	Close() error
}

// Open returns the backend selected by cfg.Index.SnapshotBackend. It returns
// nil and no error when snapshots are disabled.
func Open(cfg *config.Config) (SnapshotStore, error) {
	switch cfg.Index.SnapshotBackend {
	case "", "none":
		return nil, nil
	case "bolt":
		return OpenBolt(cfg.Bolt)
	case "postgres":
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		s, err := NewPostgres(context.Background(), db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported snapshot backend %q", cfg.Index.SnapshotBackend)
}

// encode prepares the payload and metadata shared by all backends.
func encode(idx *searchindex.Index, source string) ([]byte, SnapshotInfo, error) {
	data, err := searchindex.Encode(idx, searchindex.FormatJSON)
	if err != nil {
		return nil, SnapshotInfo{}, err
	}
	return data, SnapshotInfo{
		Fingerprint: searchindex.FingerprintBytes(data),
		Version:     idx.Elastic.Version,
		Documents:   idx.DocCount(),
		Source:      source,
		Size:        len(data),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func decode(data []byte, fingerprint string) (*searchindex.Index, error) {
	idx, err := searchindex.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", fingerprint, err)
	}
	return idx, nil
}

func notFound(fingerprint string) error {
	if fingerprint == "" {
		return apperrors.New(apperrors.ErrSnapshotNotFound, http.StatusNotFound, "no snapshot has been published")
	}
	return apperrors.Newf(apperrors.ErrSnapshotNotFound, http.StatusNotFound, "fingerprint %s", fingerprint)
}
