package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/internal/source"
	"github.com/mrhatman/booksearch/pkg/postgres"
)

// SnapshotsSchema creates the snapshot table.
const SnapshotsSchema = `CREATE TABLE IF NOT EXISTS index_snapshots (
	fingerprint TEXT PRIMARY KEY,
	version     TEXT NOT NULL,
	documents   INTEGER NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL,
	data        BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres keeps snapshots in the index_snapshots table.
type Postgres struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewPostgres applies the schema and returns the store. The book_sections
// table used as a build source is created alongside.
func NewPostgres(ctx context.Context, db *postgres.Client) (*Postgres, error) {
	if err := db.Migrate(ctx, SnapshotsSchema, source.SectionsSchema); err != nil {
		return nil, err
	}
	return &Postgres{
		db:     db,
		logger: slog.Default().With("component", "postgres-store"),
	}, nil
}

// DB exposes the client so the same pool can serve book_sections.
func (s *Postgres) DB() *postgres.Client {
	return s.db
}

func (s *Postgres) Save(ctx context.Context, idx *searchindex.Index, src string) (SnapshotInfo, error) {
	data, info, err := encode(idx, src)
	if err != nil {
		return SnapshotInfo{}, err
	}
	err = s.db.DB.QueryRowContext(ctx,
		`INSERT INTO index_snapshots (fingerprint, version, documents, source, size, data)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (fingerprint) DO UPDATE SET source = EXCLUDED.source, created_at = now()
		 RETURNING created_at`,
		info.Fingerprint, info.Version, info.Documents, info.Source, info.Size, data,
	).Scan(&info.CreatedAt)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("saving snapshot: %w", err)
	}
	s.logger.Info("snapshot saved", "fingerprint", info.Fingerprint, "documents", info.Documents, "size", info.Size)
	return info, nil
}

func (s *Postgres) Get(ctx context.Context, fingerprint string) (*searchindex.Index, SnapshotInfo, error) {
	return s.fetch(ctx, fingerprint,
		`SELECT fingerprint, version, documents, source, size, created_at, data
		 FROM index_snapshots WHERE fingerprint = $1`, fingerprint)
}

func (s *Postgres) Latest(ctx context.Context) (*searchindex.Index, SnapshotInfo, error) {
	return s.fetch(ctx, "",
		`SELECT fingerprint, version, documents, source, size, created_at, data
		 FROM index_snapshots ORDER BY created_at DESC LIMIT 1`)
}

func (s *Postgres) fetch(ctx context.Context, fingerprint, query string, args ...any) (*searchindex.Index, SnapshotInfo, error) {
	var info SnapshotInfo
	var data []byte
	err := s.db.DB.QueryRowContext(ctx, query, args...).Scan(
		&info.Fingerprint, &info.Version, &info.Documents, &info.Source, &info.Size, &info.CreatedAt, &data,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, SnapshotInfo{}, notFound(fingerprint)
	}
	if err != nil {
		return nil, SnapshotInfo{}, fmt.Errorf("querying snapshot: %w", err)
	}
	idx, err := decode(data, info.Fingerprint)
	if err != nil {
		return nil, SnapshotInfo{}, err
	}
	return idx, info, nil
}

func (s *Postgres) List(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT fingerprint, version, documents, source, size, created_at
		 FROM index_snapshots ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]SnapshotInfo, 0)
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.Fingerprint, &info.Version, &info.Documents, &info.Source, &info.Size, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() error {
	return s.db.Close()
}
