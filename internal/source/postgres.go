package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/pkg/postgres"
)

// SectionsSchema creates the table Sections reads from.
const SectionsSchema = `CREATE TABLE IF NOT EXISTS book_sections (
	id          BIGSERIAL PRIMARY KEY,
	book        TEXT NOT NULL,
	position    INTEGER NOT NULL,
	url         TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	breadcrumbs TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	UNIQUE (book, position)
)`

// Sections reads one book's sections ordered by position.
type Sections struct {
	db     *postgres.Client
	book   string
	logger *slog.Logger
}

func NewSections(db *postgres.Client, book string) *Sections {
	return &Sections{
		db:     db,
		book:   book,
		logger: slog.Default().With("component", "sections-source"),
	}
}

func (s *Sections) Documents(ctx context.Context) ([]searchindex.Document, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT url, title, breadcrumbs, body
		 FROM book_sections
		 WHERE book = $1
		 ORDER BY position`,
		s.book,
	)
	if err != nil {
		return nil, fmt.Errorf("querying book sections: %w", err)
	}
	defer rows.Close()
	docs, err := scanSections(rows)
	if err != nil {
		return nil, err
	}
	s.logger.Info("loaded book sections", "book", s.book, "count", len(docs))
	return docs, nil
}

// Replace stores docs as the sections of the book, replacing any previous
// content.
func (s *Sections) Replace(ctx context.Context, docs []searchindex.Document) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM book_sections WHERE book = $1`, s.book); err != nil {
			return fmt.Errorf("clearing book sections: %w", err)
		}
		for i, d := range docs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO book_sections (book, position, url, title, breadcrumbs, body)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				s.book, i, d.URL, d.Title, d.Breadcrumbs, d.Body,
			); err != nil {
				return fmt.Errorf("inserting section %d: %w", i, err)
			}
		}
		return nil
	})
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSections(rows rowScanner) ([]searchindex.Document, error) {
	var docs []searchindex.Document
	for rows.Next() {
		var d searchindex.Document
		if err := rows.Scan(&d.URL, &d.Title, &d.Breadcrumbs, &d.Body); err != nil {
			return nil, fmt.Errorf("scanning book section: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
