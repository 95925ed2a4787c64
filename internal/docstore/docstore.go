// Package docstore persists extracted document text and metadata in SQLite.
// The cache is append-only: re-ingesting a corpus inserts fresh rows rather
// than replacing existing ones, so every ingestion run is auditable.
package docstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pdf_texts (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL,
	content  TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
`

// Document is one cached document: its blob name, cleaned full text, and the
// extractor metadata serialized as JSON.
type Document struct {
	ID           int64  `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	Content      string `db:"content" json:"content"`
	MetadataJSON string `db:"metadata" json:"metadata"`
}

// Store is the document cache. A single *sqlx.DB connection is shared; all
// writes go through the ingestion coordinator, so no write contention occurs.
type Store struct {
	db *sqlx.DB
}

func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BulkInsert appends a batch of documents in one transaction.
func (s *Store) BulkInsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert batch: %w", err)
	}
	for _, d := range docs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pdf_texts (name, content, metadata) VALUES (?, ?, ?)`,
			d.Name, d.Content, d.MetadataJSON,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert document %s: %w", d.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert batch: %w", err)
	}
	return nil
}

// All returns every cached document in insertion order.
func (s *Store) All(ctx context.Context) ([]Document, error) {
	var docs []Document
	if err := s.db.SelectContext(ctx, &docs,
		`SELECT id, name, content, metadata FROM pdf_texts ORDER BY id`,
	); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// SearchContent returns the first document whose content contains term as a
// substring, or nil when there is no match.
func (s *Store) SearchContent(ctx context.Context, term string) (*Document, error) {
	var docs []Document
	if err := s.db.SelectContext(ctx, &docs,
		`SELECT id, name, content, metadata FROM pdf_texts WHERE content LIKE ? ORDER BY id LIMIT 1`,
		"%"+term+"%",
	); err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

// Count returns the number of cached documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pdf_texts`); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}
