// Package store persists shared snippets in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no snippet has the requested id.
var ErrNotFound = errors.New("snippet not found")

// Snippet is a shared copy of an edited runner.
type Snippet struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages the shared snippet database.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens (creating if needed) the snippet database at path.
// Use ":memory:" for a throwaway store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create share directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open share database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	logger.Info("share store opened", zap.String("path", path))
	return s, nil
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snippets (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		code TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save stores a snippet under a fresh id.
func (s *Store) Save(ctx context.Context, mode, code string) (*Snippet, error) {
	snip := &Snippet{
		ID:        uuid.New().String(),
		Mode:      mode,
		Code:      code,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snippets (id, mode, code, created_at) VALUES (?, ?, ?, ?)`,
		snip.ID, snip.Mode, snip.Code, snip.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save snippet: %w", err)
	}

	s.logger.Debug("snippet shared", zap.String("id", snip.ID), zap.Int("bytes", len(code)))
	return snip, nil
}

// Get returns the snippet with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Snippet, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var snip Snippet
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mode, code, created_at FROM snippets WHERE id = ?`, id).
		Scan(&snip.ID, &snip.Mode, &snip.Code, &snip.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snippet %s: %w", id, err)
	}
	return &snip, nil
}

// Count returns the number of stored snippets.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snippets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snippets: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
