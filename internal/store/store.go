// Package store persists all kernel entities in an embedded SQLite database.
//
// The store exposes parameterized statements and grouped transactions and no
// business logic. Callers (the coordinator) serialize writes; the connection
// pool is additionally capped at one writer so SQLITE_BUSY cannot surface
// under normal operation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
)

// Store wraps the SQLite handle.
type Store struct {
	path string
	db   *sql.DB
}

// Open opens (or creates) the database at path and runs schema setup,
// including the additive kanban-columns migration for legacy files.
// Use ":memory:" for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{path: path, db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx runs fn inside a transaction; commits on nil error, rolls back
// otherwise (or on panic).
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kernelerr.Internal(err, "begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return kernelerr.Internal(err, "commit transaction")
	}
	return nil
}

// marshalList serializes a string slice for a JSON column. The kernel never
// exposes the raw JSON; nil and empty both persist as "[]".
func marshalList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(data string) []string {
	if data == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

// nullStr maps empty strings to NULL for optional columns.
func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// nullInt maps zero to NULL for optional integer columns.
func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func strOrEmpty(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}

func intOrZero(v sql.NullInt64) int64 {
	if v.Valid {
		return v.Int64
	}
	return 0
}
