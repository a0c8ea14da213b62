// Package sqlite provides a SQLite-backed storage collaborator built on the
// pure Go modernc driver. State lives in the embedded memory store and is
// snapshotted to the database after every committed write.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"trackcore/internal/infra/persistence/sqlstore"
)

const defaultPath = "trackcore.db"

// Store persists tracked rows to a SQLite file.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating when needed) the database at path and hydrates the
// store from it. An empty path selects trackcore.db in the working directory.
func NewStore(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Snapshot writes run on a single connection.
	db.SetMaxOpenConns(1)
	inner, err := sqlstore.Open(ctx, db, sqlstore.SQLite, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
