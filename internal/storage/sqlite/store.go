package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
	"go.uber.org/zap"

	"surveySync/internal/storage"
)

// Store keeps indexer state in a local SQLite database.
type Store struct {
	db *sql.DB
}

type stateRow struct {
	Name      string `meddler:"name"`
	LastBlock int64  `meddler:"last_block"`
	UpdatedAt string `meddler:"updated_at"`
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf(
		"file:%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=30000&_synchronous=FULL",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the indexer_state schema.
func (s *Store) Migrate(logger *zap.Logger) error {
	return storage.RunMigrations(logger, s.db, "sqlite3", Migrations)
}

// LoadState returns last_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var row stateRow
	err := meddler.QueryRow(s.db, &row, `SELECT name, last_block, updated_at FROM indexer_state WHERE name = ?`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load state %s: %w", name, err)
	}
	return uint64(row.LastBlock), true, nil
}

// SaveState upserts last_block for a name. The stored value never decreases.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_state (name, last_block, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE
		SET last_block = MAX(indexer_state.last_block, excluded.last_block), updated_at = excluded.updated_at
	`, name, int64(block), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save state %s: %w", name, err)
	}
	return nil
}

// Migrations holds the SQLite schema.
var Migrations = []storage.Migration{
	{
		ID: "0001_indexer_state",
		SQL: `
-- +migrate Down
DROP TABLE IF EXISTS indexer_state;

-- +migrate Up
CREATE TABLE IF NOT EXISTS indexer_state (
	name       TEXT PRIMARY KEY,
	last_block INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
`,
	},
}
