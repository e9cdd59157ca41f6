// ABOUTME: SQLite implementation of the StateStore interface using modernc.org/sqlite
// ABOUTME: Provides agent state persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/actor-gateway/internal/wire"
)

// SQLiteStore implements the StateStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// OpenSQLite opens a database file with WAL enabled, creating parent directories.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Several gateways may share one file; wait for locks instead of failing.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return db, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_state (
			agent_type TEXT NOT NULL,
			agent_key  TEXT NOT NULL,
			state      BLOB NOT NULL,
			etag       TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (agent_type, agent_key)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// ReadState retrieves agent state.
// Returns ErrNotFound if the agent has no saved state.
func (s *SQLiteStore) ReadState(ctx context.Context, id wire.AgentID) (*AgentState, error) {
	query := `SELECT state, etag, updated_at FROM agent_state WHERE agent_type = ? AND agent_key = ?`

	state := &AgentState{Agent: id}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, id.Type, id.Key).Scan(&state.Data, &state.ETag, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent state: %w", err)
	}

	state.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return state, nil
}

// WriteState saves agent state guarded by etag and returns the new etag.
func (s *SQLiteStore) WriteState(ctx context.Context, id wire.AgentID, data []byte, etag string) (string, error) {
	if data == nil {
		data = []byte{}
	}
	next := newETag()
	now := time.Now().Unix()

	var (
		res sql.Result
		err error
	)
	if etag == "" {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO agent_state (agent_type, agent_key, state, etag, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (agent_type, agent_key) DO NOTHING
		`, id.Type, id.Key, data, next, now)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE agent_state SET state = ?, etag = ?, updated_at = ?
			WHERE agent_type = ? AND agent_key = ? AND etag = ?
		`, data, next, now, id.Type, id.Key, etag)
	}
	if err != nil {
		return "", fmt.Errorf("saving agent state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return "", ErrETagMismatch
	}

	s.logger.Debug("saved agent state", "agent", id.String(), "size", len(data))
	return next, nil
}

// DeleteState removes agent state. Deleting missing state is not an error.
func (s *SQLiteStore) DeleteState(ctx context.Context, id wire.AgentID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_state WHERE agent_type = ? AND agent_key = ?`, id.Type, id.Key)
	if err != nil {
		return fmt.Errorf("deleting agent state: %w", err)
	}
	return nil
}
