// ABOUTME: Contract tests for database schema to detect breaking schema changes.
// ABOUTME: Validates tables, columns and indexes of the state store and the SQLite coordinator.

package contract

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/actor-gateway/internal/cluster"
	"github.com/2389/actor-gateway/internal/store"
)

// expectedSchema defines the contract for the tables both SQLite backends create.
// Gateways sharing a coordinator file may run different builds, so removing or
// renaming a column here is a breaking change.
var expectedSchema = map[string][]string{
	"agent_state": {
		"agent_type", "agent_key", "state", "etag", "updated_at",
	},
	"gateways": {
		"id", "address", "last_seen",
	},
	"agent_types": {
		"gateway_id", "agent_type", "event_types",
	},
	"placements": {
		"agent_type", "agent_key", "gateway_id",
	},
	"subscriptions": {
		"id", "agent_type", "topic_type", "topic_prefix",
	},
}

// setupTestDB creates one SQLite file holding both the state store and coordinator schemas.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "contract_test.db")

	stateStore, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err, "failed to create SQLite store")

	coord, err := cluster.NewSQLiteCoordinator(dbPath, 30*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err, "failed to create SQLite coordinator")

	// Open a separate connection since the backends own theirs
	db, err := store.OpenSQLite(dbPath)
	require.NoError(t, err, "failed to open database")

	t.Cleanup(func() {
		db.Close()
		coord.Close()
		stateStore.Close()
	})

	return db
}

// getTableColumns queries SQLite to get column names for a table.
func getTableColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", tableName)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		columns[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns: %w", err)
	}

	return columns, nil
}

func queryNames(t *testing.T, db *sql.DB, kind string) map[string]bool {
	t.Helper()
	rows, err := db.QueryContext(context.Background(),
		"SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%'", kind)
	require.NoError(t, err, "failed to query %s names", kind)
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names[name] = true
	}
	require.NoError(t, rows.Err())
	return names
}

// TestSchemaSurface verifies that all expected tables and columns exist.
func TestSchemaSurface(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for table, expectedCols := range expectedSchema {
		t.Run(table, func(t *testing.T) {
			actualCols, err := getTableColumns(ctx, db, table)
			if !assert.NoError(t, err, "failed to get columns for table %s", table) {
				return
			}

			if !assert.NotEmpty(t, actualCols, "table %s should exist and have columns", table) {
				return
			}

			for _, col := range expectedCols {
				assert.True(t, actualCols[col], "column %s.%s should exist", table, col)
			}

			for col := range actualCols {
				if !slices.Contains(expectedCols, col) {
					t.Logf("INFO: extra column %s.%s not in contract (consider adding)", table, col)
				}
			}
		})
	}
}

// TestTablesExist is a quick sanity check that all expected tables exist.
func TestTablesExist(t *testing.T) {
	tables := queryNames(t, setupTestDB(t), "table")
	for table := range expectedSchema {
		assert.True(t, tables[table], "table %s should exist", table)
	}
}

// TestSchemaHasIndexes verifies the indexes lookups and subscription queries rely on.
func TestSchemaHasIndexes(t *testing.T) {
	indexes := queryNames(t, setupTestDB(t), "index")
	for _, idx := range []string{
		"idx_agent_types_type",
		"idx_placements_gateway",
		"idx_subscriptions_topic",
	} {
		assert.True(t, indexes[idx], "index %s should exist", idx)
	}
}
