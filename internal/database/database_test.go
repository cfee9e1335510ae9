package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenSQLite(dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")

	var count int
	require.NoError(t, db.db.Get(&count, "SELECT COUNT(*) FROM sessions"))
	assert.Zero(t, count)
	assert.IsType(t, &SQLiteDialect{}, db.Dialect())
}

func TestOpenCreatesDirectory(t *testing.T) {
	nestedPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	db, err := OpenSQLite(nestedPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(nestedPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestClose(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var count int
	assert.Error(t, db.db.Get(&count, "SELECT COUNT(*) FROM sessions"), "expected error querying closed database")
}

func TestMigration_SessionsTableSchema(t *testing.T) {
	db := setupTestDB(t)

	columns := []string{
		"id", "fingerprint", "tiles", "constraint_count", "seed", "steps",
		"collapsed", "status", "remote_addr", "created_at", "updated_at",
	}
	for _, col := range columns {
		var exists int
		err := db.db.Get(&exists, "SELECT COUNT(*) FROM pragma_table_info('sessions') WHERE name = ?", col)
		require.NoError(t, err)
		assert.Equal(t, 1, exists, "column %s not found in sessions table", col)
	}
}

func TestMigration_IndexesExist(t *testing.T) {
	db := setupTestDB(t)

	for _, idx := range []string{"idx_sessions_fingerprint", "idx_sessions_created_at"} {
		var exists int
		err := db.db.Get(&exists, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", idx)
		require.NoError(t, err)
		assert.Equal(t, 1, exists, "index %s not found", idx)
	}
}

func TestMigration_WALModeEnabled(t *testing.T) {
	db := setupTestDB(t)

	var journalMode string
	require.NoError(t, db.db.Get(&journalMode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", journalMode)
}

func TestMigration_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := OpenSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, db1.CreateSession(t.Context(), &Session{ID: "s1", Fingerprint: "abc", Tiles: 3}))
	db1.Close()

	db2, err := OpenSQLite(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	s, err := db2.GetSession(t.Context(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "abc", s.Fingerprint)
}
