package db

import (
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/storytest/errors"
)

func TestOpenWithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "ai_model_usage", "generation_runs", "imported_tests"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist after migrations", table)
	}

	version, err := SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, "002", version)
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, nil))
	require.NoError(t, Migrate(db, nil), "second run must skip applied migrations")

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestMigrate_RollsBackFailedMigration(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	// 000 applies cleanly
	mock.ExpectQuery("SELECT EXISTS").WithArgs("000").WillReturnError(errors.New("no such table: schema_migrations"))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("000").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// 001 fails and is rolled back
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ai_model_usage").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = Migrate(mockDB, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute 001_create_ai_model_usage.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_MissingMigrationTable(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectQuery("SELECT EXISTS").WithArgs("000").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001").WillReturnError(errors.New("no such table: schema_migrations"))

	err = Migrate(mockDB, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema_migrations unreadable before 001")
}
