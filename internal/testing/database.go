package testing

import (
	"database/sql"
	"testing"

	"github.com/teranos/storytest/db"
)

// CreateTestDB opens an in-memory SQLite database with every migration applied.
// The connection is closed via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})
	return conn
}
