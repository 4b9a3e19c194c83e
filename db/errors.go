package db

import (
	"strings"

	"github.com/teranos/storytest/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// Driver errors are matched by message since the sql package does not export a sentinel.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
