package db

import (
	"strings"

	"github.com/teranos/warden/errors"
)

// ErrDatabaseClosed marks audit writes that raced with shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err came from a closed connection, either marked with
// ErrDatabaseClosed or raised by database/sql itself. The driver error is unwrapped text only.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
