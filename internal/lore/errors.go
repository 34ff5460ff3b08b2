package lore

import (
	"errors"
	"fmt"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors for store operations. Check with errors.Is().
var (
	// ErrNotFound indicates the requested slug has no entry.
	ErrNotFound = errors.New("entry not found")
)

// ValidationError reports a schema or enum violation. The write is rejected
// in full; nothing is persisted. Field names the offending input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError wraps ErrNotFound with the offending slug so callers can
// surface it without string parsing.
type NotFoundError struct {
	Slug string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entry not found: %s", e.Slug)
}

// Unwrap lets errors.Is(err, ErrNotFound) match.
func (*NotFoundError) Unwrap() error { return ErrNotFound }

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. Used by Create to detect a concurrent writer claiming the same
// slug; the loser retries with the next suffix instead of failing.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
