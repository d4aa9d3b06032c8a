package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coachtools/matchsync/internal/model"
)

// ErrNotFound is returned when an entity or queue entry does not exist.
var ErrNotFound = errors.New("not found")

// CorruptRecordError reports a stored record that could not be decoded. It is
// fatal to the single operation, not to the process; the caller surfaces it
// and the mutation is not enqueued.
type CorruptRecordError struct {
	Kind model.Kind
	ID   string
	Err  error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt %s record %s: %v", e.Kind, e.ID, e.Err)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// IsStorageFull reports whether err indicates the database hit a disk or
// quota limit (SQLITE_FULL surfaces as "database or disk is full").
func IsStorageFull(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "disk is full")
}
