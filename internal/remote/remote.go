// Package remote models the CRUD-capable backend the sync engine drains
// against. The concrete wire protocol is a collaborator concern: this package
// defines the contract, classifies failures as transient or permanent, and
// ships an in-memory implementation (tests, local development) and an HTTP
// JSON implementation.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coachtools/matchsync/internal/model"
)

// Store is the remote backend contract. A create response carries the
// canonical identifier the backend assigned, which may differ from the
// locally generated identifier in the payload.
type Store interface {
	// Create stores a new entity and returns the canonical remote
	// identifier plus the stored representation.
	Create(ctx context.Context, kind model.Kind, payload json.RawMessage) (remoteID string, stored json.RawMessage, err error)

	// Update replaces the entity with the given identifier.
	Update(ctx context.Context, kind model.Kind, id string, payload json.RawMessage) (stored json.RawMessage, err error)

	// Delete removes the entity. Returns false when it did not exist.
	Delete(ctx context.Context, kind model.Kind, id string) (bool, error)

	// List returns all stored entities of a kind.
	List(ctx context.Context, kind model.Kind) ([]json.RawMessage, error)

	// PutTimerState opportunistically stores running-clock state. Losing
	// one of these writes is tolerable; they are never queued.
	PutTimerState(ctx context.Context, ts model.TimerState) error

	// Ping is a reachability probe, deeper than raw network presence.
	Ping(ctx context.Context) error
}

// Error is a classified backend failure. The sync engine trusts this
// classification: transient failures are retried with backoff, permanent
// failures (validation rejections) are terminal immediately.
type Error struct {
	Op        string
	Kind      model.Kind
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	return fmt.Sprintf("remote %s %s (%s): %v", e.Op, e.Kind, class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure (network, timeout, backend
// unavailable).
func Transient(op string, kind model.Kind, err error) error {
	return &Error{Op: op, Kind: kind, Transient: true, Err: err}
}

// Permanent wraps err as a terminal failure (the backend rejected the
// mutation as invalid).
func Permanent(op string, kind model.Kind, err error) error {
	return &Error{Op: op, Kind: kind, Transient: false, Err: err}
}

// IsTransient reports whether err is classified as retryable. Context
// deadline errors count as transient: a per-call timeout is indistinguishable
// from a slow backend.
func IsTransient(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
