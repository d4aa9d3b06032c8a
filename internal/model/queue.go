package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the mutation kind recorded in a queue entry.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// EntryStatus is the lifecycle state of a queue entry.
//
// pending   -> eligible for the next drain
// in_flight -> currently being applied to the remote store
// failed    -> terminally failed; excluded from automatic drains until the
//              user forces a retry or discards the entry
type EntryStatus string

const (
	StatusPending  EntryStatus = "pending"
	StatusInFlight EntryStatus = "in_flight"
	StatusFailed   EntryStatus = "failed"
)

// QueueEntry is one durably recorded mutation awaiting confirmation by the
// remote backend. The payload is a snapshot of the entity at enqueue time and
// is immutable, with one exception: the sync engine rewrites identifiers in
// not-yet-applied payloads when the backend assigns a canonical identifier.
// Retry count, status, last error, and the backoff schedule are the only
// fields that otherwise mutate.
type QueueEntry struct {
	ID        int64           `json:"id"`
	Op        Operation       `json:"op"`
	Kind      Kind            `json:"kind"`
	EntityID  string          `json:"entityId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    EntryStatus     `json:"status"`
	Retries   int             `json:"retries"`
	LastError string          `json:"lastError,omitempty"`

	EnqueuedAt    time.Time `json:"enqueued_at"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// Validate checks entry fields before the entry is enqueued.
func (e *QueueEntry) Validate() error {
	switch e.Op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown operation %q", e.Op)
	}
	if !ValidKind(e.Kind) {
		return fmt.Errorf("unknown entity kind %q", e.Kind)
	}
	if e.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	if e.Op != OpDelete && len(e.Payload) == 0 {
		return fmt.Errorf("%s entry requires a payload", e.Op)
	}
	return nil
}
