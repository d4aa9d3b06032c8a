package importer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/coachtools/matchsync/internal/model"
	"github.com/coachtools/matchsync/internal/storage"
)

// LocalTarget adapts the local store as an import target. Created entities
// receive fresh local identifiers; a later drain syncs them to the backend
// and remaps them to canonical identifiers like any other offline write.
type LocalTarget struct {
	db *storage.DB
}

// NewLocalTarget wraps db as an import target.
func NewLocalTarget(db *storage.DB) *LocalTarget {
	return &LocalTarget{db: db}
}

// Create implements Target.
func (t *LocalTarget) Create(ctx context.Context, kind model.Kind, payload json.RawMessage) (string, json.RawMessage, error) {
	e, err := model.Decode(kind, payload)
	if err != nil {
		return "", nil, err
	}
	e.SetID("")

	stored, err := t.db.PutEntity(ctx, e)
	if err != nil {
		return "", nil, err
	}
	data, err := model.Encode(stored)
	if err != nil {
		return "", nil, err
	}
	return stored.GetID(), data, nil
}

// Delete implements Target.
func (t *LocalTarget) Delete(ctx context.Context, kind model.Kind, id string) (bool, error) {
	return t.db.DeleteEntity(ctx, kind, id)
}

// List implements Target. Corrupt rows are skipped; the wipe phase cannot do
// anything useful with a row it cannot decode anyway.
func (t *LocalTarget) List(ctx context.Context, kind model.Kind) ([]json.RawMessage, error) {
	entities, err := t.db.ListEntities(ctx, kind)
	var corrupt *storage.CorruptRecordError
	if err != nil && !errors.As(err, &corrupt) {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(entities))
	for _, e := range entities {
		data, err := model.Encode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// PutTimerState implements Target.
func (t *LocalTarget) PutTimerState(ctx context.Context, ts model.TimerState) error {
	return t.db.PutTimerState(ctx, ts)
}

// WipeTimerStates clears all timer state during a replace-mode import.
func (t *LocalTarget) WipeTimerStates(ctx context.Context) error {
	return t.db.DeleteAllTimerStates(ctx)
}

// Recorder is the two-phase write path the sync target routes through. The
// sync engine satisfies it.
type Recorder interface {
	RecordCreate(ctx context.Context, e model.Entity) (model.Entity, error)
	RecordDelete(ctx context.Context, kind model.Kind, id string) error
	RecordTimerState(ctx context.Context, ts model.TimerState) error
}

// SyncTarget imports through the engine's record methods, so every imported
// entity lands in the local store and the sync queue in one step. This is
// what the daemon's inbox watcher uses: imported data syncs to the backend
// like any other local mutation.
type SyncTarget struct {
	rec Recorder
	db  *storage.DB
}

// NewSyncTarget wraps the record path and local store as an import target.
func NewSyncTarget(rec Recorder, db *storage.DB) *SyncTarget {
	return &SyncTarget{rec: rec, db: db}
}

// Create implements Target.
func (t *SyncTarget) Create(ctx context.Context, kind model.Kind, payload json.RawMessage) (string, json.RawMessage, error) {
	e, err := model.Decode(kind, payload)
	if err != nil {
		return "", nil, err
	}
	e.SetID("")

	stored, err := t.rec.RecordCreate(ctx, e)
	if err != nil {
		return "", nil, err
	}
	data, err := model.Encode(stored)
	if err != nil {
		return "", nil, err
	}
	return stored.GetID(), data, nil
}

// Delete implements Target.
func (t *SyncTarget) Delete(ctx context.Context, kind model.Kind, id string) (bool, error) {
	err := t.rec.RecordDelete(ctx, kind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List implements Target.
func (t *SyncTarget) List(ctx context.Context, kind model.Kind) ([]json.RawMessage, error) {
	return (&LocalTarget{db: t.db}).List(ctx, kind)
}

// PutTimerState implements Target.
func (t *SyncTarget) PutTimerState(ctx context.Context, ts model.TimerState) error {
	return t.rec.RecordTimerState(ctx, ts)
}

// WipeTimerStates clears all timer state during a replace-mode import.
func (t *SyncTarget) WipeTimerStates(ctx context.Context) error {
	return t.db.DeleteAllTimerStates(ctx)
}
