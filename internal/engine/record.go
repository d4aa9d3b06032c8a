package engine

import (
	"context"

	"github.com/coachtools/matchsync/internal/model"
	"github.com/coachtools/matchsync/internal/storage"
)

// The record methods are the two-phase write path every user mutation takes:
// commit to the local store first, then append to the sync queue. A local
// storage failure surfaces synchronously and nothing is enqueued. When
// offline mode is disabled and the backend is unreachable, the mutation is
// refused outright instead of queued.

// RecordCreate persists a new entity locally and queues its creation. The
// returned entity carries the assigned local identifier.
func (e *Engine) RecordCreate(ctx context.Context, ent model.Entity) (model.Entity, error) {
	if err := e.requireOnlineIfNeeded(); err != nil {
		return nil, err
	}

	stored, err := e.db.PutEntity(ctx, ent)
	if err != nil {
		return nil, err
	}
	if err := e.enqueue(ctx, model.OpCreate, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// RecordUpdate persists an entity update locally and queues it.
func (e *Engine) RecordUpdate(ctx context.Context, ent model.Entity) (model.Entity, error) {
	if err := e.requireOnlineIfNeeded(); err != nil {
		return nil, err
	}

	stored, err := e.db.PutEntity(ctx, ent)
	if err != nil {
		return nil, err
	}
	if err := e.enqueue(ctx, model.OpUpdate, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// RecordDelete removes an entity locally and queues the deletion. Deletes
// are queued like any other mutation; the local identifier is never reused.
func (e *Engine) RecordDelete(ctx context.Context, kind model.Kind, id string) error {
	if err := e.requireOnlineIfNeeded(); err != nil {
		return err
	}

	existed, err := e.db.DeleteEntity(ctx, kind, id)
	if err != nil {
		return err
	}
	if !existed {
		return storage.ErrNotFound
	}
	if kind == model.KindGame {
		if err := e.db.DeleteTimerState(ctx, id); err != nil {
			return err
		}
	}

	if _, err := e.db.Enqueue(ctx, model.OpDelete, kind, id, nil); err != nil {
		return err
	}
	e.kickIfOnline()
	return nil
}

// RecordTimerState persists running-clock state locally. Timer state is
// never queued; it rides along with the next drain.
func (e *Engine) RecordTimerState(ctx context.Context, ts model.TimerState) error {
	return e.db.PutTimerState(ctx, ts)
}

func (e *Engine) enqueue(ctx context.Context, op model.Operation, ent model.Entity) error {
	payload, err := model.Encode(ent)
	if err != nil {
		return err
	}
	if _, err := e.db.Enqueue(ctx, op, ent.Kind(), ent.GetID(), payload); err != nil {
		return err
	}
	e.kickIfOnline()
	return nil
}

func (e *Engine) requireOnlineIfNeeded() error {
	if e.cfg.EnableOfflineMode {
		return nil
	}
	if !e.monitor.IsOnline() {
		return ErrOffline
	}
	return nil
}

func (e *Engine) kickIfOnline() {
	if e.monitor.IsOnline() {
		e.Kick()
	}
}
