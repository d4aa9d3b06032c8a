package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coachtools/matchsync/internal/model"
)

// PutEntity inserts or updates an entity in the local store.
//
// If the entity has no identifier, a fresh local identifier is assigned
// before the write; the returned entity carries it. Creation and update
// timestamps are stamped here so every stored snapshot is self-describing.
func (db *DB) PutEntity(ctx context.Context, e model.Entity) (model.Entity, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", e.Kind(), err)
	}

	if e.GetID() == "" {
		e.SetID(model.NewLocalID())
	}

	now := time.Now().UTC()
	stampTimes(e, now)

	data, err := model.Encode(e)
	if err != nil {
		return nil, err
	}

	query := `
	INSERT INTO entities (kind, id, data, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(kind, id) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		string(e.Kind()),
		e.GetID(),
		string(data),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to put %s %s: %w", e.Kind(), e.GetID(), err)
	}

	return e, nil
}

// GetEntity retrieves a single entity by kind and identifier.
// Returns ErrNotFound if no such entity exists, or a CorruptRecordError if
// the stored payload cannot be decoded.
func (db *DB) GetEntity(ctx context.Context, kind model.Kind, id string) (model.Entity, error) {
	var data string
	err := db.conn.QueryRowContext(ctx,
		`SELECT data FROM entities WHERE kind = ? AND id = ?`,
		string(kind), id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}

	e, err := model.Decode(kind, []byte(data))
	if err != nil {
		return nil, &CorruptRecordError{Kind: kind, ID: id, Err: err}
	}
	return e, nil
}

// DeleteEntity removes an entity from the local store. Returns true when a
// row was deleted, false when the entity did not exist.
func (db *DB) DeleteEntity(ctx context.Context, kind model.Kind, id string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM entities WHERE kind = ? AND id = ?`,
		string(kind), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

// ListEntities retrieves all entities of a kind in creation order.
// Records that fail to decode are skipped and reported together so a single
// corrupt row does not hide the rest of the collection.
func (db *DB) ListEntities(ctx context.Context, kind model.Kind) ([]model.Entity, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, data FROM entities WHERE kind = ? ORDER BY created_at ASC, rowid ASC`,
		string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s entities: %w", kind, err)
	}
	defer rows.Close()

	var entities []model.Entity
	var corrupt error
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", kind, err)
		}
		e, err := model.Decode(kind, []byte(data))
		if err != nil {
			corrupt = errors.Join(corrupt, &CorruptRecordError{Kind: kind, ID: id, Err: err})
			continue
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s entities: %w", kind, err)
	}
	return entities, corrupt
}

// CountEntities returns the number of stored entities of a kind.
func (db *DB) CountEntities(ctx context.Context, kind model.Kind) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE kind = ?`, string(kind),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s entities: %w", kind, err)
	}
	return count, nil
}

// PutTimerState upserts the running-clock state for a game.
func (db *DB) PutTimerState(ctx context.Context, ts model.TimerState) error {
	if ts.GameID == "" {
		return fmt.Errorf("timer state requires a game id")
	}
	if ts.UpdatedAt.IsZero() {
		ts.UpdatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO timer_states (game_id, elapsed_seconds, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(game_id) DO UPDATE SET
		elapsed_seconds = excluded.elapsed_seconds,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		ts.GameID, ts.ElapsedSeconds, ts.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to put timer state for %s: %w", ts.GameID, err)
	}
	return nil
}

// GetTimerState retrieves the timer state for a game, or ErrNotFound.
func (db *DB) GetTimerState(ctx context.Context, gameID string) (model.TimerState, error) {
	var ts model.TimerState
	var updatedAt string
	err := db.conn.QueryRowContext(ctx,
		`SELECT game_id, elapsed_seconds, updated_at FROM timer_states WHERE game_id = ?`,
		gameID,
	).Scan(&ts.GameID, &ts.ElapsedSeconds, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TimerState{}, ErrNotFound
	}
	if err != nil {
		return model.TimerState{}, fmt.Errorf("failed to get timer state for %s: %w", gameID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		ts.UpdatedAt = t
	}
	return ts, nil
}

// ListTimerStates retrieves all timer states ordered by game identifier.
func (db *DB) ListTimerStates(ctx context.Context) ([]model.TimerState, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT game_id, elapsed_seconds, updated_at FROM timer_states ORDER BY game_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list timer states: %w", err)
	}
	defer rows.Close()

	var states []model.TimerState
	for rows.Next() {
		var ts model.TimerState
		var updatedAt string
		if err := rows.Scan(&ts.GameID, &ts.ElapsedSeconds, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timer state: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			ts.UpdatedAt = t
		}
		states = append(states, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timer states: %w", err)
	}
	return states, nil
}

// DeleteTimerState removes the timer state for a game, if present.
func (db *DB) DeleteTimerState(ctx context.Context, gameID string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM timer_states WHERE game_id = ?`, gameID); err != nil {
		return fmt.Errorf("failed to delete timer state for %s: %w", gameID, err)
	}
	return nil
}

// DeleteAllTimerStates removes every stored timer state.
func (db *DB) DeleteAllTimerStates(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM timer_states`); err != nil {
		return fmt.Errorf("failed to delete timer states: %w", err)
	}
	return nil
}

// stampTimes sets created/updated timestamps on the concrete entity types.
func stampTimes(e model.Entity, now time.Time) {
	switch v := e.(type) {
	case *model.Player:
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		v.UpdatedAt = now
	case *model.Season:
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		v.UpdatedAt = now
	case *model.Tournament:
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		v.UpdatedAt = now
	case *model.SavedGame:
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		v.UpdatedAt = now
	}
}
