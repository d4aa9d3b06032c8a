package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coachtools/matchsync/internal/model"
)

// BackoffPolicy controls retry scheduling for transiently failed entries.
// The delay doubles per recorded failure and is capped at Max. After
// MaxRetries retries the entry becomes terminally failed.
type BackoffPolicy struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// Delay returns the backoff delay before retry number retries (1-based).
func (p BackoffPolicy) Delay(retries int) time.Duration {
	d := p.Base
	for i := 1; i < retries; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Enqueue appends a mutation to the sync queue and returns its entry id.
// Ordering is strict FIFO by enqueue time; a later update to the same entity
// logically supersedes an earlier one because the drain replays in order.
func (db *DB) Enqueue(ctx context.Context, op model.Operation, kind model.Kind, entityID string, payload json.RawMessage) (int64, error) {
	entry := &model.QueueEntry{Op: op, Kind: kind, EntityID: entityID, Payload: payload}
	if err := entry.Validate(); err != nil {
		return 0, fmt.Errorf("invalid queue entry: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (op, kind, entity_id, payload, status, enqueued_at, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(op), string(kind), entityID, payloadArg(payload), string(model.StatusPending), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s %s: %w", op, kind, entityID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read enqueued entry id: %w", err)
	}
	return id, nil
}

// PeekOldest returns the oldest pending entry without changing its status,
// or ErrNotFound when the queue has no pending entries.
func (db *DB) PeekOldest(ctx context.Context) (*model.QueueEntry, error) {
	row := db.conn.QueryRowContext(ctx, selectEntry+`
		WHERE status = ? ORDER BY id ASC LIMIT 1`, string(model.StatusPending))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// TakePending returns up to limit pending entries that are due at the given
// time, in FIFO order. Entries waiting out a backoff delay are excluded.
func (db *DB) TakePending(ctx context.Context, limit int, now time.Time) ([]*model.QueueEntry, error) {
	rows, err := db.conn.QueryContext(ctx, selectEntry+`
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY id ASC LIMIT ?`,
		string(model.StatusPending), now.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to take pending entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListPending returns all pending entries in FIFO order, including entries
// still waiting out their backoff delay.
func (db *DB) ListPending(ctx context.Context) ([]*model.QueueEntry, error) {
	return db.listByStatus(ctx, model.StatusPending)
}

// ListFailed returns all terminally failed entries in FIFO order. Failed
// entries are retained, not destroyed, so they stay visible to the user
// until retried or discarded.
func (db *DB) ListFailed(ctx context.Context) ([]*model.QueueEntry, error) {
	return db.listByStatus(ctx, model.StatusFailed)
}

func (db *DB) listByStatus(ctx context.Context, status model.EntryStatus) ([]*model.QueueEntry, error) {
	rows, err := db.conn.QueryContext(ctx, selectEntry+`
		WHERE status = ? ORDER BY id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s entries: %w", status, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// MarkInFlight transitions a pending entry to in_flight.
func (db *DB) MarkInFlight(ctx context.Context, id int64) error {
	return db.setStatus(ctx, id, model.StatusPending, model.StatusInFlight)
}

// MarkSucceeded removes a confirmed entry from the queue.
func (db *DB) MarkSucceeded(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkFailed records a transient failure: the retry count is incremented,
// the error is recorded, and the entry returns to pending with its next
// attempt scheduled per the backoff policy. Once the retry count exceeds
// MaxRetries the entry becomes terminally failed instead. Returns true when
// the failure was terminal.
func (db *DB) MarkFailed(ctx context.Context, id int64, cause error, policy BackoffPolicy, now time.Time) (bool, error) {
	entry, err := db.getEntry(ctx, id)
	if err != nil {
		return false, err
	}

	retries := entry.Retries + 1
	status := model.StatusPending
	nextAttempt := now.UTC().Add(policy.Delay(retries))
	if retries > policy.MaxRetries {
		status = model.StatusFailed
		nextAttempt = now.UTC()
	}

	_, err = db.conn.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = ?, retries = ?, last_error = ?, next_attempt_at = ?
		WHERE id = ?`,
		string(status), retries, cause.Error(), nextAttempt.Format(time.RFC3339Nano), id)
	if err != nil {
		return false, fmt.Errorf("failed to record failure for entry %d: %w", id, err)
	}
	return status == model.StatusFailed, nil
}

// MarkPermanentlyFailed records a permanent failure (the backend rejected
// the mutation as invalid): the entry becomes terminally failed immediately,
// without consuming retries, since retrying cannot succeed.
func (db *DB) MarkPermanentlyFailed(ctx context.Context, id int64, cause error) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, last_error = ? WHERE id = ?`,
		string(model.StatusFailed), cause.Error(), id)
	if err != nil {
		return fmt.Errorf("failed to mark entry %d permanently failed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// RetryFailed re-arms a terminally failed entry: status returns to pending
// with a zeroed retry count so the backoff schedule starts over. This is the
// user-forced retry path; automatic drains never pick up failed entries.
func (db *DB) RetryFailed(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = ?, retries = 0, last_error = NULL, next_attempt_at = ?
		WHERE id = ? AND status = ?`,
		string(model.StatusPending), now, id, string(model.StatusFailed))
	if err != nil {
		return fmt.Errorf("failed to retry entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// DiscardFailed permanently drops a terminally failed entry.
func (db *DB) DiscardFailed(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE id = ? AND status = ?`,
		id, string(model.StatusFailed))
	if err != nil {
		return fmt.Errorf("failed to discard entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// ResetInFlight returns any in_flight entries to pending. Called on startup:
// an in_flight entry at that point means the process died mid-drain.
func (db *DB) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sync_queue SET status = ? WHERE status = ?`,
		string(model.StatusPending), string(model.StatusInFlight))
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-flight entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reset result: %w", err)
	}
	return n, nil
}

// PendingCount returns the number of pending (including backoff-delayed)
// entries.
func (db *DB) PendingCount(ctx context.Context) (int, error) {
	return db.countByStatus(ctx, model.StatusPending)
}

// FailedCount returns the number of terminally failed entries.
func (db *DB) FailedCount(ctx context.Context) (int, error) {
	return db.countByStatus(ctx, model.StatusFailed)
}

func (db *DB) countByStatus(ctx context.Context, status model.EntryStatus) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s entries: %w", status, err)
	}
	return count, nil
}

// OldestPendingEnqueuedAt returns the enqueue time of the oldest pending
// entry, or ErrNotFound when the queue is empty.
func (db *DB) OldestPendingEnqueuedAt(ctx context.Context) (time.Time, error) {
	var enqueuedAt string
	err := db.conn.QueryRowContext(ctx, `
		SELECT enqueued_at FROM sync_queue
		WHERE status = ? ORDER BY id ASC LIMIT 1`,
		string(model.StatusPending)).Scan(&enqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read oldest pending entry: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse enqueue time: %w", err)
	}
	return t, nil
}

// LookupRemoteID returns the canonical remote identifier recorded for a
// local identifier, if any.
func (db *DB) LookupRemoteID(ctx context.Context, localID string) (string, bool, error) {
	var remoteID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT remote_id FROM id_map WHERE local_id = ?`, localID).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up id mapping for %s: %w", localID, err)
	}
	return remoteID, true, nil
}

// RecordIDRemap durably records a local-to-remote identifier mapping and
// rewrites the identifier everywhere it appears on this device: the entity's
// own row, references held by other stored entities, timer-state keys, and
// the payloads of already-enqueued-but-not-yet-applied queue entries. The
// whole rewrite commits in one transaction, and it commits BEFORE the
// triggering entry is marked succeeded, so a crash in between replays
// against the recorded mapping instead of double-creating the entity.
func (db *DB) RecordIDRemap(ctx context.Context, kind model.Kind, oldID, newID string) error {
	if oldID == newID {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin remap transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO id_map (local_id, remote_id, kind, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET remote_id = excluded.remote_id`,
		oldID, newID, string(kind), now); err != nil {
		return fmt.Errorf("failed to record id mapping %s -> %s: %w", oldID, newID, err)
	}

	if err := remapEntityRows(ctx, tx, oldID, newID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE timer_states SET game_id = ? WHERE game_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("failed to remap timer state %s: %w", oldID, err)
	}

	if err := remapQueueRows(ctx, tx, oldID, newID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit remap transaction: %w", err)
	}
	return nil
}

// remapEntityRows rewrites oldID in entity rows: the row keyed by it and any
// row whose payload references it. The LIKE filter is a prefilter; the typed
// rewrite decides what actually changes.
func remapEntityRows(ctx context.Context, tx *sql.Tx, oldID, newID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT kind, id, data FROM entities
		WHERE id = ? OR data LIKE '%' || ? || '%'`, oldID, oldID)
	if err != nil {
		return fmt.Errorf("failed to select entities for remap: %w", err)
	}

	type update struct {
		kind, id, newID, data string
	}
	var updates []update
	for rows.Next() {
		var kindStr, id, data string
		if err := rows.Scan(&kindStr, &id, &data); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan entity for remap: %w", err)
		}
		e, err := model.Decode(model.Kind(kindStr), []byte(data))
		if err != nil {
			rows.Close()
			return &CorruptRecordError{Kind: model.Kind(kindStr), ID: id, Err: err}
		}
		model.RewriteID(e, oldID, newID)
		rewritten, err := model.Encode(e)
		if err != nil {
			rows.Close()
			return err
		}
		if string(rewritten) == data && e.GetID() == id {
			continue
		}
		updates = append(updates, update{kind: kindStr, id: id, newID: e.GetID(), data: string(rewritten)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating entities for remap: %w", err)
	}
	rows.Close()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE entities SET id = ?, data = ? WHERE kind = ? AND id = ?`,
			u.newID, u.data, u.kind, u.id); err != nil {
			return fmt.Errorf("failed to rewrite %s %s: %w", u.kind, u.id, err)
		}
	}
	return nil
}

// remapQueueRows rewrites oldID in pending queue entries. This is the single
// sanctioned mutation of an enqueued payload: dependent creates enqueued
// before the backend assigned the canonical identifier must resolve to it.
func remapQueueRows(ctx context.Context, tx *sql.Tx, oldID, newID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, entity_id, payload FROM sync_queue
		WHERE status = ? AND (entity_id = ? OR payload LIKE '%' || ? || '%')`,
		string(model.StatusPending), oldID, oldID)
	if err != nil {
		return fmt.Errorf("failed to select queue entries for remap: %w", err)
	}

	type update struct {
		id       int64
		entityID string
		payload  sql.NullString
	}
	var updates []update
	for rows.Next() {
		var (
			id       int64
			kindStr  string
			entityID string
			payload  sql.NullString
		)
		if err := rows.Scan(&id, &kindStr, &entityID, &payload); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan queue entry for remap: %w", err)
		}

		if entityID == oldID {
			entityID = newID
		}
		if payload.Valid && payload.String != "" {
			e, err := model.Decode(model.Kind(kindStr), []byte(payload.String))
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to decode queued %s payload: %w", kindStr, err)
			}
			model.RewriteID(e, oldID, newID)
			rewritten, err := model.Encode(e)
			if err != nil {
				rows.Close()
				return err
			}
			payload.String = string(rewritten)
		}
		updates = append(updates, update{id: id, entityID: entityID, payload: payload})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating queue entries for remap: %w", err)
	}
	rows.Close()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sync_queue SET entity_id = ?, payload = ? WHERE id = ?`,
			u.entityID, u.payload, u.id); err != nil {
			return fmt.Errorf("failed to rewrite queue entry %d: %w", u.id, err)
		}
	}
	return nil
}

const selectEntry = `
	SELECT id, op, kind, entity_id, payload, status, retries,
	       COALESCE(last_error, ''), enqueued_at, next_attempt_at
	FROM sync_queue`

func (db *DB) getEntry(ctx context.Context, id int64) (*model.QueueEntry, error) {
	row := db.conn.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %d: %w", id, ErrNotFound)
	}
	return entry, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*model.QueueEntry, error) {
	var (
		entry       model.QueueEntry
		op, kind    string
		status      string
		payload     sql.NullString
		enqueuedAt  string
		nextAttempt string
	)
	err := row.Scan(&entry.ID, &op, &kind, &entry.EntityID, &payload,
		&status, &entry.Retries, &entry.LastError, &enqueuedAt, &nextAttempt)
	if err != nil {
		return nil, err
	}

	entry.Op = model.Operation(op)
	entry.Kind = model.Kind(kind)
	entry.Status = model.EntryStatus(status)
	if payload.Valid {
		entry.Payload = json.RawMessage(payload.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
		entry.EnqueuedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, nextAttempt); err == nil {
		entry.NextAttemptAt = t
	}
	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]*model.QueueEntry, error) {
	var entries []*model.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return entries, nil
}

func (db *DB) setStatus(ctx context.Context, id int64, from, to model.EntryStatus) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to mark entry %d %s: %w", id, to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s entry %d: %w", from, id, ErrNotFound)
	}
	return nil
}

func payloadArg(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}
