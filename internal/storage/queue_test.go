package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/coachtools/matchsync/internal/model"
)

func mustEnqueue(t *testing.T, db *DB, op model.Operation, kind model.Kind, entityID string, payload string) int64 {
	t.Helper()
	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	id, err := db.Enqueue(context.Background(), op, kind, entityID, raw)
	if err != nil {
		t.Fatalf("Enqueue(%s %s %s) failed: %v", op, kind, entityID, err)
	}
	return id
}

// TestEnqueue_FIFO tests strict FIFO ordering of pending entries
func TestEnqueue_FIFO(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustEnqueue(t, db, model.OpCreate, model.KindPlayer, "p1", `{"id":"p1","name":"A"}`)
	mustEnqueue(t, db, model.OpUpdate, model.KindPlayer, "p1", `{"id":"p1","name":"B"}`)
	mustEnqueue(t, db, model.OpDelete, model.KindPlayer, "p1", "")

	entries, err := db.TakePending(ctx, 10, time.Now())
	if err != nil {
		t.Fatalf("TakePending() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	want := []model.Operation{model.OpCreate, model.OpUpdate, model.OpDelete}
	for i, entry := range entries {
		if entry.Op != want[i] {
			t.Errorf("entry %d op = %s, want %s", i, entry.Op, want[i])
		}
	}
}

// TestEnqueue_Validation tests entry validation at the enqueue boundary
func TestEnqueue_Validation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Enqueue(ctx, model.OpCreate, model.KindPlayer, "p1", nil); err == nil {
		t.Error("Enqueue accepted a create without payload")
	}
	if _, err := db.Enqueue(ctx, "rename", model.KindPlayer, "p1", json.RawMessage(`{}`)); err == nil {
		t.Error("Enqueue accepted an unknown operation")
	}
	if _, err := db.Enqueue(ctx, model.OpDelete, model.KindPlayer, "p1", nil); err != nil {
		t.Errorf("Enqueue rejected a delete without payload: %v", err)
	}
}

// TestTakePending_RespectsBackoff tests that delayed entries are excluded
func TestTakePending_RespectsBackoff(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id := mustEnqueue(t, db, model.OpCreate, model.KindPlayer, "p1", `{"id":"p1","name":"A"}`)
	policy := BackoffPolicy{Base: time.Minute, Max: time.Hour, MaxRetries: 5}
	terminal, err := db.MarkFailed(ctx, id, errors.New("boom"), policy, now)
	if err != nil || terminal {
		t.Fatalf("MarkFailed() = (%v, %v)", terminal, err)
	}

	entries, err := db.TakePending(ctx, 10, now)
	if err != nil {
		t.Fatalf("TakePending() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("backoff-delayed entry was taken")
	}

	entries, err = db.TakePending(ctx, 10, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("TakePending() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("due entry was not taken")
	}
	if entries[0].Retries != 1 || entries[0].LastError != "boom" {
		t.Errorf("entry = %+v, want retries=1 lastError=boom", entries[0])
	}
}

// TestBackoffPolicy_Delay tests doubling and the cap
func TestBackoffPolicy_Delay(t *testing.T) {
	p := BackoffPolicy{Base: 2 * time.Second, Max: 10 * time.Second}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %s, want %s", i+1, got, w)
		}
	}
}

// TestMarkFailed_RetryCap tests that the initial attempt plus MaxRetries
// retries are allowed before the entry fails terminally
func TestMarkFailed_RetryCap(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id := mustEnqueue(t, db, model.OpCreate, model.KindPlayer, "p1", `{"id":"p1","name":"A"}`)
	policy := BackoffPolicy{Base: time.Second, Max: time.Minute, MaxRetries: 3}

	// Failures 1..3 schedule retries; failure 4 exceeds the budget.
	for i := 1; i <= 3; i++ {
		terminal, err := db.MarkFailed(ctx, id, fmt.Errorf("attempt %d", i), policy, now)
		if err != nil {
			t.Fatalf("MarkFailed() failed: %v", err)
		}
		if terminal {
			t.Fatalf("failure %d was terminal, want retry", i)
		}
	}
	terminal, err := db.MarkFailed(ctx, id, errors.New("final"), policy, now)
	if err != nil {
		t.Fatalf("MarkFailed() failed: %v", err)
	}
	if !terminal {
		t.Fatal("failure beyond the retry budget was not terminal")
	}

	failed, err := db.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed() failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Retries != 4 {
		t.Errorf("failed entries = %+v", failed)
	}
}

// TestMarkPermanentlyFailed tests that validation rejections skip retries
func TestMarkPermanentlyFailed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id := mustEnqueue(t, db, model.OpCreate, model.KindPlayer, "p1", `{"id":"p1","name":"A"}`)
	if err := db.MarkPermanentlyFailed(ctx, id, errors.New("rejected")); err != nil {
		t.Fatalf("MarkPermanentlyFailed() failed: %v", err)
	}

	failed, err := db.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed() failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("got %d failed entries, want 1", len(failed))
	}
	if failed[0].Retries != 0 {
		t.Errorf("retries = %d, want 0 (permanent failure consumes no retries)", failed[0].Retries)
	}

	// Failed entries are excluded from drains.
	entries, err := db.TakePending(ctx, 10, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("TakePending() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Error("terminally failed entry was taken for drain")
	}
}

// TestRetryFailed tests the user-forced retry path
func TestRetryFailed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id := mustEnqueue(t, db, model.OpCreate, model.KindPlayer, "p1", `{"id":"p1","name":"A"}`)
	if err := db.RetryFailed(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("RetryFailed on pending entry = %v, want ErrNotFound", err)
	}

	if err := db.MarkPermanentlyFailed(ctx, id, errors.New("rejected")); err != nil {
		t.Fatalf("MarkPermanentlyFailed() failed: %v", err)
	}
	if err := db.RetryFailed(ctx, id); err != nil {
		t.Fatalf("RetryFailed() failed: %v", err)
	}

	entries, err := db.TakePending(ctx, 10, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("TakePending() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatal("retried entry is not pending")
	}
	if entries[0].Retries != 0 || entries[0].LastError != "" {
		t.Errorf("entry = %+v, want fresh retry budget", entries[0])
	}
}

// TestDiscardFailed tests dropping a terminally failed entry
func TestDiscardFailed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id := mustEnqueue(t, db, model.OpDelete, model.KindPlayer, "p1", "")
	if err := db.DiscardFailed(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("DiscardFailed on pending entry = %v, want ErrNotFound", err)
	}
	if err := db.MarkPermanentlyFailed(ctx, id, errors.New("rejected")); err != nil {
		t.Fatalf("MarkPermanentlyFailed() failed: %v", err)
	}
	if err := db.DiscardFailed(ctx, id); err != nil {
		t.Fatalf("DiscardFailed() failed: %v", err)
	}
	n, err := db.FailedCount(ctx)
	if err != nil || n != 0 {
		t.Errorf("FailedCount() = (%d, %v), want (0, nil)", n, err)
	}
}

// TestResetInFlight tests crash recovery for in-flight entries
func TestResetInFlight(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id := mustEnqueue(t, db, model.OpCreate, model.KindPlayer, "p1", `{"id":"p1","name":"A"}`)
	if err := db.MarkInFlight(ctx, id); err != nil {
		t.Fatalf("MarkInFlight() failed: %v", err)
	}

	n, err := db.ResetInFlight(ctx)
	if err != nil {
		t.Fatalf("ResetInFlight() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d entries, want 1", n)
	}

	entries, err := db.TakePending(ctx, 10, time.Now())
	if err != nil {
		t.Fatalf("TakePending() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Error("recovered entry is not pending")
	}
}

// TestMarkSucceeded tests queue entry removal on confirmation
func TestMarkSucceeded(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id := mustEnqueue(t, db, model.OpCreate, model.KindPlayer, "p1", `{"id":"p1","name":"A"}`)
	if err := db.MarkSucceeded(ctx, id); err != nil {
		t.Fatalf("MarkSucceeded() failed: %v", err)
	}
	if err := db.MarkSucceeded(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second MarkSucceeded = %v, want ErrNotFound", err)
	}
}

// TestRecordIDRemap tests the transactional identifier rewrite: id map,
// entity rows, references, timer keys, and pending queue payloads
func TestRecordIDRemap(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	player, err := db.PutEntity(ctx, &model.Player{Name: "Alice"})
	if err != nil {
		t.Fatalf("PutEntity() failed: %v", err)
	}
	localID := player.GetID()

	game, err := db.PutEntity(ctx, &model.SavedGame{
		TeamName:          "Hawks",
		OpponentName:      "Owls",
		SelectedPlayerIDs: []string{localID},
	})
	if err != nil {
		t.Fatalf("PutEntity() failed: %v", err)
	}

	gamePayload, _ := model.Encode(game)
	mustEnqueue(t, db, model.OpCreate, model.KindGame, game.GetID(), string(gamePayload))

	if err := db.PutTimerState(ctx, model.TimerState{GameID: localID, ElapsedSeconds: 1}); err != nil {
		t.Fatalf("PutTimerState() failed: %v", err)
	}

	if err := db.RecordIDRemap(ctx, model.KindPlayer, localID, "srv-1"); err != nil {
		t.Fatalf("RecordIDRemap() failed: %v", err)
	}

	// Mapping is durable and queryable.
	mapped, ok, err := db.LookupRemoteID(ctx, localID)
	if err != nil || !ok || mapped != "srv-1" {
		t.Fatalf("LookupRemoteID() = (%q, %v, %v), want (srv-1, true, nil)", mapped, ok, err)
	}

	// The player's own row moved to the new identifier.
	if _, err := db.GetEntity(ctx, model.KindPlayer, localID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old player row still present (err = %v)", err)
	}
	if _, err := db.GetEntity(ctx, model.KindPlayer, "srv-1"); err != nil {
		t.Errorf("remapped player row missing: %v", err)
	}

	// The game's reference was rewritten in place.
	got, err := db.GetEntity(ctx, model.KindGame, game.GetID())
	if err != nil {
		t.Fatalf("GetEntity(game) failed: %v", err)
	}
	if got.(*model.SavedGame).SelectedPlayerIDs[0] != "srv-1" {
		t.Errorf("game reference = %q, want srv-1", got.(*model.SavedGame).SelectedPlayerIDs[0])
	}

	// The pending queue payload was rewritten too.
	entries, err := db.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d pending entries, want 1", len(entries))
	}
	queued, err := model.Decode(model.KindGame, entries[0].Payload)
	if err != nil {
		t.Fatalf("failed to decode queued payload: %v", err)
	}
	if queued.(*model.SavedGame).SelectedPlayerIDs[0] != "srv-1" {
		t.Errorf("queued reference = %q, want srv-1", queued.(*model.SavedGame).SelectedPlayerIDs[0])
	}

	// Timer state keys follow the remap.
	if _, err := db.GetTimerState(ctx, "srv-1"); err != nil {
		t.Errorf("timer state did not follow remap: %v", err)
	}
}

// TestRecordIDRemap_EntityID tests that a remapped entry's entity_id column
// is rewritten so later operations resolve against the backend identifier
func TestRecordIDRemap_EntityID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustEnqueue(t, db, model.OpUpdate, model.KindPlayer, "local-p",
		`{"id":"local-p","name":"Alice"}`)

	if err := db.RecordIDRemap(ctx, model.KindPlayer, "local-p", "srv-9"); err != nil {
		t.Fatalf("RecordIDRemap() failed: %v", err)
	}

	entries, err := db.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	if entries[0].EntityID != "srv-9" {
		t.Errorf("entity id = %q, want srv-9", entries[0].EntityID)
	}
	var p model.Player
	if err := json.Unmarshal(entries[0].Payload, &p); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if p.ID != "srv-9" {
		t.Errorf("payload id = %q, want srv-9", p.ID)
	}
}

// TestOldestPendingEnqueuedAt tests queue age reporting
func TestOldestPendingEnqueuedAt(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.OldestPendingEnqueuedAt(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty queue: err = %v, want ErrNotFound", err)
	}

	before := time.Now().UTC().Add(-time.Second)
	mustEnqueue(t, db, model.OpDelete, model.KindPlayer, "p1", "")
	got, err := db.OldestPendingEnqueuedAt(ctx)
	if err != nil {
		t.Fatalf("OldestPendingEnqueuedAt() failed: %v", err)
	}
	if got.Before(before) || got.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("enqueue time %s out of range", got)
	}
}
