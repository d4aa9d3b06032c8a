package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/coachtools/matchsync/internal/model"
)

// openTestDB opens an initialized store under a temporary directory
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

// TestPutEntity_AssignsLocalID tests that new entities get a local identifier
func TestPutEntity_AssignsLocalID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	stored, err := db.PutEntity(ctx, &model.Player{Name: "Alice"})
	if err != nil {
		t.Fatalf("PutEntity() failed: %v", err)
	}
	if !model.IsLocalID(stored.GetID()) {
		t.Errorf("assigned id %q is not a local identifier", stored.GetID())
	}

	got, err := db.GetEntity(ctx, model.KindPlayer, stored.GetID())
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.(*model.Player).Name != "Alice" {
		t.Errorf("round-tripped player = %+v", got)
	}
	if got.(*model.Player).CreatedAt.IsZero() {
		t.Error("CreatedAt was not stamped")
	}
}

// TestPutEntity_Update tests upsert semantics for an existing identifier
func TestPutEntity_Update(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	stored, err := db.PutEntity(ctx, &model.Player{Name: "Alice"})
	if err != nil {
		t.Fatalf("PutEntity() failed: %v", err)
	}

	updated := stored.(*model.Player)
	updated.Name = "Alice B"
	if _, err := db.PutEntity(ctx, updated); err != nil {
		t.Fatalf("PutEntity() update failed: %v", err)
	}

	got, err := db.GetEntity(ctx, model.KindPlayer, stored.GetID())
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.(*model.Player).Name != "Alice B" {
		t.Errorf("name = %q, want Alice B", got.(*model.Player).Name)
	}

	n, err := db.CountEntities(ctx, model.KindPlayer)
	if err != nil {
		t.Fatalf("CountEntities() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 (update must not create a new row)", n)
	}
}

// TestPutEntity_Invalid tests that validation failures reach the caller
func TestPutEntity_Invalid(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.PutEntity(context.Background(), &model.Player{}); err == nil {
		t.Error("PutEntity accepted a player without a name")
	}
}

// TestGetEntity_NotFound tests the sentinel for missing entities
func TestGetEntity_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetEntity(context.Background(), model.KindPlayer, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// TestDeleteEntity tests delete and its existed report
func TestDeleteEntity(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	stored, err := db.PutEntity(ctx, &model.Season{Name: "Fall"})
	if err != nil {
		t.Fatalf("PutEntity() failed: %v", err)
	}

	existed, err := db.DeleteEntity(ctx, model.KindSeason, stored.GetID())
	if err != nil || !existed {
		t.Fatalf("DeleteEntity() = (%v, %v), want (true, nil)", existed, err)
	}
	existed, err = db.DeleteEntity(ctx, model.KindSeason, stored.GetID())
	if err != nil || existed {
		t.Fatalf("second DeleteEntity() = (%v, %v), want (false, nil)", existed, err)
	}
}

// TestListEntities_SkipsCorrupt tests that a corrupt row does not hide the rest
func TestListEntities_SkipsCorrupt(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.PutEntity(ctx, &model.Player{Name: "Alice"}); err != nil {
		t.Fatalf("PutEntity() failed: %v", err)
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO entities (kind, id, data, created_at, updated_at)
		VALUES ('player', 'broken', '{not json', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("failed to insert corrupt row: %v", err)
	}

	players, err := db.ListEntities(ctx, model.KindPlayer)
	if len(players) != 1 {
		t.Fatalf("got %d players, want 1", len(players))
	}

	var corrupt *CorruptRecordError
	if !errors.As(err, &corrupt) {
		t.Fatalf("err = %v, want CorruptRecordError", err)
	}
	if corrupt.ID != "broken" {
		t.Errorf("corrupt record id = %q, want broken", corrupt.ID)
	}
}

// TestTimerStates tests the timer state CRUD cycle
func TestTimerStates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.PutTimerState(ctx, model.TimerState{GameID: "g1", ElapsedSeconds: 90}); err != nil {
		t.Fatalf("PutTimerState() failed: %v", err)
	}
	if err := db.PutTimerState(ctx, model.TimerState{GameID: "g1", ElapsedSeconds: 120}); err != nil {
		t.Fatalf("PutTimerState() upsert failed: %v", err)
	}

	ts, err := db.GetTimerState(ctx, "g1")
	if err != nil {
		t.Fatalf("GetTimerState() failed: %v", err)
	}
	if ts.ElapsedSeconds != 120 {
		t.Errorf("elapsed = %d, want 120", ts.ElapsedSeconds)
	}

	if err := db.PutTimerState(ctx, model.TimerState{ElapsedSeconds: 5}); err == nil {
		t.Error("PutTimerState accepted an empty game id")
	}

	if err := db.DeleteTimerState(ctx, "g1"); err != nil {
		t.Fatalf("DeleteTimerState() failed: %v", err)
	}
	if _, err := db.GetTimerState(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after delete", err)
	}
}
