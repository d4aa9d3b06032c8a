package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coachtools/matchsync/internal/connectivity"
	"github.com/coachtools/matchsync/internal/engine"
	"github.com/coachtools/matchsync/internal/model"
	"github.com/coachtools/matchsync/internal/storage"
)

func testReporter(t *testing.T, online bool) (*Reporter, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return New(db, connectivity.NewStatic(online)), db
}

// TestCollect_QueueCounts tests pending/failed counts and oldest age
func TestCollect_QueueCounts(t *testing.T) {
	reporter, db := testReporter(t, true)
	ctx := context.Background()

	payload := json.RawMessage(`{"id":"p1","name":"Alice"}`)
	if _, err := db.Enqueue(ctx, model.OpCreate, model.KindPlayer, "p1", payload); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	failedID, err := db.Enqueue(ctx, model.OpUpdate, model.KindPlayer, "p2", payload)
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := db.MarkPermanentlyFailed(ctx, failedID, errors.New("rejected")); err != nil {
		t.Fatalf("MarkPermanentlyFailed() failed: %v", err)
	}

	snap, err := reporter.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if snap.Pending != 1 || snap.Failed != 1 {
		t.Errorf("snapshot = %+v, want 1 pending / 1 failed", snap)
	}
	if !snap.Online {
		t.Error("snapshot reports offline")
	}
	if snap.OldestPendingAge <= 0 {
		t.Errorf("oldest age = %s, want > 0", snap.OldestPendingAge)
	}
	if len(snap.FailedEntries) != 1 || snap.FailedEntries[0].LastError != "rejected" {
		t.Errorf("failed entries = %+v", snap.FailedEntries)
	}
}

// TestCollect_EmptyQueue tests the zero state
func TestCollect_EmptyQueue(t *testing.T) {
	reporter, _ := testReporter(t, false)

	snap, err := reporter.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if snap.Pending != 0 || snap.Failed != 0 || snap.OldestPendingAge != 0 {
		t.Errorf("snapshot = %+v, want all zero", snap)
	}
	if snap.Online {
		t.Error("snapshot reports online")
	}
}

// TestOnDrainComplete tests that drain results land in the snapshot
func TestOnDrainComplete(t *testing.T) {
	reporter, _ := testReporter(t, true)

	reporter.OnDrainComplete(engine.DrainResult{Applied: 3, Remapped: 1, Duration: time.Second})

	snap, err := reporter.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if snap.LastDrain.Applied != 3 || snap.LastDrain.Remapped != 1 {
		t.Errorf("last drain = %+v", snap.LastDrain)
	}
	if snap.LastDrainAt.IsZero() {
		t.Error("last drain time not recorded")
	}
}

// TestMetricsHandler tests the Prometheus exposition endpoint
func TestMetricsHandler(t *testing.T) {
	reporter, _ := testReporter(t, true)
	reporter.OnDrainComplete(engine.DrainResult{Applied: 2})
	if _, err := reporter.Collect(context.Background()); err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}

	rec := httptest.NewRecorder()
	reporter.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, metric := range []string{
		"matchsync_queue_pending",
		"matchsync_drains_total 1",
		"matchsync_entries_applied_total 2",
		"matchsync_online 1",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("metrics output missing %q", metric)
		}
	}
}
