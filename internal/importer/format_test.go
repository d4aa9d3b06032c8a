package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/coachtools/matchsync/internal/model"
	"github.com/coachtools/matchsync/internal/storage"
)

// TestParse_WrappedFormat tests the current export format
func TestParse_WrappedFormat(t *testing.T) {
	data := []byte(`{
		"schemaVersion": 2,
		"collections": {
			"players": [{"id": "p1", "name": "Alice"}],
			"games": [{"id": "g1", "teamName": "Hawks", "opponentName": "Owls"}],
			"timerStates": {"g1": {"gameId": "g1", "elapsedSeconds": 12}}
		}
	}`)

	payload, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(payload.Players) != 1 || payload.Players[0].Name != "Alice" {
		t.Errorf("players = %+v", payload.Players)
	}
	if len(payload.Games) != 1 || payload.Games[0].TeamName != "Hawks" {
		t.Errorf("games = %+v", payload.Games)
	}
	if payload.TimerStates["g1"].ElapsedSeconds != 12 {
		t.Errorf("timer states = %+v", payload.TimerStates)
	}
}

// TestParse_LegacyFormat tests the flat variant with its old key names
func TestParse_LegacyFormat(t *testing.T) {
	data := []byte(`{
		"players": [{"id": "p1", "name": "Alice"}],
		"seasonsList": [{"id": "s1", "name": "Fall"}],
		"tournamentsList": [{"id": "t1", "name": "Cup"}],
		"savedGames": [{"id": "g1", "teamName": "Hawks", "opponentName": "Owls"}],
		"timerStates": {"g1": {"gameId": "g1", "elapsedSeconds": 7}}
	}`)

	payload, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	counts := payload.Counts()
	for _, kind := range model.Kinds() {
		if counts[kind] != 1 {
			t.Errorf("count[%s] = %d, want 1", kind, counts[kind])
		}
	}
}

// TestParse_UnsupportedVersion tests rejection of future schema versions
func TestParse_UnsupportedVersion(t *testing.T) {
	data := []byte(`{"schemaVersion": 99, "collections": {}}`)
	if _, err := Parse(data); err == nil {
		t.Error("Parse accepted a future schema version")
	}
}

// TestParse_Invalid tests rejection of non-JSON input
func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Error("Parse accepted invalid input")
	}
}

// TestSnapshot_RoundTrip tests that an exported store re-imports cleanly
func TestSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	if _, err := New(NewLocalTarget(db), nil).Run(ctx, testPayload(), ModeMerge); err != nil {
		t.Fatalf("seed import failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "export.json")
	if err := WriteSnapshot(ctx, db, path); err != nil {
		t.Fatalf("WriteSnapshot() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	payload, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() of written export failed: %v", err)
	}
	if len(payload.Players) != 2 || len(payload.Games) != 1 {
		t.Errorf("round-tripped export: %d players, %d games", len(payload.Players), len(payload.Games))
	}
	if len(payload.TimerStates) != 1 {
		t.Errorf("round-tripped export: %d timer states", len(payload.TimerStates))
	}
}
