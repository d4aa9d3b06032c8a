package model

import (
	"testing"
)

// TestValidate_RequiredFields tests per-kind validation rules
func TestValidate_RequiredFields(t *testing.T) {
	if err := (&Player{}).Validate(); err == nil {
		t.Error("player without name validated")
	}
	if err := (&Player{Name: "Alice"}).Validate(); err != nil {
		t.Errorf("valid player rejected: %v", err)
	}

	if err := (&SavedGame{TeamName: "Hawks"}).Validate(); err == nil {
		t.Error("game without opponent validated")
	}
	game := &SavedGame{
		TeamName:     "Hawks",
		OpponentName: "Owls",
		Events:       []GameEvent{{Type: EventGoal, TimeSeconds: -1}},
	}
	if err := game.Validate(); err == nil {
		t.Error("game with negative event time validated")
	}
}

// TestDecode_RoundTrip tests that encode/decode preserves the concrete type
func TestDecode_RoundTrip(t *testing.T) {
	src := &Tournament{ID: "t1", Name: "Cup", DefaultRosterIDs: []string{"p1"}}
	data, err := Encode(src)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	e, err := Decode(KindTournament, data)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	got, ok := e.(*Tournament)
	if !ok {
		t.Fatalf("Decode() returned %T, want *Tournament", e)
	}
	if got.Name != "Cup" || got.DefaultRosterIDs[0] != "p1" {
		t.Errorf("decoded tournament = %+v", got)
	}
}

// TestDecode_UnknownKind tests rejection of unknown kinds
func TestDecode_UnknownKind(t *testing.T) {
	if _, err := Decode("widget", []byte(`{}`)); err == nil {
		t.Error("Decode accepted unknown kind")
	}
	if ValidKind("widget") {
		t.Error("ValidKind(widget) = true")
	}
}

// TestKinds_DependencyOrder tests that referenced kinds come first
func TestKinds_DependencyOrder(t *testing.T) {
	kinds := Kinds()
	if len(kinds) != 4 {
		t.Fatalf("got %d kinds", len(kinds))
	}
	if kinds[0] != KindPlayer || kinds[len(kinds)-1] != KindGame {
		t.Errorf("kinds = %v, want players first and games last", kinds)
	}
}
