// Package importer bulk-loads a full data export into a target store,
// rewriting cross-entity references as the target assigns new identifiers.
package importer

import (
	"encoding/json"
	"fmt"

	"github.com/coachtools/matchsync/internal/model"
)

// ExportPayload is the full-export shape: the five entity collections, each
// entity carrying its original identifier.
type ExportPayload struct {
	Players     []*model.Player            `json:"players,omitempty"`
	Seasons     []*model.Season            `json:"seasons,omitempty"`
	Tournaments []*model.Tournament        `json:"tournaments,omitempty"`
	Games       []*model.SavedGame         `json:"games,omitempty"`
	TimerStates map[string]model.TimerState `json:"timerStates,omitempty"`
}

// ExportFile is the current on-disk export format: a schema version plus the
// collections under a wrapper key. The wrapper key is what distinguishes it
// from the legacy flat variant.
type ExportFile struct {
	SchemaVersion int           `json:"schemaVersion"`
	Collections   ExportPayload `json:"collections"`
}

// CurrentSchemaVersion is written by Snapshot and accepted by Parse.
const CurrentSchemaVersion = 2

// Parse decodes an export from either the current wrapped format or the
// legacy flat variant, detected by the presence of the "collections" wrapper
// key.
func Parse(data []byte) (*ExportPayload, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse export: %w", err)
	}

	if _, wrapped := probe["collections"]; wrapped {
		var file ExportFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse wrapped export: %w", err)
		}
		if file.SchemaVersion > CurrentSchemaVersion {
			return nil, fmt.Errorf("export schema version %d is newer than supported version %d",
				file.SchemaVersion, CurrentSchemaVersion)
		}
		return &file.Collections, nil
	}

	// Legacy flat variant: the collections sit at the top level under
	// their old key names.
	var legacy struct {
		Players     []*model.Player             `json:"players"`
		Seasons     []*model.Season             `json:"seasonsList"`
		Tournaments []*model.Tournament         `json:"tournamentsList"`
		Games       []*model.SavedGame          `json:"savedGames"`
		TimerStates map[string]model.TimerState `json:"timerStates"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("failed to parse legacy export: %w", err)
	}
	return &ExportPayload{
		Players:     legacy.Players,
		Seasons:     legacy.Seasons,
		Tournaments: legacy.Tournaments,
		Games:       legacy.Games,
		TimerStates: legacy.TimerStates,
	}, nil
}

// Counts returns the number of entities per collection, for logging.
func (p *ExportPayload) Counts() map[model.Kind]int {
	return map[model.Kind]int{
		model.KindPlayer:     len(p.Players),
		model.KindSeason:     len(p.Seasons),
		model.KindTournament: len(p.Tournaments),
		model.KindGame:       len(p.Games),
	}
}
