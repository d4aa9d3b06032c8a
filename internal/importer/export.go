package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coachtools/matchsync/internal/model"
	"github.com/coachtools/matchsync/internal/storage"
)

// Snapshot collects the full contents of the local store into the current
// export format. Corrupt rows are skipped rather than failing the export; a
// backup that omits an unreadable record beats no backup.
func Snapshot(ctx context.Context, db *storage.DB) (*ExportFile, error) {
	payload := ExportPayload{
		TimerStates: make(map[string]model.TimerState),
	}

	for _, kind := range model.Kinds() {
		entities, err := db.ListEntities(ctx, kind)
		if entities == nil && err != nil {
			return nil, fmt.Errorf("failed to export %s entities: %w", kind, err)
		}
		for _, e := range entities {
			switch v := e.(type) {
			case *model.Player:
				payload.Players = append(payload.Players, v)
			case *model.Season:
				payload.Seasons = append(payload.Seasons, v)
			case *model.Tournament:
				payload.Tournaments = append(payload.Tournaments, v)
			case *model.SavedGame:
				payload.Games = append(payload.Games, v)
			}
		}
	}

	states, err := db.ListTimerStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export timer states: %w", err)
	}
	for _, ts := range states {
		payload.TimerStates[ts.GameID] = ts
	}

	return &ExportFile{
		SchemaVersion: CurrentSchemaVersion,
		Collections:   payload,
	}, nil
}

// WriteSnapshot exports the local store to path as indented JSON. The file
// is written atomically via a temp file rename.
func WriteSnapshot(ctx context.Context, db *storage.DB, path string) error {
	file, err := Snapshot(ctx, db)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".export-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp export file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close export file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize export file: %w", err)
	}
	return nil
}

// DefaultExportName returns a timestamped export filename.
func DefaultExportName(now time.Time) string {
	return fmt.Sprintf("matchsync-export-%s.json", now.Format("2006-01-02-150405"))
}
