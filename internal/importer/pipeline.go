package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/coachtools/matchsync/internal/model"
)

// Mode selects what happens to data already in the target store.
type Mode string

const (
	// ModeReplace deletes every existing entity of each kind before
	// loading, in reverse dependency order.
	ModeReplace Mode = "replace"

	// ModeMerge skips the deletion step and only adds.
	ModeMerge Mode = "merge"
)

// Target is the store the pipeline loads into. Create assigns and returns a
// brand-new identifier; the pipeline's identifier maps are built from those
// responses. The remote store satisfies this interface directly.
type Target interface {
	Create(ctx context.Context, kind model.Kind, payload json.RawMessage) (newID string, stored json.RawMessage, err error)
	Delete(ctx context.Context, kind model.Kind, id string) (bool, error)
	List(ctx context.Context, kind model.Kind) ([]json.RawMessage, error)
	PutTimerState(ctx context.Context, ts model.TimerState) error
}

// Summary reports the outcome of an import. Individual record failures do
// not abort the run; they are accumulated here so a large, partially corrupt
// backup recovers as much data as possible.
type Summary struct {
	Imported map[model.Kind]int   `json:"imported"`
	Failed   map[model.Kind][]int `json:"failed"` // indices into the source collections
	Gaps     []model.Gap          `json:"gaps,omitempty"`

	TimerStatesImported int `json:"timerStatesImported"`
	TimerStatesFailed   int `json:"timerStatesFailed"`
	Deleted             int `json:"deleted"` // replace-mode deletions
}

// FailedCount returns the total number of failed records across all kinds.
func (s *Summary) FailedCount() int {
	n := s.TimerStatesFailed
	for _, idxs := range s.Failed {
		n += len(idxs)
	}
	return n
}

// ImportedCount returns the total number of imported records.
func (s *Summary) ImportedCount() int {
	n := s.TimerStatesImported
	for _, c := range s.Imported {
		n += c
	}
	return n
}

// Pipeline loads a full export into a target store in dependency order,
// rewriting foreign keys through the identifier maps built phase by phase:
// players first, then seasons and tournaments, then games, then timer
// states. A run holds an exclusive lock across all four phases; ordinary
// mutations must not interleave or the maps would go stale.
type Pipeline struct {
	target Target
	logger *log.Logger

	mu sync.Mutex
}

// New creates an import pipeline. If logger is nil, a default logger writing
// to stderr is used.
func New(target Target, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(os.Stderr, "[import] ", log.LstdFlags)
	}
	return &Pipeline{target: target, logger: logger}
}

// Run imports the payload. Per-record failures are recorded in the summary
// and the phase continues; only target-wide failures (e.g. the replace-mode
// wipe failing) abort the run.
func (p *Pipeline) Run(ctx context.Context, payload *ExportPayload, mode Mode) (*Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	summary := &Summary{
		Imported: make(map[model.Kind]int),
		Failed:   make(map[model.Kind][]int),
	}

	if mode == ModeReplace {
		if err := p.wipe(ctx, summary); err != nil {
			return summary, err
		}
	}

	playerIDs := make(model.IDMap)
	seasonIDs := make(model.IDMap)
	tournamentIDs := make(model.IDMap)
	gameIDs := make(model.IDMap)

	// Phase 1: players, independent of everything else.
	for i, player := range payload.Players {
		newID, err := p.createClone(ctx, player, playerIDs, seasonIDs, tournamentIDs, summary)
		if err != nil {
			p.recordFailure(summary, model.KindPlayer, i, player.ID, err)
			continue
		}
		playerIDs[player.ID] = newID
		summary.Imported[model.KindPlayer]++
	}

	// Phase 2: seasons and tournaments; rosters rewritten through the
	// player map.
	for i, season := range payload.Seasons {
		newID, err := p.createClone(ctx, season, playerIDs, seasonIDs, tournamentIDs, summary)
		if err != nil {
			p.recordFailure(summary, model.KindSeason, i, season.ID, err)
			continue
		}
		seasonIDs[season.ID] = newID
		summary.Imported[model.KindSeason]++
	}
	for i, tournament := range payload.Tournaments {
		newID, err := p.createClone(ctx, tournament, playerIDs, seasonIDs, tournamentIDs, summary)
		if err != nil {
			p.recordFailure(summary, model.KindTournament, i, tournament.ID, err)
			continue
		}
		tournamentIDs[tournament.ID] = newID
		summary.Imported[model.KindTournament]++
	}

	// Phase 3: games, every player/season/tournament reference rewritten.
	for i, game := range payload.Games {
		newID, err := p.createClone(ctx, game, playerIDs, seasonIDs, tournamentIDs, summary)
		if err != nil {
			p.recordFailure(summary, model.KindGame, i, game.ID, err)
			continue
		}
		gameIDs[game.ID] = newID
		summary.Imported[model.KindGame]++
	}

	// Phase 4: timer states, keyed by the game identifiers rewritten in
	// phase 3. No field remapping.
	for oldGameID, ts := range payload.TimerStates {
		gameID, ok := gameIDs.Lookup(oldGameID)
		if !ok {
			// Anomaly in the input; keep the reference as-is rather
			// than guessing or dropping.
			summary.Gaps = append(summary.Gaps, model.Gap{
				Kind: model.KindGame, ID: oldGameID, Field: "timerStates", Ref: oldGameID,
			})
			p.logger.Printf("Warning: timer state references unknown game %s", oldGameID)
		}
		ts.GameID = gameID
		if err := p.target.PutTimerState(ctx, ts); err != nil {
			summary.TimerStatesFailed++
			p.logger.Printf("Warning: failed to import timer state for %s: %v", gameID, err)
			continue
		}
		summary.TimerStatesImported++
	}

	p.logger.Printf("Import complete: imported=%d failed=%d gaps=%d deleted=%d",
		summary.ImportedCount(), summary.FailedCount(), len(summary.Gaps), summary.Deleted)
	return summary, nil
}

// createClone deep-copies the entity, rewrites its references through the
// identifier maps, clears its identifier, and creates it in the target.
// Returns the identifier the target assigned.
func (p *Pipeline) createClone(ctx context.Context, src model.Entity, players, seasons, tournaments model.IDMap, summary *Summary) (string, error) {
	data, err := model.Encode(src)
	if err != nil {
		return "", err
	}
	clone, err := model.Decode(src.Kind(), data)
	if err != nil {
		return "", err
	}

	gaps := model.RewriteRefs(clone, players, seasons, tournaments)
	for _, gap := range gaps {
		p.logger.Printf("Warning: %s %s field %s references unknown id %s (left unchanged)",
			gap.Kind, gap.ID, gap.Field, gap.Ref)
	}
	summary.Gaps = append(summary.Gaps, gaps...)

	clone.SetID("") // the target assigns the new identifier
	payload, err := model.Encode(clone)
	if err != nil {
		return "", err
	}

	newID, _, err := p.target.Create(ctx, clone.Kind(), payload)
	if err != nil {
		return "", err
	}
	return newID, nil
}

func (p *Pipeline) recordFailure(summary *Summary, kind model.Kind, index int, id string, err error) {
	summary.Failed[kind] = append(summary.Failed[kind], index)
	p.logger.Printf("Warning: failed to import %s #%d (%s): %v", kind, index, id, err)
}

// timerWiper is implemented by targets that can clear timer state wholesale;
// the local-store target does, the abstract remote does not have to.
type timerWiper interface {
	WipeTimerStates(ctx context.Context) error
}

// wipe deletes every existing entity in reverse dependency order: games
// first, then tournaments and seasons, then players.
func (p *Pipeline) wipe(ctx context.Context, summary *Summary) error {
	kinds := model.Kinds()
	for i := len(kinds) - 1; i >= 0; i-- {
		kind := kinds[i]
		existing, err := p.target.List(ctx, kind)
		if err != nil {
			return fmt.Errorf("replace mode: failed to list %s entities: %w", kind, err)
		}
		for _, data := range existing {
			e, err := model.Decode(kind, data)
			if err != nil {
				p.logger.Printf("Warning: skipping undecodable %s during wipe: %v", kind, err)
				continue
			}
			if _, err := p.target.Delete(ctx, kind, e.GetID()); err != nil {
				return fmt.Errorf("replace mode: failed to delete %s %s: %w", kind, e.GetID(), err)
			}
			summary.Deleted++
		}
	}

	if w, ok := p.target.(timerWiper); ok {
		if err := w.WipeTimerStates(ctx); err != nil {
			return fmt.Errorf("replace mode: failed to wipe timer states: %w", err)
		}
	}
	return nil
}
