// Package model defines the entity types tracked by the sync engine.
//
// Entities are flat, JSON-encodable structs with last-write-wins semantics:
// each carries created/updated timestamps and a string identifier. Identifiers
// are locally generated (prefixed "local-") until the remote backend assigns a
// canonical identifier on first successful sync.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an entity collection.
type Kind string

const (
	KindPlayer     Kind = "player"
	KindSeason     Kind = "season"
	KindTournament Kind = "tournament"
	KindGame       Kind = "game"
)

// Kinds lists all entity kinds in dependency order: entities earlier in the
// list never reference entities later in the list.
func Kinds() []Kind {
	return []Kind{KindPlayer, KindSeason, KindTournament, KindGame}
}

// ValidKind reports whether k names a known entity collection.
func ValidKind(k Kind) bool {
	switch k {
	case KindPlayer, KindSeason, KindTournament, KindGame:
		return true
	}
	return false
}

// LocalIDPrefix marks identifiers generated on this device that have not yet
// been replaced by a backend-assigned identifier.
const LocalIDPrefix = "local-"

// NewLocalID generates a fresh local identifier. Local identifiers are never
// reused: deletion of an entity does not return its identifier to a pool.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was generated locally and still awaits a
// canonical identifier from the backend.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Player is a roster member.
type Player struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	JerseyNumber string    `json:"jerseyNumber,omitempty"`
	IsGoalie     bool      `json:"isGoalie,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Season groups games played over a recurring period.
type Season struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	// DefaultRosterIDs is an ordered set of Player identifiers preselected
	// when a game is created under this season.
	DefaultRosterIDs []string  `json:"defaultRosterIds,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Tournament groups games played at a single event.
type Tournament struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	DefaultRosterIDs []string  `json:"defaultRosterIds,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// EventType classifies a game event.
type EventType string

const (
	EventGoal         EventType = "goal"
	EventOpponentGoal EventType = "opponent_goal"
	EventSubstitution EventType = "substitution"
	EventPeriodEnd    EventType = "period_end"
)

// GameEvent is a single timestamped occurrence within a game.
type GameEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	TimeSeconds int       `json:"timeSeconds"`
	// ScorerID and AssisterID reference Players; either may be empty.
	ScorerID   string `json:"scorerId,omitempty"`
	AssisterID string `json:"assisterId,omitempty"`
}

// FieldPlacement is an on-field position assignment for one player.
type FieldPlacement struct {
	PlayerID string  `json:"playerId"`
	RelX     float64 `json:"relX"`
	RelY     float64 `json:"relY"`
}

// SavedGame is a tracked game: metadata, event log, and roster selections.
// It holds foreign keys into the player, season, and tournament collections.
type SavedGame struct {
	ID           string `json:"id"`
	TeamName     string `json:"teamName"`
	OpponentName string `json:"opponentName"`
	GameDate     string `json:"gameDate"` // YYYY-MM-DD

	SeasonID     string `json:"seasonId,omitempty"`
	TournamentID string `json:"tournamentId,omitempty"`

	Events            []GameEvent      `json:"events,omitempty"`
	SelectedPlayerIDs []string         `json:"selectedPlayerIds,omitempty"`
	Placements        []FieldPlacement `json:"placements,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimerState is the running-clock state for one game. It is keyed by game
// identifier, always resident locally, and synchronized opportunistically
// rather than through the mutation queue (stale timer state is tolerable).
type TimerState struct {
	GameID         string    `json:"gameId"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Entity is implemented by every syncable entity type.
type Entity interface {
	Kind() Kind
	GetID() string
	SetID(id string)
	Validate() error
}

func (p *Player) Kind() Kind       { return KindPlayer }
func (p *Player) GetID() string    { return p.ID }
func (p *Player) SetID(id string)  { p.ID = id }
func (s *Season) Kind() Kind       { return KindSeason }
func (s *Season) GetID() string    { return s.ID }
func (s *Season) SetID(id string)  { s.ID = id }
func (t *Tournament) Kind() Kind   { return KindTournament }
func (t *Tournament) GetID() string  { return t.ID }
func (t *Tournament) SetID(id string) { t.ID = id }
func (g *SavedGame) Kind() Kind      { return KindGame }
func (g *SavedGame) GetID() string   { return g.ID }
func (g *SavedGame) SetID(id string) { g.ID = id }

// Validate checks required Player fields.
func (p *Player) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("player name is required")
	}
	return nil
}

// Validate checks required Season fields.
func (s *Season) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("season name is required")
	}
	return nil
}

// Validate checks required Tournament fields.
func (t *Tournament) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tournament name is required")
	}
	return nil
}

// Validate checks required SavedGame fields.
func (g *SavedGame) Validate() error {
	if g.TeamName == "" {
		return fmt.Errorf("team name is required")
	}
	if g.OpponentName == "" {
		return fmt.Errorf("opponent name is required")
	}
	for i, ev := range g.Events {
		if ev.Type == "" {
			return fmt.Errorf("event %d: type is required", i)
		}
		if ev.TimeSeconds < 0 {
			return fmt.Errorf("event %d: negative game time", i)
		}
	}
	return nil
}

// New returns a zero value of the entity type for kind, ready for decoding.
func New(kind Kind) (Entity, error) {
	switch kind {
	case KindPlayer:
		return &Player{}, nil
	case KindSeason:
		return &Season{}, nil
	case KindTournament:
		return &Tournament{}, nil
	case KindGame:
		return &SavedGame{}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// Decode unmarshals a JSON payload into the concrete entity type for kind.
func Decode(kind Kind, data []byte) (Entity, error) {
	e, err := New(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return e, nil
}

// Encode marshals an entity to its JSON payload.
func Encode(e Entity) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %s: %w", e.Kind(), e.GetID(), err)
	}
	return data, nil
}
