package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/coachtools/matchsync/internal/model"

	"github.com/google/uuid"
)

// Memory is an in-memory Store. It backs tests and local development, and it
// behaves like a real backend in the one way that matters to the engine: it
// assigns its own identifiers on create.
type Memory struct {
	mu       sync.Mutex
	entities map[model.Kind]map[string]json.RawMessage
	order    map[model.Kind][]string
	timers   map[string]model.TimerState

	// FailNext queues injected errors, consumed one per call, for tests.
	failNext []error
	// Unreachable makes Ping fail and every call return a transient error.
	unreachable bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		entities: make(map[model.Kind]map[string]json.RawMessage),
		order:    make(map[model.Kind][]string),
		timers:   make(map[string]model.TimerState),
	}
}

// FailNextWith queues errors returned by subsequent calls, in order, before
// any state change happens.
func (m *Memory) FailNextWith(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = append(m.failNext, errs...)
}

// SetUnreachable toggles simulated loss of backend reachability.
func (m *Memory) SetUnreachable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = down
}

func (m *Memory) intercept(op string, kind model.Kind) error {
	if m.unreachable {
		return Transient(op, kind, fmt.Errorf("backend unreachable"))
	}
	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		return err
	}
	return nil
}

// Create implements Store. The stored entity gets a backend-assigned
// identifier regardless of the identifier in the payload.
func (m *Memory) Create(ctx context.Context, kind model.Kind, payload json.RawMessage) (string, json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.intercept("create", kind); err != nil {
		return "", nil, err
	}

	e, err := model.Decode(kind, payload)
	if err != nil {
		return "", nil, Permanent("create", kind, err)
	}
	if err := e.Validate(); err != nil {
		return "", nil, Permanent("create", kind, err)
	}

	remoteID := uuid.NewString()
	e.SetID(remoteID)
	stored, err := model.Encode(e)
	if err != nil {
		return "", nil, Permanent("create", kind, err)
	}

	if m.entities[kind] == nil {
		m.entities[kind] = make(map[string]json.RawMessage)
	}
	m.entities[kind][remoteID] = stored
	m.order[kind] = append(m.order[kind], remoteID)
	return remoteID, stored, nil
}

// Update implements Store.
func (m *Memory) Update(ctx context.Context, kind model.Kind, id string, payload json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.intercept("update", kind); err != nil {
		return nil, err
	}

	if _, ok := m.entities[kind][id]; !ok {
		return nil, Permanent("update", kind, fmt.Errorf("no %s with id %s", kind, id))
	}

	e, err := model.Decode(kind, payload)
	if err != nil {
		return nil, Permanent("update", kind, err)
	}
	if err := e.Validate(); err != nil {
		return nil, Permanent("update", kind, err)
	}
	e.SetID(id)
	stored, err := model.Encode(e)
	if err != nil {
		return nil, Permanent("update", kind, err)
	}
	m.entities[kind][id] = stored
	return stored, nil
}

// Delete implements Store. Deleting a missing entity is not an error.
func (m *Memory) Delete(ctx context.Context, kind model.Kind, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.intercept("delete", kind); err != nil {
		return false, err
	}

	if _, ok := m.entities[kind][id]; !ok {
		return false, nil
	}
	delete(m.entities[kind], id)
	return true, nil
}

// List implements Store, returning entities in creation order.
func (m *Memory) List(ctx context.Context, kind model.Kind) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.intercept("list", kind); err != nil {
		return nil, err
	}

	var out []json.RawMessage
	for _, id := range m.order[kind] {
		if data, ok := m.entities[kind][id]; ok {
			out = append(out, data)
		}
	}
	return out, nil
}

// PutTimerState implements Store.
func (m *Memory) PutTimerState(ctx context.Context, ts model.TimerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.intercept("put_timer", model.KindGame); err != nil {
		return err
	}
	m.timers[ts.GameID] = ts
	return nil
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return Transient("ping", "", fmt.Errorf("backend unreachable"))
	}
	return nil
}

// Get returns the stored payload for an entity, for assertions in tests.
func (m *Memory) Get(kind model.Kind, id string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entities[kind][id]
	return data, ok
}

// TimerState returns the stored timer state for a game, for tests.
func (m *Memory) TimerState(gameID string) (model.TimerState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.timers[gameID]
	return ts, ok
}

// IDs returns all stored identifiers of a kind, sorted, for tests.
func (m *Memory) IDs(kind model.Kind) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entities[kind]))
	for id := range m.entities[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
