// Package engine drains the durable sync queue against the remote backend.
//
// A single background goroutine drives the drain; triggers (interval tick,
// reconnect transition, explicit force) funnel into it. At most one drain
// runs at a time, enforced by an atomic flag rather than queue-level locking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachtools/matchsync/internal/connectivity"
	"github.com/coachtools/matchsync/internal/model"
	"github.com/coachtools/matchsync/internal/remote"
	"github.com/coachtools/matchsync/internal/storage"
)

// ErrDrainInProgress is returned when a drain is triggered while one is
// already running. The trigger is a no-op; the running drain covers it.
var ErrDrainInProgress = errors.New("drain already in progress")

// ErrOffline is returned by the record methods when offline mode is disabled
// and the backend is unreachable.
var ErrOffline = errors.New("backend unreachable and offline mode is disabled")

// Config holds the engine's tunables.
type Config struct {
	// EnableOfflineMode allows mutations while the backend is unreachable.
	// When disabled, record calls fail fast with ErrOffline instead of
	// queueing.
	EnableOfflineMode bool

	// SyncOnReconnect triggers an immediate drain on the offline-to-online
	// transition.
	SyncOnReconnect bool

	// MaxRetries caps transient retries per entry; must be >= 0.
	MaxRetries int

	// BatchSize is the number of entries taken per batch; must be >= 1.
	BatchSize int

	// SyncInterval is the periodic drain cadence while online.
	SyncInterval time.Duration

	// BackoffBase is the first retry delay; it doubles per attempt up to
	// BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// CallTimeout bounds each remote store call. A timeout is a transient
	// failure.
	CallTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		EnableOfflineMode: true,
		SyncOnReconnect:   true,
		MaxRetries:        5,
		BatchSize:         20,
		SyncInterval:      30 * time.Second,
		BackoffBase:       2 * time.Second,
		BackoffMax:        5 * time.Minute,
		CallTimeout:       15 * time.Second,
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0 (got %d)", c.MaxRetries)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batchSize must be >= 1 (got %d)", c.BatchSize)
	}
	return nil
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Applied          int           `json:"applied"`
	Failed           int           `json:"failed"`
	TerminalFailures int           `json:"terminalFailures"`
	Remapped         int           `json:"remapped"`
	Batches          int           `json:"batches"`
	Cancelled        bool          `json:"cancelled"`
	Duration         time.Duration `json:"duration"`
}

// Events receives engine notifications. Implementations must not block; the
// dashboard handler is the expected consumer. All methods may be called from
// the drain goroutine.
type Events interface {
	OnDrainComplete(result DrainResult)
	OnEntryFailed(entry *model.QueueEntry, terminal bool)
}

// Engine owns the drain loop. Construct with New, then Start/Stop for
// background operation, or call ForceSync for a one-shot drain.
type Engine struct {
	cfg     Config
	db      *storage.DB
	remote  remote.Store
	monitor connectivity.Monitor
	logger  *log.Logger
	events  Events

	draining atomic.Bool
	now      func() time.Time

	kick        chan struct{}
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates an Engine. If logger is nil, a default logger writing to
// stderr is used. events may be nil.
func New(db *storage.DB, rs remote.Store, monitor connectivity.Monitor, cfg Config, logger *log.Logger, events Events) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		cfg:     cfg,
		db:      db,
		remote:  rs,
		monitor: monitor,
		logger:  logger,
		events:  events,
		now:     time.Now,
		kick:    make(chan struct{}, 1),
	}, nil
}

// Start launches the background drain loop: a periodic tick while online,
// plus an immediate drain on reconnect when configured. In-flight entries
// left by a crash are reset to pending first.
func (e *Engine) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	reset, err := e.db.ResetInFlight(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to recover in-flight entries: %w", err)
	}
	if reset > 0 {
		e.logger.Printf("Recovered %d in-flight entries from a previous run", reset)
	}

	if e.cfg.SyncOnReconnect {
		e.unsubscribe = e.monitor.Subscribe(func(online bool) {
			if online {
				e.Kick()
			}
		})
	}

	e.wg.Add(1)
	go e.loop(ctx)
	return nil
}

// Stop halts the background loop and waits for any running drain to finish
// its current entry.
func (e *Engine) Stop() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Kick requests a drain from the background loop without blocking. Redundant
// kicks while one is already requested coalesce.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.monitor.IsOnline() {
				continue
			}
		case <-e.kick:
		}

		if _, err := e.Drain(ctx); err != nil && !errors.Is(err, ErrDrainInProgress) {
			e.logger.Printf("Drain error: %v", err)
		}
	}
}

// ForceSync runs a drain immediately, regardless of the periodic schedule.
// Returns ErrDrainInProgress if one is already running.
func (e *Engine) ForceSync(ctx context.Context) (DrainResult, error) {
	return e.Drain(ctx)
}

// Drain applies pending queue entries to the remote store in FIFO order,
// batch by batch, until the queue has no due entries, the context is
// cancelled, or connectivity drops. Cancellation is checked between entries,
// never mid-entry: an entry's remote effect and its queue status always
// change together.
func (e *Engine) Drain(ctx context.Context) (DrainResult, error) {
	if !e.draining.CompareAndSwap(false, true) {
		return DrainResult{}, ErrDrainInProgress
	}
	defer e.draining.Store(false)

	start := e.now()
	var res DrainResult

	for {
		if ctx.Err() != nil || !e.monitor.IsOnline() {
			res.Cancelled = true
			break
		}

		entries, err := e.db.TakePending(ctx, e.cfg.BatchSize, e.now())
		if err != nil {
			return res, err
		}
		if len(entries) == 0 {
			break
		}
		res.Batches++

		stopped := false
		for _, entry := range entries {
			if ctx.Err() != nil || !e.monitor.IsOnline() {
				// Entries not yet taken in flight simply remain pending.
				res.Cancelled = true
				stopped = true
				break
			}
			if err := e.applyEntry(ctx, entry, &res); err != nil {
				return res, err
			}
		}
		if stopped {
			break
		}
	}

	if !res.Cancelled {
		e.pushTimerStates(ctx)
	}

	res.Duration = e.now().Sub(start)
	if res.Applied > 0 || res.Failed > 0 {
		e.logger.Printf("Drain complete: applied=%d failed=%d terminal=%d remapped=%d batches=%d cancelled=%v",
			res.Applied, res.Failed, res.TerminalFailures, res.Remapped, res.Batches, res.Cancelled)
	}
	if e.events != nil {
		e.events.OnDrainComplete(res)
	}
	return res, nil
}

// applyEntry applies one queue entry to the remote store and records the
// outcome. Remote failures are recorded on the entry; only storage-level
// failures abort the drain.
func (e *Engine) applyEntry(ctx context.Context, entry *model.QueueEntry, res *DrainResult) error {
	if err := e.db.MarkInFlight(ctx, entry.ID); err != nil {
		return err
	}

	remoteErr, err := e.applyRemote(ctx, entry, res)
	if err != nil {
		return err
	}

	if remoteErr == nil {
		if err := e.db.MarkSucceeded(ctx, entry.ID); err != nil {
			return err
		}
		res.Applied++
		return nil
	}

	res.Failed++
	terminal := false
	if remote.IsTransient(remoteErr) {
		var err error
		terminal, err = e.db.MarkFailed(ctx, entry.ID, remoteErr, storage.BackoffPolicy{
			Base:       e.cfg.BackoffBase,
			Max:        e.cfg.BackoffMax,
			MaxRetries: e.cfg.MaxRetries,
		}, e.now())
		if err != nil {
			return err
		}
		e.logger.Printf("Entry %d (%s %s %s) failed transiently (retry %d): %v",
			entry.ID, entry.Op, entry.Kind, entry.EntityID, entry.Retries+1, remoteErr)
	} else {
		terminal = true
		if err := e.db.MarkPermanentlyFailed(ctx, entry.ID, remoteErr); err != nil {
			return err
		}
		e.logger.Printf("Entry %d (%s %s %s) rejected permanently: %v",
			entry.ID, entry.Op, entry.Kind, entry.EntityID, remoteErr)
	}
	if terminal {
		res.TerminalFailures++
	}
	if e.events != nil {
		e.events.OnEntryFailed(entry, terminal)
	}
	return nil
}

// applyRemote issues the remote call for one entry. The first return value
// is the classified remote failure, the second a storage failure.
func (e *Engine) applyRemote(ctx context.Context, entry *model.QueueEntry, res *DrainResult) (error, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	switch entry.Op {
	case model.OpCreate:
		// A recorded mapping means the create already succeeded in a
		// drain that crashed before the entry was confirmed; replaying
		// the create would duplicate the entity.
		if _, ok, err := e.db.LookupRemoteID(ctx, entry.EntityID); err != nil {
			return nil, err
		} else if ok {
			return nil, nil
		}

		remoteID, _, err := e.remote.Create(callCtx, entry.Kind, entry.Payload)
		if err != nil {
			return err, nil
		}
		if remoteID != entry.EntityID {
			// The mapping and every local rewrite commit before the
			// entry is marked succeeded, so a crash here replays
			// idempotently.
			if err := e.db.RecordIDRemap(ctx, entry.Kind, entry.EntityID, remoteID); err != nil {
				return nil, err
			}
			res.Remapped++
		}
		return nil, nil

	case model.OpUpdate:
		id, err := e.resolveRemoteID(ctx, entry.EntityID)
		if err != nil {
			return nil, err
		}
		if _, rerr := e.remote.Update(callCtx, entry.Kind, id, entry.Payload); rerr != nil {
			return rerr, nil
		}
		return nil, nil

	case model.OpDelete:
		id, err := e.resolveRemoteID(ctx, entry.EntityID)
		if err != nil {
			return nil, err
		}
		if _, rerr := e.remote.Delete(callCtx, entry.Kind, id); rerr != nil {
			return rerr, nil
		}
		return nil, nil

	default:
		return remote.Permanent(string(entry.Op), entry.Kind,
			fmt.Errorf("unknown operation")), nil
	}
}

// resolveRemoteID translates a possibly stale local identifier through the
// id map. Entries enqueued after a remap already carry the canonical
// identifier; this covers entries that raced the rewrite.
func (e *Engine) resolveRemoteID(ctx context.Context, id string) (string, error) {
	mapped, ok, err := e.db.LookupRemoteID(ctx, id)
	if err != nil {
		return "", err
	}
	if ok {
		return mapped, nil
	}
	return id, nil
}

// pushTimerStates opportunistically mirrors local timer state to the remote
// store after a drain. Failures are logged and forgotten: stale remote timer
// state is tolerable and never worth a queue entry.
func (e *Engine) pushTimerStates(ctx context.Context) {
	states, err := e.db.ListTimerStates(ctx)
	if err != nil {
		e.logger.Printf("Skipping timer-state push: %v", err)
		return
	}
	for _, ts := range states {
		if model.IsLocalID(ts.GameID) {
			continue // game not yet created remotely
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		err := e.remote.PutTimerState(callCtx, ts)
		cancel()
		if err != nil {
			e.logger.Printf("Timer-state push for %s failed: %v", ts.GameID, err)
			return
		}
	}
}
