// Package daemon wires the sync service together: the local store, the
// connectivity monitor, the sync engine, the import inbox watcher, and the
// optional dashboard.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/coachtools/matchsync/internal/config"
	"github.com/coachtools/matchsync/internal/connectivity"
	"github.com/coachtools/matchsync/internal/dashboard"
	"github.com/coachtools/matchsync/internal/engine"
	"github.com/coachtools/matchsync/internal/importer"
	"github.com/coachtools/matchsync/internal/logging"
	"github.com/coachtools/matchsync/internal/remote"
	"github.com/coachtools/matchsync/internal/stats"
	"github.com/coachtools/matchsync/internal/storage"
)

// Daemon is the long-running sync service.
type Daemon struct {
	cfg    *config.Config
	sink   *logging.Sink
	logger *log.Logger

	db       *storage.DB
	monitor  *connectivity.ProbeMonitor
	reporter *stats.Reporter
	engine   *engine.Engine
	dash     *dashboard.Server
	watcher  *InboxWatcher
	pipeline *importer.Pipeline

	unsubscribe func()
}

// New creates a Daemon from configuration. Nothing is opened or started
// until Run.
func New(cfg *config.Config, sink *logging.Sink) *Daemon {
	return &Daemon{
		cfg:    cfg,
		sink:   sink,
		logger: sink.Logger("daemon"),
	}
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// them down in reverse order.
func (d *Daemon) Run(ctx context.Context) error {
	db, err := storage.Open(d.cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer db.Close()
	if err := db.InitSchemaContext(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	d.db = db

	rs := remote.NewHTTPStore(d.cfg.Remote.BaseURL, d.cfg.Remote.Timeout)
	d.monitor = connectivity.NewProbeMonitor(rs, d.cfg.Connectivity.ProbeInterval, d.sink.Logger("connectivity"))
	d.reporter = stats.New(db, d.monitor)

	events := engine.MultiEvents{d.reporter}
	if d.cfg.Dashboard.Enabled {
		d.dash = dashboard.NewServer(d.cfg.Dashboard.Addr, d.reporter, d.sink.Logger("dashboard"))
		events = append(events, d.dash)
		d.unsubscribe = d.monitor.Subscribe(d.dash.PublishConnectivity)
	}

	eng, err := engine.New(db, rs, d.monitor, engine.Config{
		EnableOfflineMode: d.cfg.Sync.EnableOfflineMode,
		SyncOnReconnect:   d.cfg.Sync.SyncOnReconnect,
		MaxRetries:        d.cfg.Sync.MaxRetries,
		BatchSize:         d.cfg.Sync.BatchSize,
		SyncInterval:      d.cfg.Sync.Interval,
		BackoffBase:       d.cfg.Sync.BackoffBase,
		BackoffMax:        d.cfg.Sync.BackoffMax,
		CallTimeout:       d.cfg.Sync.CallTimeout,
	}, d.sink.Logger("engine"), events)
	if err != nil {
		return err
	}
	d.engine = eng

	// Inbox imports flow through the engine's record path, so imported
	// entities sync to the backend like any other local mutation.
	d.pipeline = importer.New(importer.NewSyncTarget(eng, db), d.sink.Logger("import"))

	d.monitor.Start()
	defer d.monitor.Stop()

	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Stop()

	if d.dash != nil {
		if err := d.dash.Start(); err != nil {
			return err
		}
		defer d.dash.Stop()
	}
	if d.unsubscribe != nil {
		defer d.unsubscribe()
	}

	if err := d.startInbox(ctx); err != nil {
		return err
	}
	if d.watcher != nil {
		defer d.watcher.Stop()
	}

	d.logger.Printf("Daemon running (db=%s remote=%s)", d.cfg.DatabasePath(), d.cfg.Remote.BaseURL)
	<-ctx.Done()
	d.logger.Printf("Shutting down")
	return nil
}

// startInbox prepares the import inbox: processes any files already present,
// then watches for new drops.
func (d *Daemon) startInbox(ctx context.Context) error {
	dir := d.cfg.Import.InboxDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	// Files dropped while the daemon was down.
	existing, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("failed to scan inbox: %w", err)
	}

	watcher, err := NewInboxWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Start(dir); err != nil {
		return err
	}
	d.watcher = watcher

	go func() {
		for _, path := range existing {
			d.importFile(ctx, path)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case path, ok := <-watcher.Events():
				if !ok {
					return
				}
				d.importFile(ctx, path)
			case err, ok := <-watcher.Errors():
				if !ok {
					return
				}
				d.logger.Printf("Inbox watcher error: %v", err)
			}
		}
	}()
	return nil
}

// importFile imports one dropped export file in merge mode and renames it so
// it is not processed again. Failures leave the file in place for inspection.
func (d *Daemon) importFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		d.logger.Printf("Failed to read inbox file %s: %v", path, err)
		return
	}
	payload, err := importer.Parse(data)
	if err != nil {
		d.logger.Printf("Failed to parse inbox file %s: %v", path, err)
		return
	}

	summary, err := d.pipeline.Run(ctx, payload, importer.ModeMerge)
	if err != nil {
		d.logger.Printf("Import of %s failed: %v", path, err)
		return
	}
	d.logger.Printf("Imported %s: %d records (%d failed)",
		filepath.Base(path), summary.ImportedCount(), summary.FailedCount())

	done := strings.TrimSuffix(path, ".json") + ".imported"
	if err := os.Rename(path, done); err != nil {
		d.logger.Printf("Failed to rename processed inbox file %s: %v", path, err)
	}
	if d.dash != nil {
		d.dash.PublishImportComplete(summary)
	}
}
