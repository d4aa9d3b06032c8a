package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// InboxWatcher watches the import inbox directory for dropped export files.
// It uses fsnotify for cross-platform file system event monitoring and emits
// the path of every *.json file that appears or is rewritten.
type InboxWatcher struct {
	watcher *fsnotify.Watcher
	events  chan string
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	dir     string
}

// NewInboxWatcher creates a watcher. It must be started with Start before it
// emits events.
func NewInboxWatcher() (*InboxWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &InboxWatcher{
		watcher: watcher,
		events:  make(chan string, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir for export files.
func (w *InboxWatcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("inbox watcher already running")
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory %s: %w", dir, err)
	}
	w.dir = dir
	w.running = true

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop halts the watcher and blocks until the event loop has exited. The
// Events and Errors channels are closed afterwards.
func (w *InboxWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return nil
}

// Events emits the paths of export files dropped into the inbox.
func (w *InboxWatcher) Events() <-chan string {
	return w.events
}

// Errors emits watcher errors.
func (w *InboxWatcher) Errors() <-chan error {
	return w.errors
}

func (w *InboxWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			path, relevant := w.convertEvent(event)
			if !relevant {
				continue
			}
			select {
			case w.events <- path:
			case <-w.done:
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent filters for create/write events on *.json files directly in
// the inbox. Processed files are renamed to *.imported, which this filter
// ignores, so each drop is handled once.
func (w *InboxWatcher) convertEvent(event fsnotify.Event) (string, bool) {
	if !strings.HasSuffix(event.Name, ".json") {
		return "", false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	if filepath.Dir(event.Name) != w.dir {
		return "", false
	}
	return event.Name, true
}
