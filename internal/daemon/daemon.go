// Package daemon runs background synchronization: periodic reconciliation
// passes against the remote peer, plus an optional inbox watcher that
// imports task JSON files dropped into a directory.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/tasksync/internal/dashboard"
	"github.com/steveyegge/tasksync/internal/engine"
	"github.com/steveyegge/tasksync/internal/schema"
	"github.com/steveyegge/tasksync/internal/store"
)

// Config holds daemon settings.
type Config struct {
	// SyncInterval is how often a reconciliation pass is triggered.
	SyncInterval time.Duration

	// DebounceInterval is how long a file change must sit quiet before the
	// inbox import processes it. Batches rapid rewrites together.
	DebounceInterval time.Duration

	// InboxDir is the watched import directory. Empty disables the watcher.
	InboxDir string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates periodic passes and inbox imports.
type Daemon struct {
	store  *store.Store
	engine *engine.Engine
	feed   *dashboard.Server // optional
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. feed may be nil to disable event publishing.
func New(st *store.Store, eng *engine.Engine, feed *dashboard.Server, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 30 * time.Second
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		store:       st,
		engine:      eng,
		feed:        feed,
		config:      config,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled. An initial pass runs
// immediately; later passes follow the configured interval.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.config.InboxDir != "" {
		if err := os.MkdirAll(d.config.InboxDir, 0755); err != nil {
			return fmt.Errorf("failed to create inbox directory: %w", err)
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher

		if err := d.watcher.Add(d.config.InboxDir); err != nil {
			return fmt.Errorf("failed to watch inbox directory: %w", err)
		}
		d.config.Logger.Printf("Watching inbox: %s", d.config.InboxDir)

		d.wg.Add(2)
		go d.watchInbox()
		go d.processChangeQueue()
	}

	d.wg.Add(1)
	go d.syncLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down. The in-flight pass finishes its dispatched
// items; undialed queue entries stay pending for the next run.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// syncLoop triggers reconciliation passes on the configured interval.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	d.runPass()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runPass()
		}
	}
}

// runPass executes one pass and publishes its summary.
func (d *Daemon) runPass() {
	summary, err := d.engine.Sync(d.ctx)
	if err != nil {
		if err == schema.ErrSyncInProgress {
			d.config.Logger.Println("Pass still running, skipping trigger")
			return
		}
		d.config.Logger.Printf("Pass failed: %v", err)
		return
	}

	if d.feed != nil {
		d.feed.PublishPass(dashboard.PassComplete{
			Synced:      summary.Synced,
			Failed:      summary.Failed,
			Pending:     summary.Pending,
			Unreachable: summary.Unreachable,
			Duration:    summary.Duration,
		})
	}
}

// watchInbox queues filesystem events for debounced processing.
func (d *Daemon) watchInbox() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports files once their events have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPending()
		}
	}
}

func (d *Daemon) processPending() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.changeQueue, path)

		if err := d.importFile(path); err != nil {
			d.config.Logger.Printf("Warning: failed to import %s: %v", filepath.Base(path), err)
		}
	}
}

// importFile reads a dropped task file, creates the task (enqueuing its
// create operation), and removes the file on success.
func (d *Daemon) importFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // removed before we got to it
		}
		return fmt.Errorf("failed to read inbox file: %w", err)
	}

	var task schema.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return fmt.Errorf("failed to parse inbox file: %w", err)
	}

	imported, err := d.store.ImportTask(d.ctx, &task)
	if err != nil {
		return fmt.Errorf("failed to import task: %w", err)
	}

	d.config.Logger.Printf("Imported task %s (%s)", imported.ID, imported.Title)
	if d.feed != nil {
		d.feed.PublishTaskUpdate(dashboard.TaskUpdate{
			TaskID:     imported.ID,
			Action:     "created",
			Title:      imported.Title,
			SyncStatus: string(imported.SyncStatus),
		})
	}

	if err := os.Remove(path); err != nil {
		d.config.Logger.Printf("Warning: failed to remove imported file %s: %v", path, err)
	}
	return nil
}
