// Package daemon runs the background sync loop: it watches the local
// store for mutations, coalesces them into sync cycles, polls the remote
// on an interval, and flushes the queue the moment connectivity returns.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"habitsync/internal/dashboard"
	"habitsync/internal/remote"
	"habitsync/internal/store"
	syncer "habitsync/internal/sync"
)

// Config holds daemon configuration.
type Config struct {
	// PollInterval is how often a full cycle runs regardless of local
	// activity, so remote changes arrive without a local trigger.
	// Default: 5 minutes.
	PollInterval time.Duration

	// Debounce is the quiet period after a burst of local mutations
	// before a cycle runs. Default: sync.DefaultDebounce.
	Debounce time.Duration

	// PingInterval is how often connectivity is probed while offline.
	// Default: 30 seconds.
	PingInterval time.Duration

	// Dashboard, when non-nil, receives sync activity broadcasts.
	Dashboard *dashboard.Server

	// Logger for daemon activity (default: stderr logger).
	Logger *log.Logger
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.Debounce <= 0 {
		c.Debounce = syncer.DefaultDebounce
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
}

// Daemon owns the background sync loop for one store.
type Daemon struct {
	db     *store.DB
	engine *syncer.Engine
	client remote.Client
	config Config

	debouncer *syncer.Debouncer
	watcher   *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	online  bool
}

// New creates a daemon. The engine's OnState and OnCycle hooks are taken
// over by the daemon for dashboard broadcasts; set them before calling
// New only if you are not passing a dashboard.
func New(db *store.DB, engine *syncer.Engine, client remote.Client, config Config) *Daemon {
	config.applyDefaults()

	d := &Daemon{
		db:     db,
		engine: engine,
		client: client,
		config: config,
	}
	d.debouncer = syncer.NewDebouncer(config.Debounce, func() {
		d.engine.Trigger(d.runCtx())
	})

	if config.Dashboard != nil {
		engine.SetOnState(func(s syncer.State) {
			config.Dashboard.Publish(dashboard.MessageTypeSyncState,
				dashboard.SyncStateData{State: s.String()})
		})
		engine.SetOnCycle(d.publishCycle)
	}

	return d
}

func (d *Daemon) runCtx() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return d.ctx
	}
	return context.Background()
}

// Start launches the daemon's goroutines. Runs an immediate full cycle so
// a device coming back after time away converges right away.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.running = true
	d.online = true
	d.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	d.watcher = watcher

	// Watch the directory, not the file: SQLite swaps WAL files around
	// and fsnotify loses file-level watches on rename.
	dbDir := filepath.Dir(d.db.Path())
	if err := watcher.Add(dbDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dbDir, err)
	}

	d.config.Logger.Printf("Daemon started (poll=%s debounce=%s)",
		d.config.PollInterval, d.config.Debounce)

	d.wg.Add(3)
	go d.watchLoop()
	go d.pollLoop()
	go d.pingLoop()

	d.engine.Trigger(d.ctx)
	return nil
}

// Stop shuts the daemon down and waits for its goroutines.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.cancel()
	d.debouncer.Stop()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Warning: failed to close watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Printf("Daemon stopped")
	return nil
}

// NotifyMutation is the in-process trigger: the mutation pipeline calls
// this (via its OnMutate hook) after every committed write.
func (d *Daemon) NotifyMutation() {
	if dash := d.config.Dashboard; dash != nil {
		if count, err := d.db.PendingCount(d.runCtx()); err == nil {
			dash.Publish(dashboard.MessageTypeQueueDepth, dashboard.QueueDepthData{Pending: count})
		}
	}
	d.debouncer.Trigger()
}

// watchLoop reacts to store file changes from outside this process.
// Cycle-induced writes are harmless here: by the time the debounce fires,
// the queue is empty and the cycle is a cheap no-op.
func (d *Daemon) watchLoop() {
	defer d.wg.Done()

	dbName := filepath.Base(d.db.Path())

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(event.Name), dbName) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			count, err := d.db.PendingCount(d.ctx)
			if err != nil {
				d.config.Logger.Printf("Warning: failed to check queue: %v", err)
				continue
			}
			if count > 0 {
				d.debouncer.Trigger()
			}

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// pollLoop runs a full cycle on the poll interval so remote-only changes
// arrive even on an otherwise idle device.
func (d *Daemon) pollLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.engine.Trigger(d.ctx)
		}
	}
}

// pingLoop watches for the offline-to-online transition and flushes the
// queue immediately instead of waiting for the next poll.
func (d *Daemon) pingLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			reachable := d.client.Ping(d.ctx) == nil

			d.mu.Lock()
			wasOnline := d.online
			d.online = reachable
			d.mu.Unlock()

			if reachable && !wasOnline {
				d.config.Logger.Printf("Remote reachable again, flushing queue")
				d.engine.Trigger(d.ctx)
			}
		}
	}
}

// publishCycle forwards a cycle result and the resulting queue depth to
// the dashboard.
func (d *Daemon) publishCycle(result *syncer.CycleResult) {
	dash := d.config.Dashboard
	if dash == nil {
		return
	}
	dash.Publish(dashboard.MessageTypeSyncCycle, result)

	count, err := d.db.PendingCount(d.runCtx())
	if err != nil {
		return
	}
	dash.Publish(dashboard.MessageTypeQueueDepth, dashboard.QueueDepthData{Pending: count})
}
