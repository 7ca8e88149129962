package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"intake/internal/coalescer"
	"intake/internal/config"
	"intake/internal/dispatcher"
	"intake/internal/history"
	"intake/internal/logging"
	"intake/internal/metrics"
	"intake/internal/notifications"
	"intake/internal/pipeline"
	"intake/internal/watcher"
)

// Daemon owns the watch lifecycle and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *history.Store
	layout     pipeline.Layout
	registry   *pipeline.Registry
	metrics    *metrics.Metrics
	watcher    *watcher.Watcher
	dispatcher *dispatcher.Dispatcher
	server     *metrics.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	runErr error
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool                     `json:"running"`
	WatchDir    string                   `json:"watch_dir"`
	Root        string                   `json:"root"`
	LockPath    string                   `json:"lock_path"`
	HistoryPath string                   `json:"history_path"`
	Extensions  []string                 `json:"extensions"`
	Dispatcher  dispatcher.Stats         `json:"dispatcher"`
	Pending     []coalescer.PendingEntry `json:"pending"`
}

// New constructs a daemon with initialized dependencies. The watch directory
// must already be validated.
func New(cfg *config.Config, store *history.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	layout, err := pipeline.LayoutFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	registry, err := pipeline.NewRegistry(cfg.Handlers.Extensions, pipeline.DefaultHandlers(logger)...)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	disp, err := dispatcher.New(dispatcher.Options{
		SourceDir:     layout.Source,
		Window:        cfg.Watch.DebounceWindow.Std(),
		SweepInterval: cfg.Watch.SweepInterval.Std(),
		MaxPending:    cfg.Watch.MaxPending,
		Processor:     pipeline.New(layout, registry, logger),
		Recorder:      store,
		Notifier:      notifications.NewService(cfg),
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	w, err := watcher.New(layout.Source, logger)
	if err != nil {
		return nil, err
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		layout:     layout,
		registry:   registry,
		metrics:    m,
		watcher:    w,
		dispatcher: disp,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.server = metrics.NewServer(cfg.Metrics.Bind, m, func() any { return d.Status() }, logger)
	return d, nil
}

// Lock takes the single-instance lock without starting. Callers that touch
// shared state files before Start take it here first. Holding it already is
// not an error.
func (d *Daemon) Lock() error {
	if d.lock.Locked() {
		return nil
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another intake watcher is already running")
	}
	return nil
}

// Start acquires the lock if it is not already held, prepares the directory
// set, subscribes to the watched directory and starts dispatching.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.Lock(); err != nil {
		return err
	}

	if err := d.layout.EnsureDirectories(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	// Subscribe before scanning so files arriving during the scan are seen.
	if err := d.watcher.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.done = make(chan struct{})
	d.running.Store(true)

	go func() {
		defer close(d.done)
		if err := d.dispatcher.Run(runCtx, d.watcher.Events()); err != nil {
			d.setErr(err)
			d.logger.Error("dispatcher stopped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatcher_stopped"),
				logging.String(logging.FieldErrorHint, "restart intake; the watch subscription was lost"),
			)
		}
	}()

	if d.cfg.Watch.ScanOnStart {
		if _, err := d.dispatcher.Scan(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "startup scan failed", "startup_scan_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "files present before startup are processed only after their next change"),
			)
		}
	}

	if err := d.server.Start(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "metrics listener unavailable", "metrics_listen_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check metrics.bind is a free host:port"),
			logging.String(logging.FieldImpact, "metrics and status endpoint unavailable"),
		)
	}

	d.logger.Info("intake watcher started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("watch_dir", d.layout.Source),
		logging.String("root", d.layout.Root),
		logging.Duration("debounce_window", d.cfg.Watch.DebounceWindow.Std()),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Done is closed when the dispatcher exits, either after Stop or because the
// event stream failed. It is nil before Start.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Err returns the error that ended the dispatcher, if any.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runErr
}

func (d *Daemon) setErr(err error) {
	d.mu.Lock()
	d.runErr = err
	d.mu.Unlock()
}

// Stop stops watching, waits for in-flight jobs, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	<-d.done
	d.watcher.Stop()
	d.server.Stop()
	d.unlock()
	d.running.Store(false)
	stats := d.dispatcher.Stats()
	d.logger.Info("intake watcher stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
		logging.Int64("succeeded", stats.Succeeded),
		logging.Int64("failed", stats.Failed),
	)
}

func (d *Daemon) unlock() {
	if !d.lock.Locked() {
		return
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if the next start reports a running instance"),
			logging.String(logging.FieldImpact, "next start may be blocked"),
		)
	}
}

// Close releases resources held by the daemon, including a lock taken by
// Lock without a matching Start.
func (d *Daemon) Close() error {
	d.Stop()
	d.unlock()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns a runtime snapshot.
func (d *Daemon) Status() Status {
	return Status{
		Running:     d.running.Load(),
		WatchDir:    d.layout.Source,
		Root:        d.layout.Root,
		LockPath:    d.lockPath,
		HistoryPath: d.store.Path(),
		Extensions:  d.registry.Extensions(),
		Dispatcher:  d.dispatcher.Stats(),
		Pending:     d.dispatcher.Coalescer().Entries(),
	}
}
