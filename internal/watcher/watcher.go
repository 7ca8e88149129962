package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"intake/internal/logging"
)

// Kind classifies a filesystem notification.
type Kind string

const (
	KindCreated Kind = "created"
	KindChanged Kind = "changed"
	KindDeleted Kind = "deleted"
	KindRenamed Kind = "renamed"
)

// Event is one raw notification for a path in the watched directory.
type Event struct {
	Path string
	Kind Kind
}

const defaultBuffer = 256

// Watcher delivers notifications for one directory. It is not recursive.
type Watcher struct {
	dir    string
	logger *slog.Logger
	events chan Event

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	quit    chan struct{}
	done    chan struct{}
	running bool
}

// New creates a watcher for dir. Call Start to begin delivery.
func New(dir string, logger *slog.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, errors.New("watcher: directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolve %q: %w", dir, err)
	}
	return &Watcher{
		dir:    abs,
		logger: logging.NewComponentLogger(logger, "watcher"),
		events: make(chan Event, defaultBuffer),
	}, nil
}

// Dir returns the absolute watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Events returns the notification channel. It is closed after Stop.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start subscribes to the directory. The subscription ends when ctx is done
// or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if w.quit != nil {
		return errors.New("watcher: cannot restart a stopped watcher")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watcher: watch %s: %w", w.dir, err)
	}

	w.fsw = fsw
	w.quit = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true

	go w.monitorLoop(ctx, fsw, w.quit, w.done)

	w.logger.Info("watching directory",
		logging.String(logging.FieldEventType, "watcher_started"),
		logging.String(logging.FieldPath, w.dir),
	)
	return nil
}

// Stop ends the subscription and waits for the delivery loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.quit)
	fsw, done := w.fsw, w.done
	w.running = false
	w.mu.Unlock()

	<-done
	_ = fsw.Close()
	w.logger.Info("watcher stopped", logging.String(logging.FieldEventType, "watcher_stopped"))
}

// Running reports whether the subscription is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) monitorLoop(ctx context.Context, fsw *fsnotify.Watcher, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case raw, ok := <-fsw.Events:
			if !ok {
				return
			}
			event, ok := translate(raw)
			if !ok {
				continue
			}
			select {
			case w.events <- event:
			case <-ctx.Done():
				return
			case <-quit:
				return
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "error while watching directory; watching may no longer be active", "watcher_error",
				logging.Error(err),
				logging.String(logging.FieldPath, w.dir),
				logging.String(logging.FieldErrorHint, "raise fs.inotify.max_queued_events or restart intake"),
				logging.String(logging.FieldImpact, "some file events may have been missed"),
			)
		}
	}
}

// translate maps an fsnotify event to an Event. Chmod-only notifications are
// dropped. When several ops are set, removal and rename take precedence so a
// vanished file is never reported as changed.
func translate(raw fsnotify.Event) (Event, bool) {
	event := Event{Path: raw.Name}
	switch {
	case raw.Has(fsnotify.Remove):
		event.Kind = KindDeleted
	case raw.Has(fsnotify.Rename):
		event.Kind = KindRenamed
	case raw.Has(fsnotify.Create):
		event.Kind = KindCreated
	case raw.Has(fsnotify.Write):
		event.Kind = KindChanged
	default:
		return Event{}, false
	}
	return event, true
}
