package coalescer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"intake/internal/logging"
)

// Reason explains why a pending entry left the coalescer.
type Reason int

const (
	// ReasonExpired means the entry was quiet for the full window.
	ReasonExpired Reason = iota + 1
	// ReasonEvicted means the entry was removed before it expired.
	ReasonEvicted
)

func (r Reason) String() string {
	switch r {
	case ReasonExpired:
		return "expired"
	case ReasonEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Callback receives every entry that leaves the coalescer.
type Callback func(path string, reason Reason)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// PendingEntry is a snapshot of one path being debounced.
type PendingEntry struct {
	Path     string
	LastSeen time.Time
	Window   time.Duration
}

// Deadline is the earliest instant the entry may fire.
func (e PendingEntry) Deadline() time.Time {
	return e.LastSeen.Add(e.Window)
}

type slot struct {
	mu       sync.Mutex
	path     string
	lastSeen time.Time
	// done is set exactly once, by whichever of sweep or evict claims the slot.
	done bool
}

// Coalescer debounces notifications per path. Construct one per watched root.
type Coalescer struct {
	window        time.Duration
	sweepInterval time.Duration
	callback      Callback
	clock         Clock
	maxEntries    int
	logger        *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

// Option customizes a Coalescer.
type Option func(*Coalescer)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Coalescer) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMaxEntries bounds the number of pending entries. When a new path would
// exceed the bound, the entry with the oldest LastSeen is evicted. Zero
// disables the bound.
func WithMaxEntries(n int) Option {
	return func(c *Coalescer) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithLogger sets the logger used for sweep diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coalescer) {
		c.logger = logging.NewComponentLogger(logger, "coalescer")
	}
}

// New constructs a Coalescer. sweepInterval must be positive and no longer
// than window.
func New(window, sweepInterval time.Duration, callback Callback, opts ...Option) (*Coalescer, error) {
	if window <= 0 {
		return nil, errors.New("coalescer: window must be positive")
	}
	if sweepInterval <= 0 || sweepInterval > window {
		return nil, errors.New("coalescer: sweep interval must be positive and no longer than the window")
	}
	if callback == nil {
		return nil, errors.New("coalescer: callback is required")
	}
	c := &Coalescer{
		window:        window,
		sweepInterval: sweepInterval,
		callback:      callback,
		clock:         systemClock{},
		logger:        logging.NewComponentLogger(nil, "coalescer"),
		slots:         make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Window returns the debounce window.
func (c *Coalescer) Window() time.Duration { return c.window }

// Notify records an event for path. The first notification creates a pending
// entry; later ones slide its deadline to now+window.
func (c *Coalescer) Notify(path string) {
	now := c.clock.Now()
	for {
		c.mu.Lock()
		s, ok := c.slots[path]
		if !ok {
			c.slots[path] = &slot{path: path, lastSeen: now}
			victim := c.overflowVictimLocked(path)
			c.mu.Unlock()
			if victim != nil {
				c.evict(victim)
			}
			return
		}
		c.mu.Unlock()

		s.mu.Lock()
		if !s.done {
			if now.After(s.lastSeen) {
				s.lastSeen = now
			}
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		// The slot was claimed by a fire or eviction. Replace it so this
		// notification starts a new quiet period.
		c.mu.Lock()
		if c.slots[path] == s {
			delete(c.slots, path)
		}
		c.mu.Unlock()
	}
}

// overflowVictimLocked picks the entry to evict when the bound is exceeded.
// The freshly inserted path is never chosen. c.mu must be held.
func (c *Coalescer) overflowVictimLocked(inserted string) *slot {
	if c.maxEntries <= 0 || len(c.slots) <= c.maxEntries {
		return nil
	}
	var (
		victim *slot
		oldest time.Time
	)
	for path, s := range c.slots {
		if path == inserted {
			continue
		}
		s.mu.Lock()
		seen, done := s.lastSeen, s.done
		s.mu.Unlock()
		if done {
			continue
		}
		if victim == nil || seen.Before(oldest) {
			victim, oldest = s, seen
		}
	}
	return victim
}

// Remove evicts path without firing it. The callback receives ReasonEvicted.
// It reports whether an entry was removed.
func (c *Coalescer) Remove(path string) bool {
	c.mu.Lock()
	s := c.slots[path]
	c.mu.Unlock()
	if s == nil {
		return false
	}
	return c.evict(s)
}

func (c *Coalescer) evict(s *slot) bool {
	if !c.claim(s, time.Time{}) {
		return false
	}
	c.callback(s.path, ReasonEvicted)
	return true
}

// claim marks s as done and unlinks it from the map. With a non-zero now,
// the claim only succeeds if the entry has been quiet for the full window.
func (c *Coalescer) claim(s *slot, now time.Time) bool {
	s.mu.Lock()
	if s.done || (!now.IsZero() && now.Sub(s.lastSeen) < c.window) {
		s.mu.Unlock()
		return false
	}
	s.done = true
	s.mu.Unlock()

	c.mu.Lock()
	if c.slots[s.path] == s {
		delete(c.slots, s.path)
	}
	c.mu.Unlock()
	return true
}

// Sweep fires every entry that has been quiet for at least the window and
// returns the number fired. Run calls it periodically; tests call it directly.
func (c *Coalescer) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	candidates := make([]*slot, 0, len(c.slots))
	for _, s := range c.slots {
		candidates = append(candidates, s)
	}
	c.mu.Unlock()

	fired := candidates[:0]
	for _, s := range candidates {
		if c.claim(s, now) {
			fired = append(fired, s)
		}
	}
	for _, s := range fired {
		c.callback(s.path, ReasonExpired)
	}
	return len(fired)
}

// Run sweeps every sweep interval until ctx is done. Entries still pending at
// shutdown are dropped without firing.
func (c *Coalescer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	c.logger.Debug("sweep loop started",
		logging.Duration("window", c.window),
		logging.Duration("sweep_interval", c.sweepInterval),
	)
	for {
		select {
		case <-ctx.Done():
			if n := c.Len(); n > 0 {
				c.logger.Info("sweep loop stopped with pending files",
					logging.Int("pending", n),
					logging.String(logging.FieldEventType, "coalescer_stopped"),
				)
			}
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("sweep fired entries", logging.Int("fired", n))
			}
		}
	}
}

// Len returns the number of pending entries.
func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// Pending returns the entry for path, if one is pending.
func (c *Coalescer) Pending(path string) (PendingEntry, bool) {
	c.mu.Lock()
	s := c.slots[path]
	c.mu.Unlock()
	if s == nil {
		return PendingEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return PendingEntry{}, false
	}
	return PendingEntry{Path: s.path, LastSeen: s.lastSeen, Window: c.window}, true
}

// Entries returns a snapshot of all pending entries ordered by deadline.
func (c *Coalescer) Entries() []PendingEntry {
	c.mu.Lock()
	slots := make([]*slot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.Unlock()

	entries := make([]PendingEntry, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		if !s.done {
			entries = append(entries, PendingEntry{Path: s.path, LastSeen: s.lastSeen, Window: c.window})
		}
		s.mu.Unlock()
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].LastSeen.Before(entries[j].LastSeen)
	})
	return entries
}
