// Package dedup suppresses broker redeliveries: an identical (topic,
// payload) pair seen again within a short trailing window is reported as a
// duplicate.
//
// Two clocks are used on purpose. The dedup window is measured with Go's
// monotonic clock reading (time.Now carries one), so wall-clock steps cannot
// make a redelivery look new. Eviction uses wall-clock creation times only,
// because it merely bounds memory and runs on a generous horizon.
package dedup

import (
	"sync"
	"time"
)

// Defaults.
const (
	// DefaultWindow is how long an identical message counts as a redelivery.
	DefaultWindow = 100 * time.Millisecond

	// DefaultHorizon is the maximum lifetime of a cache entry.
	DefaultHorizon = 60 * time.Second

	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = time.Second
)

type key struct {
	topic   string
	payload string
}

type entry struct {
	seen    time.Time // monotonic
	created time.Time // wall clock only
}

// Option configures a Cache.
type Option func(*Cache)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(c *Cache) { c.window = d }
}

// WithHorizon overrides DefaultHorizon.
func WithHorizon(d time.Duration) Option {
	return func(c *Cache) { c.horizon = d }
}

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) { c.sweepEvery = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is a time-windowed duplicate detector.
//
// Thread Safety: all methods are safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[key]entry

	window     time.Duration
	horizon    time.Duration
	sweepEvery time.Duration
	now        func() time.Time

	stop chan struct{}
	done chan struct{}
}

// New creates an empty Cache. The sweep does not run until Start.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[key]entry),
		window:     DefaultWindow,
		horizon:    DefaultHorizon,
		sweepEvery: DefaultSweepInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweepEvery <= 0 || c.sweepEvery >= c.horizon {
		c.sweepEvery = c.horizon / 2
	}
	return c
}

// Observe checks and records in one step. It reports true, and records
// nothing, when the same topic and canonical payload were recorded less
// than the window ago; otherwise it records the message and reports false.
func (c *Cache) Observe(topic, canonical string) bool {
	now := c.now()
	k := key{topic: topic, payload: canonical}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.duplicateLocked(k, now) {
		return true
	}
	c.entries[k] = entry{seen: now, created: now.Round(0)}
	return false
}

// IsDuplicate reports whether Observe would suppress the message, without
// recording it.
func (c *Cache) IsDuplicate(topic, canonical string) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duplicateLocked(key{topic: topic, payload: canonical}, now)
}

// Record stores the message as seen now. A later record of the same pair
// replaces the earlier one.
func (c *Cache) Record(topic, canonical string) {
	now := c.now()

	c.mu.Lock()
	c.entries[key{topic: topic, payload: canonical}] = entry{seen: now, created: now.Round(0)}
	c.mu.Unlock()
}

func (c *Cache) duplicateLocked(k key, now time.Time) bool {
	e, ok := c.entries[k]
	if !ok {
		return false
	}
	return now.Sub(e.seen) < c.window
}

// Sweep removes entries that would outlive the horizon before the next
// sweep, and returns how many were removed.
func (c *Cache) Sweep() int {
	wall := c.now().Round(0)
	limit := c.horizon - c.sweepEvery

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if wall.Sub(e.created) > limit {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Start launches the periodic sweep. Calling Start on a running cache does
// nothing.
func (c *Cache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.sweepLoop(c.stop, c.done)
}

func (c *Cache) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Stop halts the periodic sweep and waits for it to exit. It is safe to
// call on a cache that was never started, and more than once.
func (c *Cache) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether the periodic sweep is active.
func (c *Cache) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[key]entry)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
