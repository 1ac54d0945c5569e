package eventbus

import (
	"fmt"
	"sort"
	"sync"
)

// Event is what a listener receives: the name it was emitted under and the
// payload, which is nil for lifecycle events such as "connect".
type Event struct {
	Name    string
	Payload any
}

// HandlerFunc is the callback signature for listeners.
//
// A returned error is logged and counts as a failed delivery; it never
// reaches the emitter or other listeners.
type HandlerFunc func(e Event) error

// Listener is a registration handle. Identity is by pointer: two listeners
// wrapping the same function are distinct, the same *Listener registered
// twice for one event is not.
type Listener struct {
	fn HandlerFunc
}

// NewListener wraps fn in a handle that can be passed to On, Once and Off.
func NewListener(fn HandlerFunc) *Listener {
	return &Listener{fn: fn}
}

// Logger receives listener failures. It is satisfied by *logging.Logger and
// *slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type registration struct {
	listener *Listener
	once     bool
	removed  bool
}

// Bus maps event names to ordered listener sets.
type Bus struct {
	mu       sync.Mutex
	events   map[string][]*registration
	emitting map[string]bool
	pending  map[string][]any
	logger   Logger
}

// New creates an empty Bus. logger may be nil.
func New(logger Logger) *Bus {
	return &Bus{
		events:   make(map[string][]*registration),
		emitting: make(map[string]bool),
		pending:  make(map[string][]any),
		logger:   logger,
	}
}

// On registers l for name. Registering a handle that is already present for
// name does nothing and returns false.
func (b *Bus) On(name string, l *Listener) bool {
	return b.add(name, l, false)
}

// Once registers l for name so that it runs at most once. The registration
// is removed before the listener is invoked, so a re-entrant emit from
// inside the listener does not reach it again.
func (b *Bus) Once(name string, l *Listener) bool {
	return b.add(name, l, true)
}

func (b *Bus) add(name string, l *Listener, once bool) bool {
	if l == nil || l.fn == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, reg := range b.events[name] {
		if reg.listener == l {
			return false
		}
	}
	b.events[name] = append(b.events[name], &registration{listener: l, once: once})
	return true
}

// Off removes l from name. Removing the last listener drops the event entry.
func (b *Bus) Off(name string, l *Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, reg := range b.events[name] {
		if reg.listener == l {
			b.removeLocked(name, reg)
			return
		}
	}
}

// removeLocked unlinks reg from name. Caller must hold b.mu.
func (b *Bus) removeLocked(name string, reg *registration) {
	regs := b.events[name]
	for i, r := range regs {
		if r != reg {
			continue
		}
		reg.removed = true
		regs = append(regs[:i:i], regs[i+1:]...)
		if len(regs) == 0 {
			delete(b.events, name)
		} else {
			b.events[name] = regs
		}
		return
	}
}

// RemoveAll clears the listeners of the given events, or of every event when
// called without arguments.
func (b *Bus) RemoveAll(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(names) == 0 {
		for _, regs := range b.events {
			for _, reg := range regs {
				reg.removed = true
			}
		}
		b.events = make(map[string][]*registration)
		return
	}

	for _, name := range names {
		for _, reg := range b.events[name] {
			reg.removed = true
		}
		delete(b.events, name)
	}
}

// Emit synchronously delivers payload to every listener registered for
// name, in registration order. It reports whether at least one listener ran
// to completion without failing.
//
// If name is already being emitted, the payload is queued behind the
// in-flight emission and Emit reports whether any listener is registered.
func (b *Bus) Emit(name string, payload any) bool {
	b.mu.Lock()
	if b.emitting[name] {
		b.pending[name] = append(b.pending[name], payload)
		registered := len(b.events[name]) > 0
		b.mu.Unlock()
		return registered
	}
	b.emitting[name] = true
	b.mu.Unlock()

	handled := b.deliver(name, payload)

	for {
		b.mu.Lock()
		queue := b.pending[name]
		if len(queue) == 0 {
			delete(b.pending, name)
			delete(b.emitting, name)
			b.mu.Unlock()
			return handled
		}
		next := queue[0]
		b.pending[name] = queue[1:]
		b.mu.Unlock()

		b.deliver(name, next)
	}
}

func (b *Bus) deliver(name string, payload any) bool {
	b.mu.Lock()
	regs := make([]*registration, len(b.events[name]))
	copy(regs, b.events[name])
	b.mu.Unlock()

	handled := false
	for _, reg := range regs {
		b.mu.Lock()
		if reg.removed {
			b.mu.Unlock()
			continue
		}
		if reg.once {
			b.removeLocked(name, reg)
		}
		b.mu.Unlock()

		if b.invoke(reg.listener, Event{Name: name, Payload: payload}) {
			handled = true
		}
	}
	return handled
}

// invoke runs one listener, recovering panics so a failing listener cannot
// affect the others.
func (b *Bus) invoke(l *Listener, e Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			if b.logger != nil {
				b.logger.Error("event listener panic recovered",
					"event", e.Name,
					"panic", fmt.Sprint(r),
				)
			}
		}
	}()

	if err := l.fn(e); err != nil {
		if b.logger != nil {
			b.logger.Warn("event listener returned error",
				"event", e.Name,
				"error", err,
			)
		}
		return false
	}
	return true
}

// ListenerCount returns the number of listeners registered for name.
func (b *Bus) ListenerCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events[name])
}

// EventNames returns the names that currently have listeners, sorted.
func (b *Bus) EventNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.events))
	for name := range b.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
