package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chavee/netpie-flowchannel/internal/dedup"
	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/topic"
)

// State is the connection state of a session.
type State int

const (
	// StateDisconnected means no transport exists.
	StateDisconnected State = iota

	// StateConnecting means a transport exists but has not reported a
	// connect, or has lost its connection and is retrying.
	StateConnecting

	// StateConnected means the transport is connected to the broker.
	StateConnected
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Logger is the logging surface a session needs.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDebug enables per-message debug logging.
func WithDebug(debug bool) Option {
	return func(s *Session) {
		s.debug = debug
	}
}

// WithDedupOptions configures the inbound duplicate cache.
func WithDedupOptions(opts ...dedup.Option) Option {
	return func(s *Session) {
		s.dedupOpts = append(s.dedupOpts, opts...)
	}
}

// Factory creates sessions that share one process start time, so every
// session created by the same process derives a stable client id.
type Factory struct {
	dial    DialFunc
	started time.Time
	opts    []Option
}

// NewFactory returns a Factory dialing through dial. started should be the
// process start time; opts apply to every session the factory creates.
func NewFactory(dial DialFunc, started time.Time, opts ...Option) *Factory {
	return &Factory{dial: dial, started: started, opts: opts}
}

// Started returns the process start time client ids are derived from.
func (f *Factory) Started() time.Time {
	return f.started
}

// New creates a disconnected session for key ("principal:secret").
// Per-session opts are applied after the factory defaults.
func (f *Factory) New(key string, opts ...Option) *Session {
	all := make([]Option, 0, len(f.opts)+len(opts))
	all = append(all, f.opts...)
	all = append(all, opts...)

	cred := ParseCredential(key)
	return newSession(cred, IdentityFor(cred, f.started), f.dial, all...)
}

// Session is one logical connection to the broker.
// It is safe for concurrent use.
type Session struct {
	cred      Credential
	identity  Identity
	dial      DialFunc
	logger    Logger
	debug     bool
	dedupOpts []dedup.Option

	bus   *eventbus.Bus
	cache *dedup.Cache

	// lifeMu serialises Connect, Disconnect and Destroy.
	lifeMu sync.Mutex

	// opMu serialises broker subscribe and unsubscribe calls so reference
	// counts and broker state change together.
	opMu sync.Mutex

	mu             sync.Mutex
	state          State
	transport      Transport
	gen            uint64
	connectPending bool
	subs           map[string]int
	destroyed      bool

	// unrestored holds tracked topics whose re-subscribe after a
	// reconnect failed; the next Subscribe of one retries the broker.
	unrestored map[string]bool

	// epoch advances each time the registry is cleared.
	epoch uint64
}

func newSession(cred Credential, id Identity, dial DialFunc, opts ...Option) *Session {
	s := &Session{
		cred:       cred,
		identity:   id,
		dial:       dial,
		logger:     slog.New(slog.DiscardHandler),
		subs:       make(map[string]int),
		unrestored: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bus = eventbus.New(s.logger)
	s.cache = dedup.New(s.dedupOpts...)
	return s
}

// ClientID returns the broker client id.
func (s *Session) ClientID() string {
	return s.identity.ClientID
}

// Principal returns the principal the session authenticates as.
func (s *Session) Principal() string {
	return s.cred.Principal
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the transport is connected.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Bus returns the session's event bus.
func (s *Session) Bus() *eventbus.Bus {
	return s.bus
}

// On registers l for the named event.
func (s *Session) On(name string, l *eventbus.Listener) bool {
	return s.bus.On(name, l)
}

// Once registers l for a single delivery of the named event.
func (s *Session) Once(name string, l *eventbus.Listener) bool {
	return s.bus.Once(name, l)
}

// Off removes l from the named event.
func (s *Session) Off(name string, l *eventbus.Listener) {
	s.bus.Off(name, l)
}

// Emit delivers payload to the listeners of name.
func (s *Session) Emit(name string, payload any) bool {
	return s.bus.Emit(name, payload)
}

// EventNames lists the events that currently have listeners.
func (s *Session) EventNames() []string {
	return s.bus.EventNames()
}

// ListenerCount returns the number of listeners registered for name.
func (s *Session) ListenerCount(name string) int {
	return s.bus.ListenerCount(name)
}

// Connect starts a connection attempt, tearing down any existing transport
// first. It returns without waiting for the broker; listen for "connect" and
// "error" to learn the outcome. Connect on a destroyed session does nothing.
func (s *Session) Connect() {
	s.lifeMu.Lock()

	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		s.lifeMu.Unlock()
		s.logger.Warn("connect on destroyed session ignored", "client_id", s.identity.ClientID)
		return
	}

	wasLive := s.teardownLocked()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.mu.Unlock()

	s.cache.Start()

	s.logger.Info("connecting to broker", "client_id", s.identity.ClientID)
	t, err := s.dial(s.identity, s.handlers(gen))

	s.mu.Lock()
	if err != nil {
		if s.gen == gen {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		s.cache.Stop()
		s.lifeMu.Unlock()

		if wasLive {
			s.bus.Emit(string(topic.EventDisconnect), nil)
		}
		s.emitError(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
		return
	}
	s.transport = t
	pending := s.connectPending
	s.connectPending = false
	s.mu.Unlock()
	s.lifeMu.Unlock()

	if wasLive {
		s.bus.Emit(string(topic.EventDisconnect), nil)
	}
	// The transport connected before dial returned.
	if pending {
		s.onTransportConnect(gen)
	}
}

// Disconnect tears the transport down and clears subscription tracking and
// the duplicate cache. Calling it with no transport is harmless. A
// "disconnect" event is emitted only if the session was connected; a
// connection lost earlier has already reported its own.
func (s *Session) Disconnect() {
	s.lifeMu.Lock()
	wasLive := s.teardownLocked()
	s.lifeMu.Unlock()

	if wasLive {
		s.bus.Emit(string(topic.EventDisconnect), nil)
	}
}

// Destroy disconnects and removes every listener. It is idempotent; the
// session cannot be reconnected afterwards.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	s.Disconnect()
	s.bus.RemoveAll()
	s.logger.Info("session destroyed", "client_id", s.identity.ClientID)
}

// teardownLocked quiesces and closes the current transport, then clears
// subscriptions and the duplicate cache. Caller must hold s.lifeMu.
// It reports whether the session was connected, i.e. whether a
// "disconnect" is owed to listeners.
func (s *Session) teardownLocked() bool {
	s.mu.Lock()
	t := s.transport
	wasConnected := t != nil && s.state == StateConnected
	s.transport = nil
	s.gen++
	s.state = StateDisconnected
	s.connectPending = false
	s.mu.Unlock()

	if t != nil {
		t.Close()
		s.logger.Info("disconnected from broker", "client_id", s.identity.ClientID)
	}

	s.mu.Lock()
	s.subs = make(map[string]int)
	s.unrestored = make(map[string]bool)
	s.epoch++
	s.mu.Unlock()

	s.cache.Stop()
	s.cache.Clear()
	return wasConnected
}

func (s *Session) handlers(gen uint64) Handlers {
	return Handlers{
		OnConnect: func() { s.onTransportConnect(gen) },
		OnClose:   func() { s.onTransportClose(gen) },
		OnError:   func(err error) { s.onTransportError(gen, err) },
		OnMessage: func(name string, payload []byte) { s.onTransportMessage(gen, name, payload) },
	}
}

// current reports whether gen is still the live transport generation.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) onTransportConnect(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if s.transport == nil {
		s.connectPending = true
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.mu.Unlock()

	s.logger.Info("connected to broker", "client_id", s.identity.ClientID)

	// Sessions are clean: the broker forgot everything on reconnect.
	s.restoreSubscriptions(gen)

	if !s.current(gen) {
		return
	}
	s.bus.Emit(string(topic.EventConnect), nil)
	s.subscribe(topic.PrivateAll, true)
}

func (s *Session) onTransportClose(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()

	s.logger.Warn("broker connection lost", "client_id", s.identity.ClientID)
	s.bus.Emit(string(topic.EventDisconnect), nil)
}

func (s *Session) onTransportError(gen uint64, err error) {
	if !s.current(gen) {
		return
	}
	s.emitError(err)
}

func (s *Session) onTransportMessage(gen uint64, name string, raw []byte) {
	if !s.current(gen) {
		return
	}

	m := topic.Decode(name, raw)
	if s.cache.Observe(name, m.Canonical()) {
		if s.debug {
			s.logger.Debug("duplicate message suppressed", "topic", name)
		}
		return
	}
	if s.debug {
		s.logger.Debug("message received", "topic", name, "owner", m.Owner, "bytes", len(raw))
	}

	for _, e := range topic.Route(m) {
		s.bus.Emit(e.Name, e.Payload)
	}
}

// emitError delivers err to "error" listeners, logging it when nobody is
// listening.
func (s *Session) emitError(err error) {
	if !s.bus.Emit(string(topic.EventError), err) {
		s.logger.Error("session error", "client_id", s.identity.ClientID, "error", err)
	}
}
