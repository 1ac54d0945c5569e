package flow

import (
	"sync"
	"time"

	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/session"
)

// Session is the part of *session.Session the flow components drive.
type Session interface {
	On(name string, l *eventbus.Listener) bool
	Off(name string, l *eventbus.Listener)
	IsConnected() bool

	// Epoch changes when the session drops every subscription, telling a
	// component that its own are gone and must be taken again.
	Epoch() uint64

	SubscribeDevice(d session.Credential) bool
	UnsubscribeDevice(d session.Credential) bool
	GetShadow(d session.Credential) bool
	UpdateShadow(d session.Credential, data any) bool
	GetDeviceInfo(d session.Credential) bool
	SubscribeMessage(d session.Credential, sub string) bool
	UnsubscribeMessage(d session.Credential, sub string) bool
	PublishMessage(d session.Credential, sub string, data any) bool
	PublishPrivate(d session.Credential, sub string, data any) bool
}

// Logger is the logging surface the flow components need.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Message is what a component hands to its Output.
type Message struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`

	// Timestamp is the broker time in Unix milliseconds, when the source
	// event carries one.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Output receives component messages. It is called from the session's
// delivery goroutine and should not block.
type Output func(Message)

// Request window: a response is forwarded only when a local request was made
// this recently.
const responseWindow = 5 * time.Second

// listeners tracks a component's registrations so they can be dropped
// together. Registering the same event twice is a no-op.
type listeners struct {
	src Session

	mu   sync.Mutex
	regs map[string]*eventbus.Listener
}

func newListeners(src Session) *listeners {
	return &listeners{src: src, regs: make(map[string]*eventbus.Listener)}
}

func (ls *listeners) on(name string, fn eventbus.HandlerFunc) {
	ls.mu.Lock()
	if _, ok := ls.regs[name]; ok {
		ls.mu.Unlock()
		return
	}
	l := eventbus.NewListener(fn)
	ls.regs[name] = l
	ls.mu.Unlock()

	ls.src.On(name, l)
}

func (ls *listeners) close() {
	ls.mu.Lock()
	regs := ls.regs
	ls.regs = make(map[string]*eventbus.Listener)
	ls.mu.Unlock()

	for name, l := range regs {
		ls.src.Off(name, l)
	}
}

func (ls *listeners) count() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.regs)
}

func orDefault(out Output) Output {
	if out == nil {
		return func(Message) {}
	}
	return out
}
