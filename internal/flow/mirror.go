package flow

import (
	"sync"
	"time"

	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/session"
	"github.com/chavee/netpie-flowchannel/internal/topic"
)

// Output topics of a Mirror.
const (
	TopicShadowResponse = "@shadow/data/response"
	TopicShadowUpdated  = "@shadow/data/updated"
)

// shadowFetchDelay is how long a Mirror waits after connect before fetching
// the shadow, giving the device subscriptions time to land.
const shadowFetchDelay = 500 * time.Millisecond

// Mirror keeps a local copy of one device's shadow. Updates pushed by the
// broker and responses to the mirror's own fetches are deep-merged into the
// copy and forwarded to the output.
type Mirror struct {
	s      Session
	dev    session.Credential
	out    Output
	logger Logger
	ls     *listeners

	now        func() time.Time
	fetchDelay time.Duration

	mu      sync.Mutex
	doc     any
	lastGet time.Time
	timer   *time.Timer
	closed  bool

	// bound is set once the device bundle is subscribed, in registry
	// epoch boundEpoch.
	bound      bool
	boundEpoch uint64
}

// NewMirror creates a Mirror for dev. out and logger may be nil.
func NewMirror(s Session, dev session.Credential, out Output, logger Logger) *Mirror {
	return &Mirror{
		s:          s,
		dev:        dev,
		out:        orDefault(out),
		logger:     logger,
		ls:         newListeners(s),
		now:        time.Now,
		fetchDelay: shadowFetchDelay,
	}
}

// Start registers the mirror's listeners. When the session is already
// connected the connect handling runs immediately.
func (m *Mirror) Start() {
	id := m.dev.Principal
	m.ls.on(string(topic.EventConnect), func(eventbus.Event) error {
		m.onConnect()
		return nil
	})
	m.ls.on(string(topic.EventDisconnect), func(eventbus.Event) error {
		m.info("shadow mirror disconnected")
		return nil
	})
	m.ls.on(topic.EventShadowResponse.For(id), m.onResponse)
	m.ls.on(topic.EventShadowUpdated.For(id), m.onUpdated)

	if m.s.IsConnected() {
		m.onConnect()
	}
}

func (m *Mirror) onConnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	epoch := m.s.Epoch()
	bind := !m.bound || m.boundEpoch != epoch
	m.bound, m.boundEpoch = true, epoch
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.fetchDelay, func() { m.Get() })
	m.mu.Unlock()

	m.info("shadow mirror connected")
	if bind && !m.s.SubscribeDevice(m.dev) && m.logger != nil {
		m.logger.Warn("device subscription incomplete", "device_id", m.dev.Principal)
	}
}

// Get requests the device shadow. The response is accepted for five seconds.
func (m *Mirror) Get() bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.lastGet = m.now()
	m.mu.Unlock()

	return m.s.GetShadow(m.dev)
}

// Update writes data to the device shadow.
func (m *Mirror) Update(data any) bool {
	return m.s.UpdateShadow(m.dev, data)
}

func (m *Mirror) onResponse(e eventbus.Event) error {
	m.mu.Lock()
	if m.lastGet.IsZero() || m.now().Sub(m.lastGet) >= responseWindow {
		m.mu.Unlock()
		return nil
	}
	m.lastGet = time.Time{}
	m.doc = DeepMerge(m.doc, e.Payload)
	m.mu.Unlock()

	m.out(Message{Topic: TopicShadowResponse, Payload: e.Payload})
	return nil
}

func (m *Mirror) onUpdated(e eventbus.Event) error {
	m.mu.Lock()
	m.doc = DeepMerge(m.doc, e.Payload)
	m.mu.Unlock()

	m.out(Message{Topic: TopicShadowUpdated, Payload: e.Payload})
	return nil
}

// Document returns a copy of the merged shadow, or nil before anything has
// been received.
func (m *Mirror) Document() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deepCopy(m.doc)
}

// Close stops the pending fetch, removes the mirror's listeners and releases
// the device subscriptions when the session is connected.
func (m *Mirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	bound := m.bound && m.boundEpoch == m.s.Epoch()
	m.mu.Unlock()

	m.ls.close()
	if bound && m.s.IsConnected() {
		m.s.UnsubscribeDevice(m.dev)
	}
}

func (m *Mirror) info(msg string) {
	if m.logger != nil {
		m.logger.Info(msg, "device_id", m.dev.Principal)
	}
}
