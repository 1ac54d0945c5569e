package flow

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/session"
	"github.com/chavee/netpie-flowchannel/internal/topic"
)

// Output topics of a StatusWatcher.
const (
	TopicStatusChanged  = "@device/status/changed"
	TopicStatusResponse = "@device/status/response"
)

// DeviceStatus is the device record carried by status events.
type DeviceStatus struct {
	DeviceID  string `json:"deviceid"`
	GroupID   string `json:"groupid"`
	ProjectID string `json:"projectid"`
	Status    int64  `json:"status"`
	Enabled   bool   `json:"enabled"`
}

// Online reports whether the record marks the device online.
func (d DeviceStatus) Online() bool {
	return d.Status != 0
}

// ParseStatus extracts a DeviceStatus from a routed payload. It reports false
// for payloads that are not JSON objects.
func ParseStatus(payload any) (DeviceStatus, bool) {
	raw, ok := payload.([]byte)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return DeviceStatus{}, false
		}
		raw = b
	}

	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return DeviceStatus{}, false
	}

	st := DeviceStatus{
		DeviceID:  r.Get("deviceid").String(),
		GroupID:   r.Get("groupid").String(),
		ProjectID: r.Get("projectid").String(),
		Enabled:   r.Get("enabled").Bool(),
	}
	switch s := r.Get("status"); s.Type {
	case gjson.True:
		st.Status = 1
	case gjson.Number, gjson.String:
		st.Status = s.Int()
	}
	return st, true
}

// StatusWatcher forwards one device's status changes, and the responses to
// its own status requests, to an output.
type StatusWatcher struct {
	s      Session
	dev    session.Credential
	out    Output
	logger Logger
	ls     *listeners
	now    func() time.Time

	mu      sync.Mutex
	lastGet time.Time
	status  DeviceStatus
	online  bool
}

// NewStatusWatcher creates a StatusWatcher for dev. out and logger may be nil.
func NewStatusWatcher(s Session, dev session.Credential, out Output, logger Logger) *StatusWatcher {
	return &StatusWatcher{
		s:      s,
		dev:    dev,
		out:    orDefault(out),
		logger: logger,
		ls:     newListeners(s),
		now:    time.Now,
	}
}

// Start registers the watcher's listeners and requests the device record,
// immediately if the session is connected and on every connect after that.
func (w *StatusWatcher) Start() {
	id := w.dev.Principal
	w.ls.on(string(topic.EventConnect), func(eventbus.Event) error {
		w.Request()
		return nil
	})
	w.ls.on(string(topic.EventDisconnect), func(eventbus.Event) error {
		w.mu.Lock()
		w.online = false
		w.mu.Unlock()
		return nil
	})
	w.ls.on(topic.EventStatusChanged.For(id), w.onChanged)
	w.ls.on(topic.EventStatusResponse.For(id), w.onResponse)

	if w.s.IsConnected() {
		w.Request()
	}
}

// Request publishes a device-info fetch. The response is forwarded when it
// arrives within five seconds.
func (w *StatusWatcher) Request() bool {
	w.mu.Lock()
	w.lastGet = w.now()
	w.mu.Unlock()

	return w.s.GetDeviceInfo(w.dev)
}

func (w *StatusWatcher) onChanged(e eventbus.Event) error {
	st, ok := ParseStatus(e.Payload)
	if !ok {
		return nil
	}
	w.record(st)
	if w.logger != nil {
		w.logger.Info("device status changed", "device_id", w.dev.Principal, "status", st.Status)
	}
	w.out(Message{Topic: TopicStatusChanged, Payload: st})
	return nil
}

func (w *StatusWatcher) onResponse(e eventbus.Event) error {
	st, ok := ParseStatus(e.Payload)
	if !ok {
		return nil
	}

	w.mu.Lock()
	if w.lastGet.IsZero() || w.now().Sub(w.lastGet) >= responseWindow {
		w.mu.Unlock()
		return nil
	}
	w.lastGet = time.Time{}
	w.mu.Unlock()

	w.record(st)
	w.out(Message{Topic: TopicStatusResponse, Payload: st})
	return nil
}

func (w *StatusWatcher) record(st DeviceStatus) {
	w.mu.Lock()
	w.status = st
	w.online = st.Online()
	w.mu.Unlock()
}

// Status returns the last device record seen.
func (w *StatusWatcher) Status() DeviceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Online reports whether the device was online at the last status event.
// It is false while the session is disconnected.
func (w *StatusWatcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Close removes the watcher's listeners.
func (w *StatusWatcher) Close() {
	w.ls.close()
}
