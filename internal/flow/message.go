package flow

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/session"
	"github.com/chavee/netpie-flowchannel/internal/topic"
)

// OutputMode selects how a MessageWatcher presents payloads.
type OutputMode string

// Output modes.
const (
	ModeString OutputMode = "string"
	ModeBuffer OutputMode = "buffer"
	ModeJSON   OutputMode = "json"
)

// ParseOutputMode maps a config value to an OutputMode. Unknown values and
// the empty string select ModeString.
func ParseOutputMode(s string) OutputMode {
	switch OutputMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeBuffer:
		return ModeBuffer
	case ModeJSON:
		return ModeJSON
	default:
		return ModeString
	}
}

// ConvertPayload presents payload according to mode:
//   - ModeString: a string; structured values are JSON encoded.
//   - ModeBuffer: a []byte; structured values are JSON encoded.
//   - ModeJSON: a decoded value; raw text that is not valid JSON becomes nil.
func ConvertPayload(mode OutputMode, payload any) any {
	switch mode {
	case ModeBuffer:
		switch v := payload.(type) {
		case []byte:
			return v
		case string:
			return []byte(v)
		}
		b, _ := json.Marshal(payload)
		return b

	case ModeJSON:
		var raw []byte
		switch v := payload.(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			return payload
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil
		}
		return out

	default:
		switch v := payload.(type) {
		case []byte:
			return string(v)
		case string:
			return v
		}
		b, _ := json.Marshal(payload)
		return string(b)
	}
}

// MessageWatcher delivers device messages matching a set of "@msg/..."
// filters. It learns the device's group from its device record, subscribes
// each filter once and listens on the group's "message" event.
type MessageWatcher struct {
	s       Session
	dev     session.Credential
	filters []string
	mode    OutputMode
	out     Output
	logger  Logger
	ls      *listeners

	mu         sync.Mutex
	group      string
	project    string
	subscribed map[string]bool
	epoch      uint64
}

// NewMessageWatcher creates a MessageWatcher for dev. Blank filters are
// dropped. out and logger may be nil.
func NewMessageWatcher(s Session, dev session.Credential, filters []string, mode OutputMode, out Output, logger Logger) *MessageWatcher {
	var clean []string
	for _, f := range filters {
		if f = strings.TrimSpace(f); f != "" {
			clean = append(clean, f)
		}
	}
	return &MessageWatcher{
		s:          s,
		dev:        dev,
		filters:    clean,
		mode:       mode,
		out:        orDefault(out),
		logger:     logger,
		ls:         newListeners(s),
		subscribed: make(map[string]bool),
	}
}

// Filters returns the filters being watched.
func (w *MessageWatcher) Filters() []string {
	return append([]string(nil), w.filters...)
}

// Start registers the watcher's listeners and fetches the device record,
// immediately if the session is connected and on every connect after that.
func (w *MessageWatcher) Start() {
	w.ls.on(string(topic.EventConnect), func(eventbus.Event) error {
		w.s.GetDeviceInfo(w.dev)
		return nil
	})
	w.ls.on(topic.EventStatusResponse.For(w.dev.Principal), w.onDeviceInfo)

	if w.s.IsConnected() {
		w.s.GetDeviceInfo(w.dev)
	}
}

// Group returns the device group, once known.
func (w *MessageWatcher) Group() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.group
}

func (w *MessageWatcher) onDeviceInfo(e eventbus.Event) error {
	st, ok := ParseStatus(e.Payload)
	if !ok {
		return nil
	}

	epoch := w.s.Epoch()

	w.mu.Lock()
	w.group, w.project = st.GroupID, st.ProjectID
	if w.epoch != epoch {
		w.subscribed = make(map[string]bool)
		w.epoch = epoch
	}
	var pending []string
	if st.GroupID != "" && st.ProjectID != "" {
		for _, f := range w.filters {
			if !w.subscribed[f] && strings.HasPrefix(f, topic.NamespaceMessage+"/") {
				pending = append(pending, f)
			}
		}
	}
	w.mu.Unlock()

	for _, f := range pending {
		if !w.s.SubscribeMessage(w.dev, strings.TrimPrefix(f, topic.NamespaceMessage+"/")) {
			if w.logger != nil {
				w.logger.Warn("message subscribe failed", "device_id", w.dev.Principal, "filter", f)
			}
			continue
		}
		w.mu.Lock()
		if w.epoch == epoch {
			w.subscribed[f] = true
		}
		w.mu.Unlock()
	}

	if st.GroupID != "" {
		w.ls.on(topic.EventMessage.For(st.GroupID), w.onPacket)
	}
	return nil
}

func (w *MessageWatcher) onPacket(e eventbus.Event) error {
	p, ok := e.Payload.(topic.Packet)
	if !ok || p.Topic == "" {
		return nil
	}

	for _, f := range w.filters {
		if topic.Match(f, p.Topic) {
			w.out(Message{Topic: p.Topic, Payload: ConvertPayload(w.mode, p.Payload)})
			return nil
		}
	}
	return nil
}

// Send publishes msg: "@msg/<sub>" topics as device messages and
// "@private/<sub>" topics as private messages. Other topics are ignored.
func (w *MessageWatcher) Send(msg Message) bool {
	switch {
	case strings.HasPrefix(msg.Topic, topic.NamespaceMessage+"/"):
		return w.s.PublishMessage(w.dev, strings.TrimPrefix(msg.Topic, topic.NamespaceMessage+"/"), msg.Payload)
	case strings.HasPrefix(msg.Topic, topic.NamespacePrivate+"/"):
		return w.s.PublishPrivate(w.dev, strings.TrimPrefix(msg.Topic, topic.NamespacePrivate+"/"), msg.Payload)
	}
	return false
}

// Close removes the watcher's listeners and releases its message
// subscriptions when the session is connected.
func (w *MessageWatcher) Close() {
	w.ls.close()

	w.mu.Lock()
	subs := w.subscribed
	current := w.epoch == w.s.Epoch()
	w.subscribed = make(map[string]bool)
	w.mu.Unlock()

	if !current || !w.s.IsConnected() {
		return
	}
	for f := range subs {
		w.s.UnsubscribeMessage(w.dev, strings.TrimPrefix(f, topic.NamespaceMessage+"/"))
	}
}
