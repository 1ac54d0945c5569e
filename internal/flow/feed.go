package flow

import (
	"encoding/json"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/session"
	"github.com/chavee/netpie-flowchannel/internal/topic"
)

// FeedWatcher forwards one device's feed updates. Each key of an update's
// "newdata" object becomes its own message, stamped with the update's
// timestamp.
type FeedWatcher struct {
	s      Session
	dev    session.Credential
	out    Output
	logger Logger
	ls     *listeners

	mu         sync.Mutex
	connected  bool
	closed     bool
	bound      bool
	boundEpoch uint64
}

// NewFeedWatcher creates a FeedWatcher for dev. out and logger may be nil.
func NewFeedWatcher(s Session, dev session.Credential, out Output, logger Logger) *FeedWatcher {
	return &FeedWatcher{
		s:      s,
		dev:    dev,
		out:    orDefault(out),
		logger: logger,
		ls:     newListeners(s),
	}
}

// Start registers the watcher's listeners and subscribes the device filters,
// immediately if the session is connected and on every connect after that.
func (w *FeedWatcher) Start() {
	w.ls.on(string(topic.EventConnect), func(eventbus.Event) error {
		w.onConnect()
		return nil
	})
	w.ls.on(string(topic.EventDisconnect), func(eventbus.Event) error {
		w.mu.Lock()
		w.connected = false
		w.mu.Unlock()
		return nil
	})
	w.ls.on(topic.EventFeedUpdated.For(w.dev.Principal), w.onUpdated)

	if w.s.IsConnected() {
		w.onConnect()
	}
}

func (w *FeedWatcher) onConnect() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	epoch := w.s.Epoch()
	bind := !w.bound || w.boundEpoch != epoch
	w.bound, w.boundEpoch = true, epoch
	w.connected = true
	w.mu.Unlock()

	if bind && !w.s.SubscribeDevice(w.dev) && w.logger != nil {
		w.logger.Warn("device subscription incomplete", "device_id", w.dev.Principal)
	}
}

func (w *FeedWatcher) onUpdated(e eventbus.Event) error {
	for _, m := range SplitFeed(e.Payload) {
		w.out(m)
	}
	return nil
}

// SplitFeed turns a feed update into one message per "newdata" key, in
// document order. Payloads without a "newdata" object yield nothing.
func SplitFeed(payload any) []Message {
	raw, ok := payload.([]byte)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		raw = b
	}

	data := gjson.GetBytes(raw, "newdata")
	if !data.IsObject() {
		return nil
	}
	ts := gjson.GetBytes(raw, "timestamp").Int()

	var msgs []Message
	data.ForEach(func(key, value gjson.Result) bool {
		msgs = append(msgs, Message{Topic: key.String(), Payload: value.Value(), Timestamp: ts})
		return true
	})
	return msgs
}

// Connected reports whether the session was connected at the last
// connect or disconnect event.
func (w *FeedWatcher) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Close removes the watcher's listeners and releases its device
// subscriptions.
func (w *FeedWatcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	bound := w.bound && w.boundEpoch == w.s.Epoch()
	w.mu.Unlock()

	w.ls.close()
	if bound && w.s.IsConnected() {
		w.s.UnsubscribeDevice(w.dev)
	}
}
