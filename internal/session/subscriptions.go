package session

import (
	"fmt"
	"sort"
)

// Subscribe adds one reference to topic, subscribing on the broker only for
// the first reference, or when the topic could not be restored after a
// reconnect. It returns false when the session is not connected or the
// broker rejects the subscription; a rejection is also emitted as an
// "error" event and leaves the reference count untouched.
func (s *Session) Subscribe(topic string) bool {
	return s.subscribe(topic, false)
}

// subscribe implements Subscribe. With ifAbsent set, an already tracked
// topic is left as is instead of gaining a reference.
func (s *Session) subscribe(name string, ifAbsent bool) bool {
	if name == "" {
		return false
	}

	s.opMu.Lock()

	s.mu.Lock()
	if s.state != StateConnected || s.transport == nil {
		s.mu.Unlock()
		s.opMu.Unlock()
		return false
	}
	n, tracked := s.subs[name]
	if tracked && !s.unrestored[name] {
		if !ifAbsent {
			s.subs[name] = n + 1
		}
		s.mu.Unlock()
		s.opMu.Unlock()
		return true
	}
	t, gen := s.transport, s.gen
	s.mu.Unlock()

	err := t.Subscribe(name)

	s.mu.Lock()
	stale := s.gen != gen
	if err == nil && !stale {
		delete(s.unrestored, name)
		switch {
		case !tracked:
			s.subs[name] = 1
		case !ifAbsent:
			s.subs[name]++
		}
	}
	s.mu.Unlock()
	s.opMu.Unlock()

	switch {
	case stale:
		return false
	case err != nil:
		s.emitError(fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, name, err))
		return false
	}
	if s.debug {
		s.logger.Debug("subscribed", "topic", name)
	}
	return true
}

// Unsubscribe drops one reference to topic, unsubscribing on the broker
// when the last reference goes. Unsubscribing an untracked topic succeeds
// without touching the broker. It returns false when the session is not
// connected or the broker rejects the request; on rejection the reference
// is kept and an "error" event is emitted.
func (s *Session) Unsubscribe(name string) bool {
	s.opMu.Lock()

	s.mu.Lock()
	if s.state != StateConnected || s.transport == nil {
		s.mu.Unlock()
		s.opMu.Unlock()
		return false
	}
	n, ok := s.subs[name]
	if !ok {
		s.mu.Unlock()
		s.opMu.Unlock()
		return true
	}
	if n > 1 {
		s.subs[name] = n - 1
		s.mu.Unlock()
		s.opMu.Unlock()
		return true
	}
	t, gen := s.transport, s.gen
	s.mu.Unlock()

	err := t.Unsubscribe(name)

	s.mu.Lock()
	stale := s.gen != gen
	if err == nil && !stale {
		delete(s.subs, name)
		delete(s.unrestored, name)
	}
	s.mu.Unlock()
	s.opMu.Unlock()

	switch {
	case stale:
		return false
	case err != nil:
		s.emitError(fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, name, err))
		return false
	}
	if s.debug {
		s.logger.Debug("unsubscribed", "topic", name)
	}
	return true
}

// restoreSubscriptions re-issues every tracked topic on the broker after a
// transport-level reconnect. A topic that fails stays tracked and is marked
// unrestored: the next Subscribe of it, or the next reconnect, tries the
// broker again.
func (s *Session) restoreSubscriptions(gen uint64) {
	s.opMu.Lock()

	s.mu.Lock()
	if s.gen != gen || s.transport == nil {
		s.mu.Unlock()
		s.opMu.Unlock()
		return
	}
	t := s.transport
	topics := make([]string, 0, len(s.subs))
	for name := range s.subs {
		topics = append(topics, name)
	}
	s.mu.Unlock()

	sort.Strings(topics)
	var errs []error
	for _, name := range topics {
		if !s.current(gen) {
			break
		}
		err := t.Subscribe(name)

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			break
		}
		if err != nil {
			s.unrestored[name] = true
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, name, err))
		} else {
			delete(s.unrestored, name)
		}
		s.mu.Unlock()
	}
	s.opMu.Unlock()

	if len(topics) > 0 {
		s.logger.Info("subscriptions restored", "count", len(topics)-len(errs), "failed", len(errs))
	}
	for _, err := range errs {
		s.emitError(err)
	}
}

// Subscriptions returns the tracked broker topics, sorted.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make([]string, 0, len(s.subs))
	for name := range s.subs {
		topics = append(topics, name)
	}
	sort.Strings(topics)
	return topics
}

// Unrestored returns the tracked topics the broker does not currently hold
// because re-subscribing them after a reconnect failed, sorted.
func (s *Session) Unrestored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make([]string, 0, len(s.unrestored))
	for name := range s.unrestored {
		topics = append(topics, name)
	}
	sort.Strings(topics)
	return topics
}

// Epoch identifies the current subscription registry. It advances whenever
// Connect, Disconnect or Destroy clears the registry, so a holder can tell
// that references it took earlier no longer exist. Transport-level
// reconnects keep the registry and the epoch.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// References returns the reference count for topic, zero when untracked.
func (s *Session) References(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[topic]
}

// Publish sends payload to topic at QoS 0. It returns false when the
// session is not connected or the transport refuses the message.
func (s *Session) Publish(topic string, payload []byte) bool {
	if topic == "" {
		return false
	}

	s.mu.Lock()
	t := s.transport
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || t == nil {
		return false
	}

	if err := t.Publish(topic, payload); err != nil {
		s.emitError(fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err))
		return false
	}
	if s.debug {
		s.logger.Debug("published", "topic", topic, "bytes", len(payload))
	}
	return true
}
