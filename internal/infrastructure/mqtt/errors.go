package mqtt

import "errors"

// Sentinel errors. Broker failures are wrapped around them, so callers
// test with errors.Is.
var (
	// Dial and configuration.
	ErrInvalidBroker    = errors.New("mqtt: invalid broker address")
	ErrInvalidQoS       = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrConnectionFailed = errors.New("mqtt: broker refused connection")

	// Operations on a client that is closed or between reconnects.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// Per-operation failures.
	ErrInvalidTopic      = errors.New("mqtt: empty topic")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrTimeout is returned when a token is not acknowledged within the
	// operation timeout.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
