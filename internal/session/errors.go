package session

import "errors"

// Errors carried as the payload of "error" events.
// Use errors.Is() to check for these errors in listeners.
var (
	// ErrConnectionFailed is emitted when a connection attempt cannot be started.
	ErrConnectionFailed = errors.New("session: connection failed")

	// ErrSubscribeFailed is emitted when the broker rejects a subscribe.
	ErrSubscribeFailed = errors.New("session: subscribe failed")

	// ErrUnsubscribeFailed is emitted when the broker rejects an unsubscribe.
	ErrUnsubscribeFailed = errors.New("session: unsubscribe failed")

	// ErrPublishFailed is emitted when a publish is not accepted.
	ErrPublishFailed = errors.New("session: publish failed")

	// ErrEncodeFailed is emitted when an outbound payload cannot be serialised.
	ErrEncodeFailed = errors.New("session: payload encoding failed")
)
