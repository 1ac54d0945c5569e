package topic

import "fmt"

// TapPrefix is the namespace of every request a session sends.
const TapPrefix = "@tap"

// PrivateAll is the filter a session subscribes to on every connect so that
// responses to its own requests reach it.
const PrivateAll = NamespacePrivate + "/#"

// Tap provides builders for "@tap/<verb>/<resource>/<principal>:<secret>"
// request topics.
//
//	topics := topic.Tap{}
//	t := topics.ShadowGet("dev-1", "tok")
//	// Returns: "@tap/shadow/get/dev-1:tok"
type Tap struct{}

func tap(verb, resource, principal, secret string) string {
	return fmt.Sprintf("%s/%s/%s/%s:%s", TapPrefix, verb, resource, principal, secret)
}

// =============================================================================
// Requests
// =============================================================================

// DeviceGet returns the device-info fetch topic.
//
// Example: @tap/device/get/dev-1:tok
func (Tap) DeviceGet(principal, secret string) string {
	return tap("device", "get", principal, secret)
}

// ShadowGet returns the shadow fetch topic.
//
// Example: @tap/shadow/get/dev-1:tok
func (Tap) ShadowGet(principal, secret string) string {
	return tap("shadow", "get", principal, secret)
}

// ShadowUpdate returns the shadow update topic.
//
// Example: @tap/shadow/update/dev-1:tok
func (Tap) ShadowUpdate(principal, secret string) string {
	return tap("shadow", "update", principal, secret)
}

// Message returns the topic for a device message, used both to publish and
// to subscribe.
//
// Example: @tap/msg/topic/dev-1:tok/room/temp
func (Tap) Message(principal, secret, sub string) string {
	return tap("msg", "topic", principal, secret) + "/" + sub
}

// Private returns the topic for a private publish.
//
// Example: @tap/private/topic/dev-1:tok/notify
func (Tap) Private(principal, secret, sub string) string {
	return tap("private", "topic", principal, secret) + "/" + sub
}

// =============================================================================
// Device bundle
// =============================================================================

// ShadowUpdated returns the filter delivering a device's shadow updates.
//
// Example: @tap/shadow/updated/dev-1:tok
func (Tap) ShadowUpdated(principal, secret string) string {
	return tap("shadow", "updated", principal, secret)
}

// DeviceChanged returns the filter delivering a device's status changes.
//
// Example: @tap/device/changed/dev-1:tok
func (Tap) DeviceChanged(principal, secret string) string {
	return tap("device", "changed", principal, secret)
}

// FeedUpdated returns the filter delivering a device's feed updates.
//
// Example: @tap/feed/updated/dev-1:tok
func (Tap) FeedUpdated(principal, secret string) string {
	return tap("feed", "updated", principal, secret)
}

// DeviceBundle returns the standard per-device filters in subscribe order.
func (t Tap) DeviceBundle(principal, secret string) []string {
	return []string{
		t.ShadowUpdated(principal, secret),
		t.DeviceChanged(principal, secret),
		t.FeedUpdated(principal, secret),
	}
}
