package session

import (
	"encoding/json"
	"fmt"

	"github.com/chavee/netpie-flowchannel/internal/topic"
)

var taps = topic.Tap{}

// EncodePayload serialises an outbound value. Strings and byte slices go out
// as is, nil as an empty payload, everything else as JSON.
func EncodePayload(data any) ([]byte, error) {
	switch v := data.(type) {
	case nil:
		return []byte{}, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}
	return b, nil
}

// publishValue encodes data and publishes it, emitting an "error" event when
// encoding fails.
func (s *Session) publishValue(name string, data any) bool {
	payload, err := EncodePayload(data)
	if err != nil {
		s.emitError(err)
		return false
	}
	return s.Publish(name, payload)
}

// GetDeviceInfo requests the device record of d. The reply arrives as a
// "device/status/response" event.
func (s *Session) GetDeviceInfo(d Credential) bool {
	return s.Publish(taps.DeviceGet(d.Principal, d.Secret), []byte{})
}

// GetShadow requests the shadow of d. The reply arrives as a
// "shadow/data/response" event.
func (s *Session) GetShadow(d Credential) bool {
	return s.Publish(taps.ShadowGet(d.Principal, d.Secret), []byte{})
}

// UpdateShadow writes data to the shadow of d.
func (s *Session) UpdateShadow(d Credential, data any) bool {
	return s.publishValue(taps.ShadowUpdate(d.Principal, d.Secret), data)
}

// PublishMessage sends data to the device message topic sub.
func (s *Session) PublishMessage(d Credential, sub string, data any) bool {
	return s.publishValue(taps.Message(d.Principal, d.Secret, sub), data)
}

// PublishPrivate sends data to the device private topic sub.
func (s *Session) PublishPrivate(d Credential, sub string, data any) bool {
	return s.publishValue(taps.Private(d.Principal, d.Secret, sub), data)
}

// SubscribeDevice subscribes to the shadow, status and feed filters of d.
// Every filter is attempted; the result reports whether all succeeded.
func (s *Session) SubscribeDevice(d Credential) bool {
	ok := true
	for _, name := range taps.DeviceBundle(d.Principal, d.Secret) {
		if !s.Subscribe(name) {
			ok = false
		}
	}
	return ok
}

// UnsubscribeDevice reverses SubscribeDevice.
func (s *Session) UnsubscribeDevice(d Credential) bool {
	ok := true
	for _, name := range taps.DeviceBundle(d.Principal, d.Secret) {
		if !s.Unsubscribe(name) {
			ok = false
		}
	}
	return ok
}

// SubscribeMessage subscribes to the device message topic sub, which may
// contain wildcards.
func (s *Session) SubscribeMessage(d Credential, sub string) bool {
	return s.Subscribe(taps.Message(d.Principal, d.Secret, sub))
}

// UnsubscribeMessage reverses SubscribeMessage.
func (s *Session) UnsubscribeMessage(d Credential, sub string) bool {
	return s.Unsubscribe(taps.Message(d.Principal, d.Secret, sub))
}
