package topic

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Event is an application event name emitted by a session.
type Event string

// Session lifecycle events.
const (
	EventConnect    Event = "connect"
	EventDisconnect Event = "disconnect"
	EventError      Event = "error"
)

// Routed events. Every routed event except EventRawMessage is emitted twice
// per message: first scoped to its owner (see Event.For), then bare.
const (
	EventShadowUpdated  Event = "shadow/data/updated"
	EventStatusChanged  Event = "device/status/changed"
	EventShadowResponse Event = "shadow/data/response"
	EventStatusResponse Event = "device/status/response"
	EventMessage        Event = "message"
	EventFeedUpdated    Event = "feed/data/updated"
	EventRawMessage     Event = "raw:message"
)

// Unidentified is the owner used when neither payload nor topic carries one.
const Unidentified = "unknown"

// OwnerField is the payload field holding the owning device id.
const OwnerField = "deviceid"

// For returns the owner-scoped form of e, e.g. "shadow/data/updated:d1".
func (e Event) For(owner string) string {
	return string(e) + ":" + owner
}

// String implements fmt.Stringer.
func (e Event) String() string {
	return string(e)
}

// Inbound topic namespaces.
const (
	NamespaceShadowUpdated  = "@shadow/data/updated"
	NamespaceStatusChanged  = "@device/status/changed"
	NamespaceShadowResponse = "@private/shadow/data/get/response"
	NamespaceStatusResponse = "@private/device/status/get/response"
	NamespaceMessage        = "@msg"
	NamespaceFeedUpdated    = "@feed/data/updated"
	NamespacePrivate        = "@private"
)

// classification maps owner-scoped namespaces to their event. Order matters
// only for readability; the prefixes are disjoint.
var classification = []struct {
	prefix string
	event  Event
}{
	{NamespaceShadowUpdated, EventShadowUpdated},
	{NamespaceStatusChanged, EventStatusChanged},
	{NamespaceShadowResponse, EventShadowResponse},
	{NamespaceStatusResponse, EventStatusResponse},
	{NamespaceFeedUpdated, EventFeedUpdated},
}

// Message is an inbound broker message after best-effort decoding.
type Message struct {
	// Topic is the topic the broker delivered on.
	Topic string

	// Raw is the payload as received.
	Raw []byte

	// Payload is the decoded JSON value, or Raw when decoding failed.
	Payload any

	// Owner is the payload's device id, or Unidentified.
	Owner string

	decoded bool
}

// Packet is the payload of "message" and "raw:message" events.
type Packet struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// Emission is one event to fire for a routed message.
type Emission struct {
	Name    string
	Payload any
}

// Decode parses raw as JSON. Decode failures are not errors: the payload is
// carried through as raw bytes.
func Decode(topic string, raw []byte) Message {
	m := Message{
		Topic: topic,
		Raw:   raw,
		Owner: Unidentified,
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		m.Payload = raw
		return m
	}
	m.Payload = v
	m.decoded = true

	if owner := gjson.GetBytes(raw, OwnerField); owner.Exists() && owner.String() != "" {
		m.Owner = owner.String()
	}
	return m
}

// Decoded reports whether the payload parsed as JSON.
func (m Message) Decoded() bool {
	return m.decoded
}

// Canonical returns a serialisation under which structurally equal payloads
// compare equal: JSON payloads are re-encoded (object keys sorted,
// whitespace dropped), anything else is taken byte for byte.
func (m Message) Canonical() string {
	if !m.decoded {
		return string(m.Raw)
	}
	b, err := json.Marshal(m.Payload)
	if err != nil {
		return string(m.Raw)
	}
	return string(b)
}

// Route classifies m and returns the events to emit, in emission order.
func Route(m Message) []Emission {
	for _, c := range classification {
		if strings.HasPrefix(m.Topic, c.prefix) {
			return []Emission{
				{Name: c.event.For(m.Owner), Payload: m.Payload},
				{Name: string(c.event), Payload: m.Payload},
			}
		}
	}

	if strings.HasPrefix(m.Topic, NamespaceMessage+"/") {
		group, short := SplitMessageTopic(m.Topic)
		packet := Packet{Topic: short, Payload: m.Payload}
		return []Emission{
			{Name: EventMessage.For(group), Payload: packet},
			{Name: string(EventMessage), Payload: packet},
		}
	}

	return []Emission{
		{Name: string(EventRawMessage), Payload: Packet{Topic: m.Topic, Payload: m.Payload}},
	}
}

// SplitMessageTopic splits "@msg/<project>/<group>/<rest...>" into the group
// and the short form "@msg/<rest...>" with project and group stripped.
func SplitMessageTopic(t string) (group, short string) {
	parts := strings.Split(t, "/")

	group = Unidentified
	if len(parts) > 2 {
		group = parts[2]
	}

	short = NamespaceMessage
	if len(parts) > 3 {
		short += "/" + strings.Join(parts[3:], "/")
	}
	return group, short
}
