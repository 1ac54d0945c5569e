// Package session implements the NETPIE flow-channel session client: one
// broker connection per credential, with inbound traffic deduplicated,
// classified and delivered through an event bus, and outbound subscriptions
// reference-counted so that many logical owners share one broker
// subscription.
//
// # Architecture
//
//	transport ──message──▶ dedup.Cache ──▶ topic.Route ──▶ eventbus.Bus ──▶ listeners
//	application ──Subscribe/Unsubscribe──▶ reference counts ──▶ transport
//	application ──Publish──▶ transport
//
// The transport is supplied as a DialFunc so the session never depends on a
// particular MQTT library; cmd/flowchannel wires the paho-backed transport
// from internal/infrastructure/mqtt.
//
// # Lifecycle
//
// Connect, Disconnect and Destroy never fail at the call site. Transport
// problems surface as "error" events, connection changes as "connect" and
// "disconnect" events. Reconnection is left to the transport's own retry
// policy; on every transport-level connect the session re-issues the broker
// subscriptions it tracks, because sessions are clean.
//
// Callbacks from a torn-down transport are ignored: every Connect and
// Disconnect bumps a generation counter and callbacks carry the generation
// they were created for.
//
// # Usage
//
//	factory := session.NewFactory(dial, time.Now(), session.WithLogger(log))
//	s := factory.New("principal:secret")
//	s.On("shadow/data/updated:dev-1", eventbus.NewListener(onShadow))
//	s.Connect()
//	defer s.Destroy()
//
//	dev := session.ParseCredential("dev-1:token")
//	s.SubscribeDevice(dev)
//	s.UpdateShadow(dev, map[string]any{"data": map[string]any{"temp": 21}})
package session
