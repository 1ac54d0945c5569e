// Package topic classifies inbound NETPIE broker traffic and builds the
// outbound topic strings a session publishes and subscribes to.
//
// Three concerns live here:
//   - Route turns a raw (topic, payload) pair into the application events to
//     emit, in order: the owner-scoped name ("shadow/data/updated:d1")
//     followed by the general one ("shadow/data/updated").
//   - Match implements MQTT filter semantics ("+" one level, "#" the rest)
//     for consumers that subscribe to abstract filters.
//   - Tap builds "@tap/<verb>/<resource>/<principal>:<secret>[/<sub>]"
//     request topics.
//
// Everything in this package is pure and safe for concurrent use.
package topic
