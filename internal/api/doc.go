// Package api implements the HTTP status API and WebSocket event relay for
// the flow-channel service.
//
// This package provides:
//   - GET /api/v1/health: session state plus MQTT and InfluxDB checks
//   - GET /api/v1/session: client id, tracked subscriptions, active events
//   - GET /api/v1/telemetry: telemetry recorder counters
//   - GET /api/v1/ws: WebSocket relay of session events
//   - Middleware: request tracing with session-tagged access logs and
//     panic recovery, then CORS
//   - JSON error bodies carrying a code and the request id
//
// # WebSocket relay
//
// Clients subscribe to channels named after session events:
//
//	{"type":"subscribe","id":"1","payload":{"channels":["shadow/data/updated"]}}
//
// The channel "*" receives every relayed event. Events arrive as
//
//	{"type":"event","event_type":"shadow/data/updated","timestamp":"...","payload":{...}}
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
