package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/infrastructure/config"
	"github.com/chavee/netpie-flowchannel/internal/infrastructure/logging"
	"github.com/chavee/netpie-flowchannel/internal/session"
	"github.com/chavee/netpie-flowchannel/internal/telemetry"
	"github.com/chavee/netpie-flowchannel/internal/topic"
)

// fakeSession is a Session backed by a real event bus.
type fakeSession struct {
	*eventbus.Bus

	mu    sync.Mutex
	state session.State
	subs  []string
}

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) setState(st session.State) {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
}

func (f *fakeSession) ClientID() string        { return "p1-1700000000000" }
func (f *fakeSession) Subscriptions() []string { return f.subs }

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

type fakeStats struct{ stats telemetry.Stats }

func (f fakeStats) Stats() telemetry.Stats { return f.stats }

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

// testServer creates a Server around a connected fake session.
func testServer(t *testing.T, mutate ...func(*Deps)) (*Server, *fakeSession) {
	t.Helper()

	sess := &fakeSession{
		Bus:   eventbus.New(nil),
		state: session.StateConnected,
		subs:  []string{"@private/#", "@tap/shadow/updated/d1:tok"},
	}
	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS:      testWSConfig(),
		Logger:  testLogger(),
		Session: sess,
		Version: "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, srv.logger)
	go srv.hub.Run(ctx)

	return srv, sess
}

func get(t *testing.T, srv *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal %s: %v", path, err)
		}
	}
	return w, body
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Session: &fakeSession{Bus: eventbus.New(nil)}}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without session succeeded")
	}
}

// ─── Health ────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.MQTT = fakeHealth{}
	})

	w, body := get(t, srv, "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	checks := body["checks"].(map[string]any)
	if checks["session"] != "connected" || checks["mqtt"] != "ok" || checks["influxdb"] != "disabled" {
		t.Errorf("checks = %v", checks)
	}
}

func TestHealth_Degraded(t *testing.T) {
	tests := []struct {
		name   string
		state  session.State
		mutate func(*Deps)
	}{
		{"session connecting", session.StateConnecting, func(*Deps) {}},
		{"mqtt failing", session.StateConnected, func(d *Deps) { d.MQTT = fakeHealth{err: errors.New("mqtt down")} }},
		{"influx failing", session.StateConnected, func(d *Deps) { d.InfluxDB = fakeHealth{err: errors.New("influx down")} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, sess := testServer(t, tt.mutate)
			sess.setState(tt.state)

			w, body := get(t, srv, "/api/v1/health")
			if w.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want 503", w.Code)
			}
			if body["status"] != "degraded" {
				t.Errorf("body status = %v, want degraded", body["status"])
			}
		})
	}
}

// ─── Session & telemetry ───────────────────────────────────────────

func TestSession(t *testing.T) {
	srv, sess := testServer(t)
	sess.On("shadow/data/updated:d1", eventbus.NewListener(func(eventbus.Event) error { return nil }))

	w, body := get(t, srv, "/api/v1/session")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["state"] != "connected" || body["connected"] != true {
		t.Errorf("state = %v connected = %v", body["state"], body["connected"])
	}
	if body["client_id"] != "p1-1700000000000" {
		t.Errorf("client_id = %v", body["client_id"])
	}
	if subs := body["subscriptions"].([]any); len(subs) != 2 {
		t.Errorf("subscriptions = %v, want 2", subs)
	}
	if events := body["events"].([]any); len(events) != 1 || events[0] != "shadow/data/updated:d1" {
		t.Errorf("events = %v", events)
	}
}

func TestTelemetry(t *testing.T) {
	srv, _ := testServer(t)
	if w, _ := get(t, srv, "/api/v1/telemetry"); w.Code != http.StatusNotFound {
		t.Errorf("disabled telemetry status = %d, want 404", w.Code)
	}

	srv, _ = testServer(t, func(d *Deps) {
		d.Telemetry = fakeStats{telemetry.Stats{Feed: 3, Shadow: 1}}
	})
	w, body := get(t, srv, "/api/v1/telemetry")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["feed"] != 3.0 || body["shadow"] != 1.0 {
		t.Errorf("body = %v", body)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", id)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"open", nil, "http://localhost:3000", "http://localhost:3000"},
		{"listed", []string{"http://a.example"}, "http://a.example", "http://a.example"},
		{"not listed", []string{"http://a.example"}, "http://b.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, func(d *Deps) { d.Config.CORS.AllowedOrigins = tt.allowed })

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want 204", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("ACAO = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorBodies(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{"unknown route", http.MethodGet, "/api/v1/nonexistent", http.StatusNotFound, codeNotFound},
		{"write method", http.MethodPost, "/api/v1/session", http.StatusMethodNotAllowed, codeMethodNotAllowed},
		{"telemetry disabled", http.MethodGet, "/api/v1/telemetry", http.StatusNotFound, codeTelemetryOff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t)
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set(requestIDHeader, "req-1")
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var body errorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal error body %q: %v", w.Body.String(), err)
			}
			if body.Code != tt.wantBody || body.RequestID != "req-1" {
				t.Errorf("body = %+v, want code %q and request_id req-1", body, tt.wantBody)
			}
		})
	}
}

func TestTraceMiddleware_LogsSession(t *testing.T) {
	var buf bytes.Buffer
	srv, sess := testServer(t, func(d *Deps) {
		d.Logger = logging.NewWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, "test", &buf)
	})
	sess.setState(session.StateConnecting)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set(requestIDHeader, "req-2")
	srv.buildRouter().ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e map[string]any
		if json.Unmarshal([]byte(line), &e) == nil && e["msg"] == "http request" {
			entry = e
		}
	}
	if entry == nil {
		t.Fatalf("no access log entry in %q", buf.String())
	}
	want := map[string]any{
		"request_id":    "req-2",
		"client_id":     "p1-1700000000000",
		"session_state": session.StateConnecting.String(),
		"path":          "/api/v1/session",
		"status":        float64(http.StatusOK),
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("log %s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestTraceMiddleware_RecoversPanic(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.traceMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Code != codeInternal {
		t.Errorf("body = %q, want code %q", w.Body.String(), codeInternal)
	}
	if body.RequestID == "" || body.RequestID != w.Header().Get(requestIDHeader) {
		t.Errorf("request_id = %q, want the X-Request-ID header", body.RequestID)
	}
}

// ─── Hub ───────────────────────────────────────────────────────────

func newTestClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	client := &WSClient{
		id:            "test",
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
	hub.Register(client)
	return client
}

func receive(t *testing.T, client *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return WSMessage{}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	subscribed := newTestClient(hub, "shadow/data/updated")
	all := newTestClient(hub, ChannelAll)
	other := newTestClient(hub, "feed/data/updated")

	hub.Broadcast("shadow/data/updated", map[string]any{"deviceid": "d1"})

	for _, c := range []*WSClient{subscribed, all} {
		msg := receive(t, c)
		if msg.Type != WSTypeEvent || msg.EventType != "shadow/data/updated" {
			t.Errorf("message = %+v", msg)
		}
	}
	select {
	case <-other.send:
		t.Error("unsubscribed client received message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	client := newTestClient(hub)

	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestRelay(t *testing.T) {
	srv, sess := testServer(t)
	client := newTestClient(srv.hub, ChannelAll)

	r := newRelay(sess, srv.hub)
	r.attach()

	sess.Emit("error", errors.New("boom"))
	msg := receive(t, client)
	if msg.EventType != "error" {
		t.Fatalf("event_type = %q, want error", msg.EventType)
	}
	if p := msg.Payload.(map[string]any); p["message"] != "boom" {
		t.Errorf("payload = %v", p)
	}

	sess.Emit("raw:message", topic.Packet{Topic: "x", Payload: []byte("hello")})
	msg = receive(t, client)
	if p := msg.Payload.(map[string]any); p["payload"] != "hello" {
		t.Errorf("raw payload = %v, want string", p)
	}

	// Owner-scoped names are not relayed.
	sess.Emit("shadow/data/updated:d1", map[string]any{})
	select {
	case <-client.send:
		t.Error("owner-scoped event relayed")
	case <-time.After(50 * time.Millisecond):
	}

	r.detach()
	if n := sess.ListenerCount("error"); n != 0 {
		t.Errorf("listeners after detach = %d, want 0", n)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv, sess := testServer(t)
	srv.relay = newRelay(sess, srv.hub)
	srv.relay.attach()
	defer srv.relay.detach()

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline

	sub := `{"type":"subscribe","id":"1","payload":{"channels":["device/status/changed"]}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp WSMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("response = %+v", resp)
	}

	sess.Emit("device/status/changed", map[string]any{"deviceid": "d1", "status": 1})

	var evt WSMessage
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != WSTypeEvent || evt.EventType != "device/status/changed" {
		t.Errorf("event = %+v", evt)
	}
}

func TestWebSocket_UnknownType(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus","id":"7"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp WSMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != WSTypeError || resp.ID != "7" {
		t.Errorf("response = %+v", resp)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv, sess := testServer(t, func(d *Deps) { d.Config.Port = 19081 })

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start succeeded")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if sess.ListenerCount("connect") != 1 {
		t.Error("Start did not attach the relay")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if sess.ListenerCount("connect") != 0 {
		t.Error("Close did not detach the relay")
	}
}
