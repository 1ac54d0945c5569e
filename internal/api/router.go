package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chavee/netpie-flowchannel/internal/session"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

// Error codes in error bodies.
const (
	codeNotFound         = "not_found"
	codeMethodNotAllowed = "method_not_allowed"
	codeTelemetryOff     = "telemetry_disabled"
	codeInternal         = "internal_error"
)

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message, RequestID: requestID})
}

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.traceMiddleware)
	r.Use(s.corsMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, w.Header().Get(requestIDHeader), http.StatusNotFound, codeNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, w.Header().Get(requestIDHeader), http.StatusMethodNotAllowed, codeMethodNotAllowed, "the API is read-only")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/session", s.handleSession)
		r.Get("/telemetry", s.handleTelemetry)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the session state and the health of each configured
// dependency. It answers 503 while the session is not connected or a
// dependency check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.session.State()
	checks := map[string]string{
		"session": state.String(),
	}
	healthy := state == session.StateConnected

	if s.mqtt != nil {
		checks["mqtt"] = s.check(r.Context(), s.mqtt, &healthy)
	}
	if s.influx != nil {
		checks["influxdb"] = s.check(r.Context(), s.influx, &healthy)
	} else {
		checks["influxdb"] = "disabled"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}

func (s *Server) check(ctx context.Context, hc HealthChecker, healthy *bool) string {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := hc.HealthCheck(ctx); err != nil {
		*healthy = false
		return err.Error()
	}
	return "ok"
}

// handleSession returns the session state, client id, tracked subscriptions
// and the events that currently have listeners.
func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	state := s.session.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":         state.String(),
		"connected":     state == session.StateConnected,
		"client_id":     s.session.ClientID(),
		"subscriptions": s.session.Subscriptions(),
		"events":        s.session.EventNames(),
	})
}

// handleTelemetry returns the telemetry recorder counters.
func (s *Server) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	if s.telemetry == nil {
		writeError(w, w.Header().Get(requestIDHeader), http.StatusNotFound, codeTelemetryOff, "telemetry is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.telemetry.Stats())
}
