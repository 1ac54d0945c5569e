package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/infrastructure/config"
	"github.com/chavee/netpie-flowchannel/internal/infrastructure/logging"
	"github.com/chavee/netpie-flowchannel/internal/session"
	"github.com/chavee/netpie-flowchannel/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Session is the view of the flow-channel session the API serves.
// *session.Session satisfies it.
type Session interface {
	State() session.State
	ClientID() string
	Subscriptions() []string
	EventNames() []string
	On(name string, l *eventbus.Listener) bool
	Off(name string, l *eventbus.Listener)
}

// HealthChecker is implemented by infrastructure clients that can report
// their own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsSource reports telemetry counters. *telemetry.Recorder satisfies it.
type StatsSource interface {
	Stats() telemetry.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Session   Session
	MQTT      HealthChecker // optional
	InfluxDB  HealthChecker // optional; nil when telemetry is disabled
	Telemetry StatsSource   // optional
	Version   string
}

// Server is the HTTP API server: health, session status and the WebSocket
// event relay.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	session   Session
	mqtt      HealthChecker
	influx    HealthChecker
	telemetry StatsSource
	version   string
	server    *http.Server
	hub       *Hub
	relay     *relay
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		session:   deps.Session,
		mqtt:      deps.MQTT,
		influx:    deps.InfluxDB,
		telemetry: deps.Telemetry,
		version:   deps.Version,
	}, nil
}

// Start sets up the router, starts the WebSocket hub, attaches the event
// relay to the session and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	s.relay = newRelay(s.session, s.hub)
	s.relay.attach()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close detaches the event relay and gracefully shuts down the server,
// waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.relay != nil {
		s.relay.detach()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
