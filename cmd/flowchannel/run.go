package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chavee/netpie-flowchannel/internal/api"
	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/flow"
	"github.com/chavee/netpie-flowchannel/internal/infrastructure/config"
	"github.com/chavee/netpie-flowchannel/internal/infrastructure/influxdb"
	"github.com/chavee/netpie-flowchannel/internal/infrastructure/logging"
	"github.com/chavee/netpie-flowchannel/internal/session"
	"github.com/chavee/netpie-flowchannel/internal/telemetry"
	"github.com/chavee/netpie-flowchannel/internal/topic"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the session with the configured devices",
		Long: `Run the flow-channel session until interrupted.

Every device in the config gets the components it enables: a shadow mirror,
a status watcher, a feed watcher and a message watcher. With influxdb enabled, feed and
shadow updates are recorded as telemetry; with api enabled, the status API
and WebSocket relay are served.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

// flowComponent is a started flow consumer owning session listeners.
type flowComponent interface {
	Start()
	Close()
}

// run is the service: it returns when ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	c := newClient(cfg)
	log := c.log
	log.Info("starting flow channel",
		"version", version,
		"commit", commit,
		"client_id", c.session.ClientID(),
		"broker", cfg.MQTT.Broker,
	)
	defer func() {
		log.Info("destroying session")
		c.close()
	}()

	c.session.On(string(topic.EventError), eventbus.NewListener(func(e eventbus.Event) error {
		log.Error("session error", "error", e.Payload)
		return nil
	}))
	c.session.On(string(topic.EventConnect), eventbus.NewListener(func(eventbus.Event) error {
		log.Info("session connected", "subscriptions", len(c.session.Subscriptions()))
		return nil
	}))
	c.session.On(string(topic.EventDisconnect), eventbus.NewListener(func(eventbus.Event) error {
		log.Warn("session disconnected")
		return nil
	}))

	// Telemetry (optional)
	var influxHealth api.HealthChecker
	var recorder *telemetry.Recorder
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)

		recorder = telemetry.NewRecorder(c.session, influxClient, log.With("component", "telemetry"))
		recorder.Start()
		defer recorder.Stop()
		influxHealth = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Devices
	for _, component := range deviceComponents(c.session, cfg.Devices, log) {
		component.Start()
		defer component.Close()
	}

	// API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.With("component", "api"),
			Session:  c.session,
			MQTT:     c.dialer,
			InfluxDB: influxHealth,
			Version:  version,
		}
		if recorder != nil {
			deps.Telemetry = recorder
		}
		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	c.session.Connect()

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// deviceComponents builds the flow components each device config enables.
func deviceComponents(s *session.Session, devices []config.DeviceConfig, log *logging.Logger) []flowComponent {
	var components []flowComponent
	for _, d := range devices {
		cred := session.Credential{Principal: d.ID, Secret: d.Token}
		dlog := log.With("component", "flow", "device_id", d.ID)
		out := func(m flow.Message) {
			args := []any{"topic", m.Topic, "payload", formatPayload(m.Payload)}
			if m.Timestamp != 0 {
				args = append(args, "timestamp", m.Timestamp)
			}
			dlog.Info("device output", args...)
		}

		if d.Mirror {
			components = append(components, flow.NewMirror(s, cred, out, dlog))
		}
		if d.Status {
			components = append(components, flow.NewStatusWatcher(s, cred, out, dlog))
		}
		if d.Feed {
			components = append(components, flow.NewFeedWatcher(s, cred, out, dlog))
		}
		if len(d.Messages) > 0 {
			mode := flow.ParseOutputMode(d.Output)
			components = append(components, flow.NewMessageWatcher(s, cred, d.Messages, mode, out, dlog))
		}
	}
	return components
}
