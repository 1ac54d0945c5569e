package main

import (
	"context"
	"sync/atomic"

	"github.com/chavee/netpie-flowchannel/internal/infrastructure/config"
	"github.com/chavee/netpie-flowchannel/internal/infrastructure/mqtt"
	"github.com/chavee/netpie-flowchannel/internal/session"
)

// transportDialer adapts mqtt.Dial to session.DialFunc and remembers the
// latest broker client for health checks.
type transportDialer struct {
	cfg     config.MQTTConfig
	logger  mqtt.Logger
	current atomic.Pointer[mqtt.Client]
}

func newTransportDialer(cfg config.MQTTConfig, logger mqtt.Logger) *transportDialer {
	return &transportDialer{cfg: cfg, logger: logger}
}

// Dial implements session.DialFunc.
func (d *transportDialer) Dial(id session.Identity, h session.Handlers) (session.Transport, error) {
	creds := mqtt.Credentials{
		ClientID: id.ClientID,
		Username: id.Username,
		Password: id.Password,
	}
	cb := mqtt.Callbacks{
		OnConnect:        h.OnConnect,
		OnConnectionLost: func(error) { h.OnClose() },
		OnError:          h.OnError,
		OnMessage: func(topic string, payload []byte) error {
			h.OnMessage(topic, payload)
			return nil
		},
	}

	c, err := mqtt.Dial(d.cfg, creds, cb, d.logger)
	if err != nil {
		return nil, err
	}
	d.current.Store(c)
	return c, nil
}

// HealthCheck reports the health of the most recent broker client.
func (d *transportDialer) HealthCheck(ctx context.Context) error {
	c := d.current.Load()
	if c == nil || c.Closed() {
		return mqtt.ErrNotConnected
	}
	return c.HealthCheck(ctx)
}
