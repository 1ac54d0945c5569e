package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chavee/netpie-flowchannel/internal/infrastructure/config"
)

// Client is one broker connection driven by paho.mqtt.golang.
//
// A failed connect attempt is reported through Callbacks.OnError and retried
// after the reconnect period. Once connected, paho reconnects on the same
// fixed period. The client keeps no subscription state of its own; sessions
// are clean and the owner re-subscribes from Callbacks.OnConnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - No callback fires after Close returns.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	cb     Callbacks
	logger Logger

	closed    atomic.Bool
	closeOnce sync.Once

	mu    sync.Mutex // guards retry against Close
	retry *time.Timer
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Credentials identify the client to the broker.
type Credentials struct {
	ClientID string
	Username string
	Password string
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library.
// A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Callbacks receive connection events. Any of them may be nil.
type Callbacks struct {
	// OnConnect fires on the first connect and on every reconnect.
	OnConnect func()

	// OnConnectionLost fires when an established connection drops.
	OnConnectionLost func(err error)

	// OnError receives failures that have no caller to return to, such as
	// a rejected initial connect.
	OnError func(err error)

	// OnMessage receives every inbound publish.
	OnMessage MessageHandler
}

// Dial starts connecting to the broker in cfg and returns immediately.
// Connection progress is reported through cb. Every refused or failed
// attempt reaches cb.OnError, and the next one starts a reconnect period
// later until Close is called.
//
// Dial fails only when the configuration cannot produce a broker address.
func Dial(cfg config.MQTTConfig, creds Credentials, cb Callbacks, logger Logger) (*Client, error) {
	opts, err := buildClientOptions(cfg, creds)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		cb:     cb,
		logger: logger,
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if !c.closed.Load() && c.logger != nil {
			c.logger.Info("reconnecting to broker", "client_id", creds.ClientID)
		}
	})
	opts.SetDefaultPublishHandler(c.wrapHandler())

	c.client = pahomqtt.NewClient(opts)
	c.connect()

	return c, nil
}

// connect starts one connection attempt and schedules the next if it fails.
func (c *Client) connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return
	}

	token := c.client.Connect()
	go func() {
		<-token.Done()
		err := token.Error()
		if err == nil {
			// Close found no open connection to tear down.
			if c.closed.Load() {
				c.client.Disconnect(defaultDisconnectQuiesce)
			}
			return
		}
		c.handleError(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
		c.scheduleConnect()
	}()
}

func (c *Client) scheduleConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return
	}
	c.retry = time.AfterFunc(c.cfg.GetReconnectPeriod(), c.connect)
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	if c.closed.Load() || c.cb.OnConnect == nil {
		return
	}
	c.cb.OnConnect()
}

// handleConnectionLost is called when the connection is lost.
func (c *Client) handleConnectionLost(err error) {
	if c.closed.Load() {
		return
	}
	if c.logger != nil {
		c.logger.Warn("broker connection lost", "error", err)
	}
	if c.cb.OnConnectionLost != nil {
		c.cb.OnConnectionLost(err)
	}
}

func (c *Client) handleError(err error) {
	if c.closed.Load() || c.cb.OnError == nil {
		return
	}
	c.cb.OnError(err)
}

// Close quiesces every callback and then disconnects, discarding anything
// in flight. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		if c.retry != nil {
			c.retry.Stop()
		}
		c.mu.Unlock()
		c.client.Disconnect(defaultDisconnectQuiesce)
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	return c.closed.Load()
}

// HealthCheck verifies the broker connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the connection is currently open. It is false
// between connect attempts.
func (c *Client) IsConnected() bool {
	return !c.closed.Load() && c.client.IsConnectionOpen()
}

// wrapHandler adapts Callbacks.OnMessage to paho, adding panic recovery
// and dropping messages that arrive after Close.
func (c *Client) wrapHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if c.closed.Load() || c.cb.OnMessage == nil {
			return
		}

		defer func() {
			if r := recover(); r != nil && c.logger != nil {
				c.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := c.cb.OnMessage(msg.Topic(), msg.Payload()); err != nil && c.logger != nil {
			c.logger.Warn("MQTT handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
