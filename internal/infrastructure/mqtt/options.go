package mqtt

import (
	"crypto/tls"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chavee/netpie-flowchannel/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultDisconnectQuiesce is how long Disconnect waits for in-flight
	// work, in milliseconds. Teardown is forced, so keep it short.
	defaultDisconnectQuiesce = 250

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho options from the broker config.
//
// This configures:
//   - Broker URL with the scheme's default port filled in
//   - Client identity and credentials
//   - Clean session
//   - Fixed-period automatic reconnect once a connection was established
//   - Connect timeout and keepalive
//   - Unordered delivery, so handlers that subscribe cannot block the
//     connection's read loop
func buildClientOptions(cfg config.MQTTConfig, creds Credentials) (*pahomqtt.ClientOptions, error) {
	broker, err := cfg.BrokerURL()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBroker, err)
	}
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(broker.String())

	opts.SetClientID(creds.ClientID)
	if creds.Username != "" {
		opts.SetUsername(creds.Username)
		opts.SetPassword(creds.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(cfg.GetReconnectPeriod())

	opts.SetConnectTimeout(cfg.GetConnectTimeout())
	opts.SetKeepAlive(cfg.GetKeepAlive())
	opts.SetWriteTimeout(cfg.GetOperationTimeout())

	opts.SetOrderMatters(false)

	switch broker.Scheme {
	case "mqtts", "ssl", "tls", "wss":
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts, nil
}
