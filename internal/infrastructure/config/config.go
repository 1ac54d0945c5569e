package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the flow-channel client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	FlowChannel FlowChannelConfig `yaml:"flowchannel"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Devices     []DeviceConfig    `yaml:"devices"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// FlowChannelConfig holds the session credential and flags.
type FlowChannelConfig struct {
	// Key is the session credential in "principal:secret" form.
	Key string `yaml:"key"`

	// Debug enables per-message debug logging in the session.
	Debug bool `yaml:"debug"`
}

// MQTTConfig contains broker connection settings.
type MQTTConfig struct {
	// Broker is the broker URL. Supported schemes: mqtt, mqtts, tcp, ssl,
	// ws, wss. A missing port defaults to 1883, or 8883 for TLS schemes.
	Broker string `yaml:"broker"`

	QoS              int `yaml:"qos"`
	KeepAlive        int `yaml:"keepalive"`         // seconds
	ConnectTimeout   int `yaml:"connect_timeout"`   // seconds
	ReconnectPeriod  int `yaml:"reconnect_period"`  // seconds
	OperationTimeout int `yaml:"operation_timeout"` // seconds
}

// DeviceConfig binds a device to the session at start-up.
type DeviceConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`

	// Mirror keeps a local copy of the device shadow.
	Mirror bool `yaml:"mirror"`

	// Status forwards device status changes.
	Status bool `yaml:"status"`

	// Feed forwards feed updates, one message per field.
	Feed bool `yaml:"feed"`

	// Messages lists "@msg/..." filters to watch for this device.
	Messages []string `yaml:"messages"`

	// Output is the message payload mode: string, buffer or json.
	Output string `yaml:"output"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains event relay settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Payload output modes for message watchers.
const (
	OutputString = "string"
	OutputBuffer = "buffer"
	OutputJSON   = "json"
)

// Load reads configuration from a YAML file, applies environment variable
// overrides and validates the result.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FLOWCHANNEL_SECTION_KEY
// For example: FLOWCHANNEL_MQTT_BROKER, FLOWCHANNEL_API_PORT
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Read is Load without validation, for callers that apply further
// overrides before calling Validate.
func Read(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns a Config with defaults matching the NETPIE service.
// It is also the starting point when no config file is used.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker:           "mqtts://mqtt.netpie.io",
			QoS:              0,
			KeepAlive:        15,
			ConnectTimeout:   5,
			ReconnectPeriod:  5,
			OperationTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// ApplyEnv applies FLOWCHANNEL_* overrides to c. Load calls it; commands
// running without a config file call it on Default().
func (c *Config) ApplyEnv() {
	applyEnvOverrides(c)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOWCHANNEL_KEY"); v != "" {
		cfg.FlowChannel.Key = v
	}
	if v := os.Getenv("FLOWCHANNEL_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.FlowChannel.Debug = b
		}
	}

	// MQTT
	if v := os.Getenv("FLOWCHANNEL_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}

	// API
	if v := os.Getenv("FLOWCHANNEL_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FLOWCHANNEL_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("FLOWCHANNEL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("FLOWCHANNEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
// Every problem found is reported, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if principal, secret, ok := strings.Cut(c.FlowChannel.Key, ":"); !ok || principal == "" || secret == "" {
		errs = append(errs, errors.New("flowchannel.key must be \"principal:secret\" (set FLOWCHANNEL_KEY)"))
	}

	if _, err := c.MQTT.BrokerURL(); err != nil {
		errs = append(errs, err)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1, or 2"))
	}
	if c.MQTT.KeepAlive < 1 || c.MQTT.ConnectTimeout < 1 || c.MQTT.ReconnectPeriod < 1 || c.MQTT.OperationTimeout < 1 {
		errs = append(errs, errors.New("mqtt timeouts must be at least 1 second"))
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" || d.Token == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: id and token are required", i))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate device id %q", i, d.ID))
		}
		seen[d.ID] = true

		switch d.Output {
		case "", OutputString, OutputBuffer, OutputJSON:
		default:
			errs = append(errs, fmt.Errorf("devices[%d].output must be string, buffer or json", i))
		}
		for _, f := range d.Messages {
			if f != "@msg" && !strings.HasPrefix(f, "@msg/") {
				errs = append(errs, fmt.Errorf("devices[%d].messages: %q must start with @msg/", i, f))
			}
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, errors.New("api.port must be between 1 and 65535"))
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, errors.New("influxdb.url is required when influxdb is enabled"))
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, errors.New("influxdb.org and influxdb.bucket are required when influxdb is enabled"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

// BrokerURL parses Broker and fills in the default port for its scheme.
func (m MQTTConfig) BrokerURL() (*url.URL, error) {
	u, err := url.Parse(m.Broker)
	if err != nil {
		return nil, fmt.Errorf("mqtt.broker: %w", err)
	}

	var port string
	switch u.Scheme {
	case "mqtt", "tcp":
		port = "1883"
	case "mqtts", "ssl", "tls":
		port = "8883"
	case "ws":
		port = "80"
	case "wss":
		port = "443"
	default:
		return nil, fmt.Errorf("mqtt.broker: unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.New("mqtt.broker: host is required")
	}
	if u.Port() == "" {
		u.Host = u.Hostname() + ":" + port
	}
	return u, nil
}

// GetKeepAlive returns the keepalive interval as a Duration.
func (m MQTTConfig) GetKeepAlive() time.Duration {
	return time.Duration(m.KeepAlive) * time.Second
}

// GetConnectTimeout returns the connect timeout as a Duration.
func (m MQTTConfig) GetConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeout) * time.Second
}

// GetReconnectPeriod returns the fixed reconnect period as a Duration.
func (m MQTTConfig) GetReconnectPeriod() time.Duration {
	return time.Duration(m.ReconnectPeriod) * time.Second
}

// GetOperationTimeout returns the subscribe/publish acknowledgement timeout.
func (m MQTTConfig) GetOperationTimeout() time.Duration {
	return time.Duration(m.OperationTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
