package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
flowchannel:
  key: "p1:s1"
  debug: true
mqtt:
  broker: "mqtt://localhost:1883"
devices:
  - id: "d1"
    token: "t1"
    mirror: true
    messages: ["@msg/room/+"]
    output: "json"
api:
  enabled: true
  port: 9090
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.FlowChannel.Key != "p1:s1" {
		t.Errorf("FlowChannel.Key = %q, want %q", cfg.FlowChannel.Key, "p1:s1")
	}
	if !cfg.FlowChannel.Debug {
		t.Error("FlowChannel.Debug = false, want true")
	}
	if cfg.MQTT.Broker != "mqtt://localhost:1883" {
		t.Errorf("MQTT.Broker = %q", cfg.MQTT.Broker)
	}
	if len(cfg.Devices) != 1 || !cfg.Devices[0].Mirror || cfg.Devices[0].Messages[0] != "@msg/room/+" {
		t.Errorf("Devices = %+v", cfg.Devices)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}

	// Defaults survive for fields the file does not set.
	if cfg.MQTT.KeepAlive != 15 || cfg.MQTT.ReconnectPeriod != 5 {
		t.Errorf("MQTT defaults lost: %+v", cfg.MQTT)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestRead_SkipsValidation(t *testing.T) {
	path := writeConfig(t, "mqtt:\n  broker: \"mqtt://localhost\"\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Load() without a key succeeded")
	}

	cfg, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.MQTT.Broker != "mqtt://localhost" {
		t.Errorf("MQTT.Broker = %q", cfg.MQTT.Broker)
	}
	if cfg.Validate() == nil {
		t.Error("Validate() on keyless config succeeded")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FLOWCHANNEL_KEY", "env:secret")
	t.Setenv("FLOWCHANNEL_MQTT_BROKER", "tcp://broker.local")
	t.Setenv("FLOWCHANNEL_API_PORT", "7070")
	t.Setenv("FLOWCHANNEL_DEBUG", "true")

	cfg, err := Load(writeConfig(t, "flowchannel:\n  key: \"file:secret\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.FlowChannel.Key != "env:secret" {
		t.Errorf("FlowChannel.Key = %q, want env override", cfg.FlowChannel.Key)
	}
	if cfg.MQTT.Broker != "tcp://broker.local" {
		t.Errorf("MQTT.Broker = %q, want env override", cfg.MQTT.Broker)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("API.Port = %d, want 7070", cfg.API.Port)
	}
	if !cfg.FlowChannel.Debug {
		t.Error("FlowChannel.Debug = false, want true")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.FlowChannel.Key = "p1:s1"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "missing key",
			mutate:  func(c *Config) { c.FlowChannel.Key = "" },
			wantErr: "flowchannel.key",
		},
		{
			name:    "key without secret",
			mutate:  func(c *Config) { c.FlowChannel.Key = "p1:" },
			wantErr: "flowchannel.key",
		},
		{
			name:    "bad broker scheme",
			mutate:  func(c *Config) { c.MQTT.Broker = "http://x" },
			wantErr: "unsupported scheme",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.MQTT.ConnectTimeout = 0 },
			wantErr: "at least 1 second",
		},
		{
			name:    "device without token",
			mutate:  func(c *Config) { c.Devices = []DeviceConfig{{ID: "d1"}} },
			wantErr: "devices[0]",
		},
		{
			name: "duplicate device",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{ID: "d1", Token: "a"}, {ID: "d1", Token: "b"}}
			},
			wantErr: "duplicate device id",
		},
		{
			name:    "bad output mode",
			mutate:  func(c *Config) { c.Devices = []DeviceConfig{{ID: "d1", Token: "a", Output: "xml"}} },
			wantErr: "output",
		},
		{
			name:    "bad message filter",
			mutate:  func(c *Config) { c.Devices = []DeviceConfig{{ID: "d1", Token: "a", Messages: []string{"room/+"}}} },
			wantErr: "must start with @msg/",
		},
		{
			name:    "api port out of range",
			mutate:  func(c *Config) { c.API.Enabled = true; c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "influxdb without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Org = "o"; c.InfluxDB.Bucket = "b" },
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"flowchannel.key", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, missing %q", err, want)
		}
	}
}

func TestMQTTConfig_BrokerURL(t *testing.T) {
	tests := []struct {
		broker string
		want   string
	}{
		{"mqtts://mqtt.netpie.io", "mqtts://mqtt.netpie.io:8883"},
		{"mqtt://localhost", "mqtt://localhost:1883"},
		{"tcp://10.0.0.1:1884", "tcp://10.0.0.1:1884"},
		{"wss://broker.example.com/mqtt", "wss://broker.example.com:443/mqtt"},
	}

	for _, tt := range tests {
		t.Run(tt.broker, func(t *testing.T) {
			u, err := MQTTConfig{Broker: tt.broker}.BrokerURL()
			if err != nil {
				t.Fatalf("BrokerURL() error = %v", err)
			}
			if u.String() != tt.want {
				t.Errorf("BrokerURL() = %q, want %q", u.String(), tt.want)
			}
		})
	}

	if _, err := (MQTTConfig{Broker: "mqtt://"}).BrokerURL(); err == nil {
		t.Error("BrokerURL() with empty host: expected error")
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()

	if got := cfg.MQTT.GetKeepAlive(); got != 15*time.Second {
		t.Errorf("GetKeepAlive() = %v, want 15s", got)
	}
	if got := cfg.MQTT.GetConnectTimeout(); got != 5*time.Second {
		t.Errorf("GetConnectTimeout() = %v, want 5s", got)
	}
	if got := cfg.MQTT.GetReconnectPeriod(); got != 5*time.Second {
		t.Errorf("GetReconnectPeriod() = %v, want 5s", got)
	}
	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
}
