package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for EspHive Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
//
// A loaded Config is treated as immutable: reload produces a fresh value
// that is swapped into the Store, never mutated in place.
type Config struct {
	Endpoints []string       `yaml:"endpoints"`
	Stream    StreamConfig   `yaml:"stream"`
	Devices   []DeviceConfig `yaml:"devices"`
	Statuses  []StatusConfig `yaml:"statuses"`
	Groups    []GroupConfig  `yaml:"groups"`
	Database  DatabaseConfig `yaml:"database"`
	Persist   PersistConfig  `yaml:"persist"`
	InfluxDB  InfluxDBConfig `yaml:"influxdb"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	API       APIConfig      `yaml:"api"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// StreamConfig contains tuning for the per-endpoint streaming clients.
type StreamConfig struct {
	// PingTimeout is the reachability probe timeout in seconds.
	PingTimeout int `yaml:"ping_timeout"`

	// PingDelay is the fixed delay between retry cycles in seconds.
	// Retries are deliberately constant-delay, never exponential.
	PingDelay int `yaml:"ping_delay"`

	// IdleTimeout is the stream idle deadline in seconds. It is re-armed
	// on every received line; elapsing aborts the connection.
	IdleTimeout int `yaml:"idle_timeout"`
}

// ProbeTimeout returns the probe timeout as a Duration.
func (c StreamConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.PingTimeout) * time.Second
}

// RetryDelay returns the fixed retry delay as a Duration.
func (c StreamConfig) RetryDelay() time.Duration {
	return time.Duration(c.PingDelay) * time.Second
}

// IdleDeadline returns the idle deadline as a Duration.
func (c StreamConfig) IdleDeadline() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}

// DeviceConfig describes one remote device.
type DeviceConfig struct {
	// Name is the device identifier embedded in source keys.
	Name string `yaml:"name"`

	// DisplayName is the human-readable device name.
	DisplayName string `yaml:"display_name"`

	// IgnoreGroup opts the device out of group aggregation.
	IgnoreGroup bool `yaml:"ignore_group"`
}

// StatusConfig describes one telemetry status reported by every device.
type StatusConfig struct {
	// Prefix and Suffix frame the device name in the synthesized
	// source key: prefix + device + suffix.
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`

	// Name is the human-readable status name.
	Name string `yaml:"name"`

	// Unit is the measurement unit (W, kWh, °C, ...).
	Unit string `yaml:"unit"`

	// RecordDelta is the minimum value change that forces a recording
	// before the throttle elapses.
	RecordDelta float64 `yaml:"record_delta"`

	// RecordThrottle is the maximum time between forced recordings in seconds.
	RecordThrottle int `yaml:"record_throttle"`

	// Group is the group name this status aggregates into, if any.
	// Matched case-insensitively against configured group names.
	Group string `yaml:"group"`
}

// GroupConfig describes one aggregation group.
type GroupConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Title string `yaml:"title"`
	Unit  string `yaml:"unit"`

	// RecordThrottle gates group recordings in seconds. Groups have no
	// delta check; throttle alone decides.
	RecordThrottle int `yaml:"record_throttle"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// PersistConfig contains persistence queue settings.
type PersistConfig struct {
	// RetryDelay is the pause after a storage write failure in seconds.
	RetryDelay int `yaml:"retry_delay"`

	// CheckpointInterval is the wall-clock cadence for WAL checkpoints in hours.
	CheckpointInterval int `yaml:"checkpoint_interval"`
}

// InfluxDBConfig contains optional time-series mirror settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MQTTConfig contains optional republish bridge settings.
type MQTTConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Broker      MQTTBroker     `yaml:"broker"`
	Auth        MQTTAuthConfig `yaml:"auth"`
	QoS         int            `yaml:"qos"`
	TopicPrefix string         `yaml:"topic_prefix"`
}

// MQTTBroker contains MQTT broker connection details.
type MQTTBroker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// APIConfig contains the read-only HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ESPHIVE_SECTION_KEY
// For example: ESPHIVE_DATABASE_PATH, ESPHIVE_MQTT_HOST
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Stream: StreamConfig{
			PingTimeout: 1,
			PingDelay:   5,
			IdleTimeout: 120,
		},
		Database: DatabaseConfig{
			Path:        "./data/esphive.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Persist: PersistConfig{
			RetryDelay:         5,
			CheckpointInterval: 24,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBroker{
				Host:     "localhost",
				Port:     1883,
				ClientID: "esphive-core",
			},
			QoS:         1,
			TopicPrefix: "esphive",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ESPHIVE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ESPHIVE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("ESPHIVE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ESPHIVE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ESPHIVE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("ESPHIVE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ESPHIVE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("ESPHIVE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if len(c.Endpoints) == 0 {
		errs = append(errs, "endpoints: at least one stream endpoint is required")
	}
	for _, ep := range c.Endpoints {
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			errs = append(errs, fmt.Sprintf("endpoints: %q must be an http(s) URL", ep))
		}
	}

	if c.Stream.PingTimeout <= 0 {
		errs = append(errs, "stream.ping_timeout must be positive")
	}
	if c.Stream.PingDelay <= 0 {
		errs = append(errs, "stream.ping_delay must be positive")
	}
	if c.Stream.IdleTimeout <= 0 {
		errs = append(errs, "stream.idle_timeout must be positive")
	}

	for i, st := range c.Statuses {
		if st.RecordDelta < 0 {
			errs = append(errs, fmt.Sprintf("statuses[%d].record_delta must not be negative", i))
		}
		if st.RecordThrottle <= 0 {
			errs = append(errs, fmt.Sprintf("statuses[%d].record_throttle must be positive", i))
		}
	}
	for i, g := range c.Groups {
		if g.ID == "" {
			errs = append(errs, fmt.Sprintf("groups[%d].id is required", i))
		}
		if g.RecordThrottle <= 0 {
			errs = append(errs, fmt.Sprintf("groups[%d].record_throttle must be positive", i))
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Persist.RetryDelay <= 0 {
		errs = append(errs, "persist.retry_delay must be positive")
	}
	if c.Persist.CheckpointInterval <= 0 {
		errs = append(errs, "persist.checkpoint_interval must be positive")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
