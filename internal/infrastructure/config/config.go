package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for pglive.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	NATS      NATSConfig      `yaml:"nats"`
	Storage   StorageConfig   `yaml:"storage"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Database  DatabaseConfig  `yaml:"database"`
	Live      LiveConfig      `yaml:"live"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// Broker transports.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Storage drivers used for row-level access checks.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// BrokerConfig selects the message broker and the change-event topic layout.
type BrokerConfig struct {
	// Transport is "mqtt" (default) or "nats".
	Transport string `yaml:"transport"`

	// ChannelPrefix is the first topic segment of database change events,
	// e.g. "pg" in "pg/update/projects/id/42".
	ChannelPrefix string `yaml:"channel_prefix"`

	// DefaultQoS is used when a subscription request omits qos.
	DefaultQoS int `yaml:"default_qos"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	StatusTopic string              `yaml:"status_topic"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	// MaxDelay caps the automatic reconnect backoff, in seconds.
	MaxDelay int `yaml:"max_delay"`
}

// NATSConfig contains NATS connection settings, used when broker.transport is "nats".
type NATSConfig struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	MaxReconnects int    `yaml:"max_reconnects"`
	ReconnectWait int    `yaml:"reconnect_wait"`
}

// StorageConfig describes the store that row-level access checks run against.
type StorageConfig struct {
	// Driver is "postgres" (row-level security) or "sqlite" (local development).
	Driver string `yaml:"driver"`

	// IDColumn is the column selected by the access check query.
	IDColumn string `yaml:"id_column"`

	// Schema optionally qualifies table names in the access check query.
	Schema string `yaml:"schema"`
}

// PostgresConfig contains PostgreSQL pool settings.
type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`

	// ClaimsPrefix is the settings namespace JWT claims are exposed under,
	// e.g. "jwt.claims" makes current_setting('jwt.claims.sub') available to policies.
	ClaimsPrefix string `yaml:"claims_prefix"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LiveConfig contains live subscription defaults.
type LiveConfig struct {
	// ThrottleDefault is the delivery interval in milliseconds used when a
	// subscription does not ask for one.
	ThrottleDefault int `yaml:"throttle_default"`

	// SendBuffer is the per-subscription buffered delivery count.
	SendBuffer int `yaml:"send_buffer"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains identity settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// AnonymousRole is the database role used when a request carries no valid token.
	AnonymousRole string `yaml:"anonymous_role"`

	// AccessTokenKey is the query parameter (and custom header suffix) carrying the token.
	AccessTokenKey string `yaml:"access_token_key"`

	// HeaderPrefix prefixes custom identity headers, e.g. "x-pglive-".
	HeaderPrefix string `yaml:"header_prefix"`
}

// JWTConfig contains JWT verification settings.
type JWTConfig struct {
	Secret    string `yaml:"secret"`
	RoleField string `yaml:"role_field"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PGLIVE_SECTION_KEY
// For example: PGLIVE_MQTT_HOST, PGLIVE_POSTGRES_URL
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
		Broker: BrokerConfig{
			Transport:     TransportMQTT,
			ChannelPrefix: "pg",
			DefaultQoS:    1,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pglive",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				MaxDelay: 60,
			},
			StatusTopic: "pglive/system/status",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "pglive",
			MaxReconnects: -1,
			ReconnectWait: 2,
		},
		Storage: StorageConfig{
			Driver:   DriverPostgres,
			IDColumn: "id",
		},
		Postgres: PostgresConfig{
			URL:          "postgres://localhost:5432/project",
			MaxConns:     10,
			ClaimsPrefix: "jwt.claims",
		},
		Database: DatabaseConfig{
			Path:        "./data/pglive.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Live: LiveConfig{
			ThrottleDefault: 50,
			SendBuffer:      16,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 4000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/live",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				RoleField: "identity_role",
			},
			AnonymousRole:  "anonymous",
			AccessTokenKey: "accessToken",
			HeaderPrefix:   "x-pglive-",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PGLIVE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Broker
	if v := os.Getenv("PGLIVE_BROKER_TRANSPORT"); v != "" {
		cfg.Broker.Transport = v
	}
	if v := os.Getenv("PGLIVE_BROKER_CHANNEL_PREFIX"); v != "" {
		cfg.Broker.ChannelPrefix = v
	}

	// MQTT
	if v := os.Getenv("PGLIVE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PGLIVE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("PGLIVE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PGLIVE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// NATS
	if v := os.Getenv("PGLIVE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	// Storage
	if v := os.Getenv("PGLIVE_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("PGLIVE_POSTGRES_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("PGLIVE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("PGLIVE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Live
	if v := os.Getenv("PGLIVE_LIVE_THROTTLE_DEFAULT"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Live.ThrottleDefault = ms
		}
	}

	// InfluxDB
	if v := os.Getenv("PGLIVE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("PGLIVE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch c.Broker.Transport {
	case TransportMQTT, TransportNATS:
	default:
		errs = append(errs, "broker.transport must be mqtt or nats")
	}
	if c.Broker.ChannelPrefix == "" {
		errs = append(errs, "broker.channel_prefix is required")
	} else if strings.ContainsAny(c.Broker.ChannelPrefix, "/+#") {
		errs = append(errs, "broker.channel_prefix must be a single topic level")
	}
	if c.Broker.DefaultQoS < 0 || c.Broker.DefaultQoS > 2 {
		errs = append(errs, "broker.default_qos must be 0, 1, or 2")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, "postgres.url is required for the postgres storage driver")
		}
	case DriverSQLite:
	default:
		errs = append(errs, "storage.driver must be postgres or sqlite")
	}
	if c.Storage.IDColumn == "" {
		errs = append(errs, "storage.id_column is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Live.ThrottleDefault < 0 {
		errs = append(errs, "live.throttle_default must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Security.JWT.RoleField == "" {
		errs = append(errs, "security.jwt.role_field is required")
	}
	if c.Security.AnonymousRole == "" {
		errs = append(errs, "security.anonymous_role is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ThrottleDefault returns the default throttle interval as a Duration.
func (c *Config) ThrottleDefault() time.Duration {
	return time.Duration(c.Live.ThrottleDefault) * time.Millisecond
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
