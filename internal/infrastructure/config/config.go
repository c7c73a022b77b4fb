package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Rename policies accepted by discovery.rename_policy.
const (
	RenamePolicyAutoUpdate = "auto_update"
	RenamePolicyConfirm    = "confirm"
)

// Config is the root configuration structure for DALI Center.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// GatewayConfig controls how the gateway collaborator talks to DALI gateways
// over the MQTT bus.
type GatewayConfig struct {
	// RequestTimeout bounds a single request/response exchange (connect,
	// inventory, disconnect). Inventory fetches are additionally bounded by
	// discovery.fetch_timeout.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DiscoveryConfig contains settings for the discovery and refresh flows.
type DiscoveryConfig struct {
	// ScanTimeout bounds the gateway scan. Gateways only answer after the
	// operator presses the reset button, so the default is generous.
	ScanTimeout time.Duration `yaml:"scan_timeout"`

	// FetchTimeout bounds inventory retrieval. No partial inventory is accepted.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// RenamePolicy decides whether renamed items update host entities
	// automatically ("auto_update") or require reconfirmation ("confirm").
	RenamePolicy string `yaml:"rename_policy"`

	// IdleTimeout fails a flow left waiting for operator input, releasing
	// its gateway for other flows.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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

// AuditConfig controls how long audit entries are kept. Zero keeps them
// forever.
type AuditConfig struct {
	Retention time.Duration `yaml:"retention"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	// Enabled turns on bearer-token validation for the operator API.
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DALICENTER_SECTION_KEY
// For example: DALICENTER_DATABASE_PATH, DALICENTER_MQTT_HOST
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

// Default returns the built-in configuration. Useful for tests and for
// running without a config file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/dalicenter.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "dalicenter",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Gateway: GatewayConfig{
			RequestTimeout: 10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			ScanTimeout:  3 * time.Minute,
			FetchTimeout: 30 * time.Second,
			RenamePolicy: RenamePolicyAutoUpdate,
			IdleTimeout:  30 * time.Minute,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Audit: AuditConfig{
			Retention: 90 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// envOverrides maps DALICENTER_* variables to the string settings they
// replace. Secrets belong here rather than in the YAML file.
func envOverrides(cfg *Config) map[string]*string {
	return map[string]*string{
		"DALICENTER_DATABASE_PATH":           &cfg.Database.Path,
		"DALICENTER_MQTT_HOST":               &cfg.MQTT.Broker.Host,
		"DALICENTER_MQTT_CLIENT_ID":          &cfg.MQTT.Broker.ClientID,
		"DALICENTER_MQTT_USERNAME":           &cfg.MQTT.Auth.Username,
		"DALICENTER_MQTT_PASSWORD":           &cfg.MQTT.Auth.Password,
		"DALICENTER_API_HOST":                &cfg.API.Host,
		"DALICENTER_DISCOVERY_RENAME_POLICY": &cfg.Discovery.RenamePolicy,
		"DALICENTER_INFLUXDB_URL":            &cfg.InfluxDB.URL,
		"DALICENTER_INFLUXDB_TOKEN":          &cfg.InfluxDB.Token,
		"DALICENTER_JWT_SECRET":              &cfg.Security.JWT.Secret,
		"DALICENTER_LOG_LEVEL":               &cfg.Logging.Level,
	}
}

func applyEnvOverrides(cfg *Config) {
	for name, field := range envOverrides(cfg) {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Gateway.RequestTimeout <= 0 {
		errs = append(errs, "gateway.request_timeout must be positive")
	}

	if c.Discovery.ScanTimeout <= 0 {
		errs = append(errs, "discovery.scan_timeout must be positive")
	}
	if c.Discovery.FetchTimeout <= 0 {
		errs = append(errs, "discovery.fetch_timeout must be positive")
	}
	if c.Discovery.IdleTimeout < 0 {
		errs = append(errs, "discovery.idle_timeout cannot be negative")
	}
	switch c.Discovery.RenamePolicy {
	case RenamePolicyAutoUpdate, RenamePolicyConfirm:
	default:
		errs = append(errs, fmt.Sprintf("discovery.rename_policy must be %q or %q",
			RenamePolicyAutoUpdate, RenamePolicyConfirm))
	}

	if c.Audit.Retention < 0 {
		errs = append(errs, "audit.retention cannot be negative")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Enabled && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters (set DALICENTER_JWT_SECRET)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
