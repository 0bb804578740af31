package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Monitor.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Ingest      IngestConfig      `yaml:"ingest"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
	Cache       CacheConfig       `yaml:"cache"`
	Rules       RulesConfig       `yaml:"rules"`
	Supervision SupervisionConfig `yaml:"supervision"`
	Commands    CommandsConfig    `yaml:"commands"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
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
}

// IngestConfig controls the MQTT acquisition adapter and publishers.
type IngestConfig struct {
	Enabled            bool `yaml:"enabled"`
	PublishTags        bool `yaml:"publish_tags"`
	PublishSupervision bool `yaml:"publish_supervision"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// CacheConfig contains buffered listener settings shared by every
// collaborator that subscribes off the hot path.
type CacheConfig struct {
	// MinDelay and MaxDelay bound the batching window (milliseconds).
	MinDelay      int `yaml:"min_delay"`
	MaxDelay      int `yaml:"max_delay"`
	GrowThreshold int `yaml:"grow_threshold"`
	QueueSize     int `yaml:"queue_size"`
}

// RulesConfig contains rule evaluation settings.
type RulesConfig struct {
	// Tick is the debounce buffer tick (milliseconds).
	Tick      int `yaml:"tick"`
	MaxCycles int `yaml:"max_cycles"`
	MaxDepth  int `yaml:"max_depth"`
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// Timeout caps one evaluation (milliseconds).
	Timeout int `yaml:"timeout"`
}

// SupervisionConfig contains liveness supervision settings.
type SupervisionConfig struct {
	// SweepInterval is the alive sweep period (seconds).
	SweepInterval     int     `yaml:"sweep_interval"`
	Tolerance         float64 `yaml:"tolerance"`
	AliveRejectFactor float64 `yaml:"alive_reject_factor"`
	SignalQueueSize   int     `yaml:"signal_queue_size"`
}

// CommandsConfig contains command execution settings.
type CommandsConfig struct {
	// CheckInterval is how often pending executions are timed out (seconds).
	CheckInterval int `yaml:"check_interval"`
}

// PersistenceConfig contains update log settings.
type PersistenceConfig struct {
	UpdateLog     bool   `yaml:"update_log"`
	RetentionDays int    `yaml:"retention_days"`
	PurgeSchedule string `yaml:"purge_schedule"`
}

// FallbackConfig contains the local fallback store used while the update
// log database is unavailable.
type FallbackConfig struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`

	// ReplayInterval is how often a replay is attempted (seconds).
	ReplayInterval int `yaml:"replay_interval"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads path over the defaults, applies the GRAYMON_* environment
// overrides (see envOverrides) and validates the result.
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
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic Monitor",
		},
		Database: DatabaseConfig{
			Path:        "./data/graymon.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graymon",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
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
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Ingest: IngestConfig{
			Enabled:            true,
			PublishTags:        true,
			PublishSupervision: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 100,
			},
		},
		Cache: CacheConfig{
			MinDelay:      50,
			MaxDelay:      1000,
			GrowThreshold: 100,
			QueueSize:     10000,
		},
		Rules: RulesConfig{
			Tick:      75,
			MaxCycles: 6,
			MaxDepth:  16,
			Workers:   4,
			QueueSize: 4096,
			Timeout:   250,
		},
		Supervision: SupervisionConfig{
			SweepInterval:     5,
			Tolerance:         2,
			AliveRejectFactor: 2,
			SignalQueueSize:   1024,
		},
		Commands: CommandsConfig{
			CheckInterval: 1,
		},
		Persistence: PersistenceConfig{
			UpdateLog:     true,
			RetentionDays: 30,
			PurgeSchedule: "0 3 * * *",
		},
		Fallback: FallbackConfig{
			Path:           "./data/graymon-fallback.db",
			MaxEntries:     100000,
			ReplayInterval: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// envOverrides maps environment variables onto string settings. Secrets
// belong here rather than in the file.
func envOverrides(cfg *Config) map[string]*string {
	return map[string]*string{
		"GRAYMON_SITE_ID":        &cfg.Site.ID,
		"GRAYMON_DATABASE_PATH":  &cfg.Database.Path,
		"GRAYMON_FALLBACK_PATH":  &cfg.Fallback.Path,
		"GRAYMON_MQTT_HOST":      &cfg.MQTT.Broker.Host,
		"GRAYMON_MQTT_CLIENT_ID": &cfg.MQTT.Broker.ClientID,
		"GRAYMON_MQTT_USERNAME":  &cfg.MQTT.Auth.Username,
		"GRAYMON_MQTT_PASSWORD":  &cfg.MQTT.Auth.Password,
		"GRAYMON_API_HOST":       &cfg.API.Host,
		"GRAYMON_INFLUXDB_URL":   &cfg.InfluxDB.URL,
		"GRAYMON_INFLUXDB_TOKEN": &cfg.InfluxDB.Token,
		"GRAYMON_LOG_LEVEL":      &cfg.Logging.Level,
		"GRAYMON_JWT_SECRET":     &cfg.Security.JWT.Secret,
	}
}

// applyEnvOverrides copies every set, non-empty override into cfg. Ports
// that do not parse are left as loaded and caught by Validate if invalid.
func applyEnvOverrides(cfg *Config) {
	for name, dst := range envOverrides(cfg) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	for name, dst := range map[string]*int{
		"GRAYMON_API_PORT":  &cfg.API.Port,
		"GRAYMON_MQTT_PORT": &cfg.MQTT.Broker.Port,
	} {
		if n, err := strconv.Atoi(os.Getenv(name)); err == nil {
			*dst = n
		}
	}
}

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.Port < 0 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 0 and 65535")
	}

	// Security validation - JWT secret is REQUIRED. Admin routes start and
	// stop supervision of plant equipment.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GRAYMON_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	// Core tuning: zero means the component default, negatives are errors.
	if c.Rules.Tick < 0 || c.Rules.MaxCycles < 0 || c.Rules.MaxDepth < 0 ||
		c.Rules.Workers < 0 || c.Rules.QueueSize < 0 || c.Rules.Timeout < 0 {
		errs = append(errs, "rules settings must not be negative")
	}
	if c.Supervision.SweepInterval < 0 || c.Supervision.SignalQueueSize < 0 {
		errs = append(errs, "supervision settings must not be negative")
	}
	if c.Supervision.Tolerance != 0 && c.Supervision.Tolerance < 1 {
		errs = append(errs, "supervision.tolerance must be at least 1")
	}
	if c.Cache.MinDelay < 0 || c.Cache.MaxDelay < 0 || c.Cache.QueueSize < 0 {
		errs = append(errs, "cache settings must not be negative")
	}
	if c.Persistence.RetentionDays < 0 {
		errs = append(errs, "persistence.retention_days must not be negative")
	}
	if c.Persistence.UpdateLog && c.Persistence.PurgeSchedule != "" {
		if _, err := cronexpr.Parse(c.Persistence.PurgeSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("persistence.purge_schedule: %v", err))
		}
	}
	if c.Fallback.MaxEntries < 0 {
		errs = append(errs, "fallback.max_entries must not be negative")
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

// BufferDelays returns the buffered listener batching window bounds.
func (c CacheConfig) BufferDelays() (minDelay, maxDelay time.Duration) {
	return time.Duration(c.MinDelay) * time.Millisecond, time.Duration(c.MaxDelay) * time.Millisecond
}

// TickDuration returns the debounce tick.
func (r RulesConfig) TickDuration() time.Duration {
	return time.Duration(r.Tick) * time.Millisecond
}

// TimeoutDuration returns the evaluation time limit.
func (r RulesConfig) TimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Millisecond
}

// SweepDuration returns the alive sweep period.
func (s SupervisionConfig) SweepDuration() time.Duration {
	return time.Duration(s.SweepInterval) * time.Second
}

// CheckDuration returns the pending execution check period.
func (c CommandsConfig) CheckDuration() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// Retention returns how long update log rows are kept.
func (p PersistenceConfig) Retention() time.Duration {
	return time.Duration(p.RetentionDays) * 24 * time.Hour
}

// ReplayDuration returns the fallback replay period.
func (f FallbackConfig) ReplayDuration() time.Duration {
	return time.Duration(f.ReplayInterval) * time.Second
}
