// Package config loads the service configuration from a YAML file.
package config

import "time"

// Config is the top-level service configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Discord      DiscordConfig      `yaml:"discord"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Interactions InteractionsConfig `yaml:"interactions"`
	Database     DatabaseConfig     `yaml:"database"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	OriginURL       string        `yaml:"origin_url"`
	AuthToken       string        `yaml:"auth_token"`
	Environment     string        `yaml:"environment"` // production, development or test
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DiscordConfig holds bot credentials and API endpoints.
type DiscordConfig struct {
	Token          string         `yaml:"token"`
	ApplicationID  string         `yaml:"application_id"`
	APIURL         string         `yaml:"api_url"`
	GatewayURL     string         `yaml:"gateway_url"`
	GatewayVersion int            `yaml:"gateway_version"`
	Intents        int            `yaml:"intents"`
	AuditChannelID string         `yaml:"audit_channel_id"` // empty disables channel notifications
	Presence       PresenceConfig `yaml:"presence"`
}

// PresenceConfig is the presence sent with identify. An empty Status sends
// none.
type PresenceConfig struct {
	Status       string `yaml:"status"`
	ActivityName string `yaml:"activity_name"`
	ActivityType int    `yaml:"activity_type"`
}

// GatewayConfig tunes the gateway client timings and thresholds.
type GatewayConfig struct {
	HelloTimeout        time.Duration `yaml:"hello_timeout"`
	ReadyTimeout        time.Duration `yaml:"ready_timeout"`
	IdentifyDelay       time.Duration `yaml:"identify_delay"`
	RecoverDelay        time.Duration `yaml:"recover_delay"`
	ReconnectBaseDelay  time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay"`
	ReconnectJitter     time.Duration `yaml:"reconnect_jitter"`
	MaxReconnects       int           `yaml:"max_reconnects"`
	SendBudget          int           `yaml:"send_budget"`
	SendWindow          time.Duration `yaml:"send_window"`
	MaxMissedAcks       int           `yaml:"max_missed_acks"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	CloseTimeout        time.Duration `yaml:"close_timeout"`
	HealthInterval      time.Duration `yaml:"health_interval"`
	AckStaleThreshold   time.Duration `yaml:"ack_stale_threshold"`
	HealthMaxMissedAcks int           `yaml:"health_max_missed_acks"`
}

// InteractionsConfig configures interaction forwarding.
type InteractionsConfig struct {
	SuppressWindow time.Duration `yaml:"suppress_window"`
	Timeout        time.Duration `yaml:"timeout"`
}

// DatabaseConfig configures the optional audit trail database.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds connection settings for a single database.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// IsDevelopment reports whether the service runs without a gateway
// connection.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction reports whether protocol errors are escalated to operators.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}
