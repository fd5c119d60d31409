package config

import "time"

// Environments.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Default values for optional configuration fields.
const (
	DefaultPort                = 4000
	DefaultEnvironment         = EnvProduction
	DefaultRateLimitWindow     = 60 * time.Second
	DefaultRateLimitMax        = 100
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultAPIURL              = "https://discord.com/api/v10"
	DefaultGatewayURL          = "wss://gateway.discord.gg"
	DefaultGatewayVersion      = 10
	DefaultHelloTimeout        = 60 * time.Second
	DefaultReadyTimeout        = 15 * time.Second
	DefaultIdentifyDelay       = 5 * time.Second
	DefaultRecoverDelay        = 500 * time.Millisecond
	DefaultReconnectBaseDelay  = 1 * time.Second
	DefaultReconnectMaxDelay   = 5 * time.Minute
	DefaultReconnectJitter     = 1 * time.Second
	DefaultMaxReconnects       = 10
	DefaultSendBudget          = 115
	DefaultSendWindow          = 60 * time.Second
	DefaultMaxMissedAcks       = 3
	DefaultWriteTimeout        = 5 * time.Second
	DefaultCloseTimeout        = 5 * time.Second
	DefaultHealthInterval      = 60 * time.Second
	DefaultAckStaleThreshold   = 5 * time.Minute
	DefaultHealthMaxMissedAcks = 5
	DefaultSuppressWindow      = 3 * time.Second
	DefaultInteractionTimeout  = 10 * time.Second
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 4
	DefaultMinConns            = 1
	DefaultMetricsPath         = "/metrics"
	DefaultLogFormat           = "text"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Environment == "" {
		c.Server.Environment = DefaultEnvironment
	}
	if c.Server.RateLimitWindow == 0 {
		c.Server.RateLimitWindow = DefaultRateLimitWindow
	}
	if c.Server.RateLimitMax == 0 {
		c.Server.RateLimitMax = DefaultRateLimitMax
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Discord defaults
	if c.Discord.APIURL == "" {
		c.Discord.APIURL = DefaultAPIURL
	}
	if c.Discord.GatewayURL == "" {
		c.Discord.GatewayURL = DefaultGatewayURL
	}
	if c.Discord.GatewayVersion == 0 {
		c.Discord.GatewayVersion = DefaultGatewayVersion
	}

	// Gateway defaults
	g := &c.Gateway
	if g.HelloTimeout == 0 {
		g.HelloTimeout = DefaultHelloTimeout
	}
	if g.ReadyTimeout == 0 {
		g.ReadyTimeout = DefaultReadyTimeout
	}
	if g.IdentifyDelay == 0 {
		g.IdentifyDelay = DefaultIdentifyDelay
	}
	if g.RecoverDelay == 0 {
		g.RecoverDelay = DefaultRecoverDelay
	}
	if g.ReconnectBaseDelay == 0 {
		g.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if g.ReconnectMaxDelay == 0 {
		g.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if g.ReconnectJitter == 0 {
		g.ReconnectJitter = DefaultReconnectJitter
	}
	if g.MaxReconnects == 0 {
		g.MaxReconnects = DefaultMaxReconnects
	}
	if g.SendBudget == 0 {
		g.SendBudget = DefaultSendBudget
	}
	if g.SendWindow == 0 {
		g.SendWindow = DefaultSendWindow
	}
	if g.MaxMissedAcks == 0 {
		g.MaxMissedAcks = DefaultMaxMissedAcks
	}
	if g.WriteTimeout == 0 {
		g.WriteTimeout = DefaultWriteTimeout
	}
	if g.CloseTimeout == 0 {
		g.CloseTimeout = DefaultCloseTimeout
	}
	if g.HealthInterval == 0 {
		g.HealthInterval = DefaultHealthInterval
	}
	if g.AckStaleThreshold == 0 {
		g.AckStaleThreshold = DefaultAckStaleThreshold
	}
	if g.HealthMaxMissedAcks == 0 {
		g.HealthMaxMissedAcks = DefaultHealthMaxMissedAcks
	}

	// Interactions defaults
	if c.Interactions.SuppressWindow == 0 {
		c.Interactions.SuppressWindow = DefaultSuppressWindow
	}
	if c.Interactions.Timeout == 0 {
		c.Interactions.Timeout = DefaultInteractionTimeout
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
		if c.IsDevelopment() {
			c.Log.Level = "debug"
		}
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
