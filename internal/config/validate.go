package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return errors.New("discord.token is required")
	}
	if c.Discord.ApplicationID == "" {
		return errors.New("discord.application_id is required")
	}
	if c.Server.AuthToken == "" {
		return errors.New("server.auth_token is required")
	}
	if c.Server.OriginURL == "" {
		return errors.New("server.origin_url is required")
	}
	u, err := url.Parse(c.Server.OriginURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.origin_url must be an absolute URL, got %q", c.Server.OriginURL)
	}

	switch c.Server.Environment {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		return fmt.Errorf("server.environment must be one of production, development, test, got %q", c.Server.Environment)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitMax < 1 {
		return errors.New("server.rate_limit_max must be >= 1")
	}

	if !strings.HasPrefix(c.Discord.GatewayURL, "ws://") && !strings.HasPrefix(c.Discord.GatewayURL, "wss://") {
		return fmt.Errorf("discord.gateway_url must be a ws:// or wss:// URL, got %q", c.Discord.GatewayURL)
	}

	if c.Gateway.MaxReconnects < 1 {
		return errors.New("gateway.max_reconnects must be >= 1")
	}
	if c.Gateway.SendBudget < 1 {
		return errors.New("gateway.send_budget must be >= 1")
	}
	if c.Gateway.MaxMissedAcks < 1 {
		return errors.New("gateway.max_missed_acks must be >= 1")
	}
	if c.Gateway.ReconnectBaseDelay > c.Gateway.ReconnectMaxDelay {
		return fmt.Errorf("gateway.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Gateway.ReconnectBaseDelay, c.Gateway.ReconnectMaxDelay)
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
