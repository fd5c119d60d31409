package config

import "github.com/jsonfox/draft-league-bot/internal/gateway"

// GatewayClientConfig builds the gateway client configuration.
func (c *Config) GatewayClientConfig() gateway.Config {
	gc := gateway.DefaultConfig()
	g := c.Gateway

	gc.Token = c.Discord.Token
	gc.ApplicationID = c.Discord.ApplicationID
	gc.URL = c.Discord.GatewayURL
	gc.Version = c.Discord.GatewayVersion
	if c.Discord.Intents != 0 {
		gc.Intents = gateway.Intents(c.Discord.Intents)
	}
	gc.Presence = c.Discord.Presence.gatewayPresence()
	gc.Production = c.IsProduction()

	gc.HelloTimeout = g.HelloTimeout
	gc.ReadyTimeout = g.ReadyTimeout
	gc.IdentifyDelay = g.IdentifyDelay
	gc.RecoverDelay = g.RecoverDelay
	gc.ReconnectBaseWait = g.ReconnectBaseDelay
	gc.ReconnectMaxWait = g.ReconnectMaxDelay
	gc.ReconnectJitter = g.ReconnectJitter
	gc.MaxReconnects = g.MaxReconnects
	gc.SendBudget = g.SendBudget
	gc.SendWindow = g.SendWindow
	gc.MaxMissedAcks = g.MaxMissedAcks
	gc.WriteTimeout = g.WriteTimeout
	gc.CloseTimeout = g.CloseTimeout
	gc.HealthInterval = g.HealthInterval
	gc.AckStaleThreshold = g.AckStaleThreshold
	gc.HealthMaxMissedAcks = g.HealthMaxMissedAcks

	return gc
}

func (p PresenceConfig) gatewayPresence() *gateway.Presence {
	if p.Status == "" {
		return nil
	}
	presence := &gateway.Presence{Status: p.Status, Activities: []gateway.Activity{}}
	if p.ActivityName != "" {
		presence.Activities = append(presence.Activities, gateway.Activity{
			Name: p.ActivityName,
			Type: gateway.ActivityType(p.ActivityType),
		})
	}
	return presence
}
