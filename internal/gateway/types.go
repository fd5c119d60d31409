package gateway

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrWaitTimeout       = errors.New("wait timeout")
	ErrReconnectLimit    = errors.New("reconnect limit exceeded")
	ErrClientShutdown    = errors.New("client shut down")
)

// Opcode identifies the operation carried by a gateway frame.
type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpPresenceUpdate Opcode = 3
	OpResume         Opcode = 6
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

// String returns the opcode name used in logs and metrics labels.
func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpPresenceUpdate:
		return "presence_update"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return "unknown"
	}
}

// Close codes sent by the gateway (and the one we send ourselves).
const (
	CloseNormal               = 1000
	CloseAbnormal             = 1006
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSeq           = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014

	// CloseResuming is never sent by the remote. We close with it when we
	// intend to resume so the session stays valid on the other side.
	CloseResuming = 4200
)

// Dispatch event names handled by the client.
const (
	EventNameReady             = "READY"
	EventNameResumed           = "RESUMED"
	EventNameInteractionCreate = "INTERACTION_CREATE"
	EventNameGuildMemberAdd    = "GUILD_MEMBER_ADD"
	EventNameGuildMemberRemove = "GUILD_MEMBER_REMOVE"
	EventNameGuildBanAdd       = "GUILD_BAN_ADD"
	EventNameGuildBanRemove    = "GUILD_BAN_REMOVE"
	EventNameChannelCreate     = "CHANNEL_CREATE"
	EventNameChannelDelete     = "CHANNEL_DELETE"
	EventNameChannelUpdate     = "CHANNEL_UPDATE"
	EventNameGuildRoleCreate   = "GUILD_ROLE_CREATE"
	EventNameGuildRoleDelete   = "GUILD_ROLE_DELETE"
	EventNameGuildRoleUpdate   = "GUILD_ROLE_UPDATE"
)

// Intents is the capability bitmask requested in the identify frame.
type Intents int

const (
	IntentGuilds          Intents = 1 << 0
	IntentGuildMembers    Intents = 1 << 1
	IntentGuildModeration Intents = 1 << 2
	IntentGuildMessages   Intents = 1 << 9
	IntentMessageContent  Intents = 1 << 15
)

// DefaultIntents covers the events this service consumes.
const DefaultIntents = IntentGuilds | IntentGuildMembers | IntentGuildModeration |
	IntentGuildMessages | IntentMessageContent

// Frame is an inbound gateway payload.
type Frame struct {
	Op   Opcode          `json:"op"`
	Data json.RawMessage `json:"d"`
	Seq  *int64          `json:"s"`
	Type string          `json:"t"`
}

// outboundFrame is a payload written to the gateway.
type outboundFrame struct {
	Op   Opcode `json:"op"`
	Data any    `json:"d"`
}

// HelloData is the payload of OpHello.
type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// IdentifyData is the payload of OpIdentify.
type IdentifyData struct {
	Token      string             `json:"token"`
	Intents    Intents            `json:"intents"`
	Properties IdentifyProperties `json:"properties"`
	Presence   *Presence          `json:"presence,omitempty"`
}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// ResumeData is the payload of OpResume.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// Presence is the payload of OpPresenceUpdate.
type Presence struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"` // "online", "idle", "dnd", "invisible"
	AFK        bool       `json:"afk"`
}

// ActivityType is the kind of activity shown in a presence.
type ActivityType int

const (
	ActivityPlaying   ActivityType = 0
	ActivityStreaming ActivityType = 1
	ActivityListening ActivityType = 2
	ActivityWatching  ActivityType = 3
	ActivityCustom    ActivityType = 4
	ActivityCompeting ActivityType = 5
)

// Activity is a single presence activity.
type Activity struct {
	Name  string       `json:"name"`
	Type  ActivityType `json:"type"`
	State string       `json:"state,omitempty"`
	URL   string       `json:"url,omitempty"`
}

// User is the subset of a user object we read.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	GlobalName    string `json:"global_name,omitempty"`
}

// ReadyData is the payload of the READY dispatch.
type ReadyData struct {
	Version          int    `json:"v"`
	User             User   `json:"user"`
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	Application      struct {
		ID string `json:"id"`
	} `json:"application"`
	Guilds []struct {
		ID string `json:"id"`
	} `json:"guilds"`
}

// interactionHeader is the part of an INTERACTION_CREATE payload needed to route it.
type interactionHeader struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
}

// CloseOptions controls Close.
type CloseOptions struct {
	Code    int
	Reason  string
	Recover RecoverMode
}

// RecoverMode decides what happens after a close.
type RecoverMode int

const (
	RecoverNone RecoverMode = iota
	RecoverResume
	RecoverReconnect
)

// String returns the string representation of a RecoverMode.
func (m RecoverMode) String() string {
	switch m {
	case RecoverNone:
		return "none"
	case RecoverResume:
		return "resume"
	case RecoverReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// Config configures a gateway Client.
type Config struct {
	Token         string
	ApplicationID string
	URL           string // e.g. wss://gateway.discord.gg
	Version       int
	Intents       Intents
	Presence      *Presence // sent with identify
	Production    bool      // escalate protocol errors to the notifier

	HelloTimeout  time.Duration // Max wait for OpHello after the socket opens
	ReadyTimeout  time.Duration // Max wait for READY after identify
	IdentifyDelay time.Duration // Safety throttle before identify
	RecoverDelay  time.Duration // Pause between a recovering close and the next connect

	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	ReconnectJitter   time.Duration
	MaxReconnects     int

	SendBudget     int           // Frames allowed per SendWindow
	SendWindow     time.Duration
	SendJitter     time.Duration // Added to rate-limit sleeps
	MaxMissedAcks  int           // Heartbeats without ack before the connection is treated as a zombie
	WriteTimeout   time.Duration
	CloseTimeout   time.Duration // Max wait for the remote close acknowledgment
	HandshakeLimit time.Duration // WebSocket dial handshake timeout

	HealthInterval      time.Duration
	AckStaleThreshold   time.Duration
	HealthMaxMissedAcks int
	NotificationTimeout time.Duration
	ClientName          string // identify properties browser/device
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                 "wss://gateway.discord.gg",
		Version:             10,
		Intents:             DefaultIntents,
		HelloTimeout:        60 * time.Second,
		ReadyTimeout:        15 * time.Second,
		IdentifyDelay:       5 * time.Second,
		RecoverDelay:        500 * time.Millisecond,
		ReconnectBaseWait:   1 * time.Second,
		ReconnectMaxWait:    5 * time.Minute,
		ReconnectJitter:     1 * time.Second,
		MaxReconnects:       10,
		SendBudget:          115,
		SendWindow:          60 * time.Second,
		SendJitter:          250 * time.Millisecond,
		MaxMissedAcks:       3,
		WriteTimeout:        5 * time.Second,
		CloseTimeout:        5 * time.Second,
		HandshakeLimit:      10 * time.Second,
		HealthInterval:      60 * time.Second,
		AckStaleThreshold:   5 * time.Minute,
		HealthMaxMissedAcks: 5,
		NotificationTimeout: 10 * time.Second,
		ClientName:          "draft-league-bot",
	}
}
