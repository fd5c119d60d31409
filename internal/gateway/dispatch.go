package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jsonfox/draft-league-bot/internal/audit"
)

const interactionTimeout = 30 * time.Second

// readLoop reads frames until the socket fails or is closed by us.
func (c *Client) readLoop(ctx context.Context, cn *conn) {
	defer close(cn.readDone)

	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			if cn.closing.Load() || ctx.Err() != nil {
				return
			}
			cn.peerClosed.Store(true)
			c.handleSocketClose(cn.gen, err)
			return
		}

		c.handleFrame(ctx, cn.gen, data)
	}
}

// handleSocketClose interprets a close that we did not initiate.
func (c *Client) handleSocketClose(gen uint64, err error) {
	code := closeCodeOf(err)
	if code == CloseResuming {
		c.logger.Debug("socket closed for resume")
		return
	}

	network := IsNetworkError(err)
	mode, expected := recoveryFor(code, network)

	if !expected {
		c.logger.Warn("unexpected close code", "code", code, "network", network, "recover", mode)
	} else {
		c.logger.Info("gateway closed connection", "code", code, "recover", mode)
	}

	if code != CloseNormal {
		gerr := newError("read", code, err)
		c.fail(gerr, !expected || code == CloseDecodeError)
	}

	c.recover(gen, CloseOptions{Code: code, Reason: "remote close", Recover: mode})
}

// handleFrame decodes one inbound frame. Malformed frames are dropped.
func (c *Client) handleFrame(ctx context.Context, gen uint64, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Debug("dropping malformed frame", "error", err, "size", len(data))
		return
	}

	switch frame.Op {
	case OpDispatch:
		c.handleDispatch(ctx, gen, frame)

	case OpHeartbeat:
		c.logger.Debug("heartbeat requested by gateway")
		c.heartbeat(gen, true)

	case OpReconnect:
		c.logger.Info("gateway requested reconnect")
		c.recover(gen, CloseOptions{Reason: "reconnect requested", Recover: RecoverResume})

	case OpInvalidSession:
		c.handleInvalidSession(gen, frame.Data)

	case OpHello:
		var hello HelloData
		if err := json.Unmarshal(frame.Data, &hello); err != nil || hello.HeartbeatInterval <= 0 {
			c.logger.Debug("dropping malformed hello", "error", err)
			return
		}
		interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
		c.logger.Debug("hello received", "heartbeat_interval", interval)
		c.events.emit(HelloEvent{HeartbeatInterval: interval})
		c.spawn(func() { c.heartbeatLoop(ctx, gen, interval) })

	case OpHeartbeatAck:
		c.handleHeartbeatAck(gen)

	default:
		c.logger.Debug("ignoring frame", "op", int(frame.Op))
	}
}

func (c *Client) handleDispatch(ctx context.Context, gen uint64, frame Frame) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if frame.Seq != nil {
		c.session.observe(*frame.Seq)
	}
	if c.status == StatusResuming && frame.Type != EventNameResumed {
		c.replayed++
	}
	c.mu.Unlock()

	c.metrics.Dispatch(frame.Type)

	switch frame.Type {
	case EventNameReady:
		c.handleReady(gen, frame.Data)
	case EventNameResumed:
		c.handleResumed(gen)
	case EventNameInteractionCreate:
		c.handleInteraction(frame.Data)
	default:
		if _, ok := auditedEvents[frame.Type]; ok {
			c.auditDispatch(frame.Type, frame.Data)
		}
	}
}

func (c *Client) handleReady(gen uint64, data json.RawMessage) {
	var ready ReadyData
	if err := json.Unmarshal(data, &ready); err != nil {
		c.logger.Debug("dropping malformed ready", "error", err)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.session.ID = ready.SessionID
	c.session.ResumeURL = ready.ResumeGatewayURL
	c.reconnectAttempts = 0
	c.everConnected = true
	c.health.connectedSince = time.Now()
	err := c.setStatusLocked(StatusReady)
	c.mu.Unlock()
	if err != nil {
		return
	}

	c.logger.Info("gateway ready",
		"user", ready.User.Username,
		"session_id", ready.SessionID,
		"guilds", len(ready.Guilds),
	)
	c.events.emit(ReadyEvent{Data: ready})
}

func (c *Client) handleResumed(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	replayed := c.replayed
	c.replayed = 0
	c.reconnectAttempts = 0
	c.everConnected = true
	c.health.connectedSince = time.Now()
	err := c.setStatusLocked(StatusReady)
	c.mu.Unlock()
	if err != nil {
		return
	}

	c.logger.Info("session resumed", "replayed", replayed)
	c.events.emit(ResumedEvent{Replayed: replayed})
}

// handleInvalidSession resumes when a session exists and reconnects
// otherwise. A payload of false means the session cannot be resumed.
func (c *Client) handleInvalidSession(gen uint64, data json.RawMessage) {
	var resumable bool
	json.Unmarshal(data, &resumable)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if !resumable {
		c.session.reset()
	}
	hasSession := c.session.valid()
	c.mu.Unlock()

	if hasSession {
		c.logger.Info("invalid session, resuming")
		c.recover(gen, CloseOptions{Reason: "invalid session", Recover: RecoverResume})
		return
	}

	c.fail(newError("invalid_session", 0, errors.New("session invalidated without resumable state")), true)
	c.recover(gen, CloseOptions{Reason: "invalid session", Recover: RecoverReconnect})
}

// handleInteraction hands interactions for this application to the handler.
func (c *Client) handleInteraction(data json.RawMessage) {
	if c.interactions == nil {
		return
	}

	var hdr interactionHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		c.logger.Debug("dropping malformed interaction", "error", err)
		return
	}
	if hdr.ApplicationID != c.cfg.ApplicationID {
		return
	}

	c.spawn(func() {
		ctx, cancel := context.WithTimeout(c.lifeCtx, interactionTimeout)
		defer cancel()
		if err := c.interactions.HandleInteraction(ctx, data); err != nil {
			c.logger.Warn("interaction handling failed", "interaction_id", hdr.ID, "error", err)
		}
	})
}

// auditedEvents maps audited dispatch types to notification titles.
var auditedEvents = map[string]string{
	EventNameGuildMemberAdd:    "Member Joined",
	EventNameGuildMemberRemove: "Member Left",
	EventNameGuildBanAdd:       "Member Banned",
	EventNameGuildBanRemove:    "Member Unbanned",
	EventNameChannelCreate:     "Channel Created",
	EventNameChannelDelete:     "Channel Deleted",
	EventNameChannelUpdate:     "Channel Updated",
	EventNameGuildRoleCreate:   "Role Created",
	EventNameGuildRoleDelete:   "Role Deleted",
	EventNameGuildRoleUpdate:   "Role Updated",
}

// auditPayload is the union of the fields read from audited dispatches.
type auditPayload struct {
	GuildID string `json:"guild_id"`
	User    *User  `json:"user"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    *int   `json:"type"`
	RoleID  string `json:"role_id"`
	Role    *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"role"`
}

func (c *Client) auditDispatch(event string, data json.RawMessage) {
	var p auditPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Debug("dropping malformed dispatch", "event", event, "error", err)
		return
	}
	title, body, fields := describeDispatch(event, p)
	c.notify(audit.LevelInfo, title, body, fields...)
}

// describeDispatch renders an audited dispatch as a notification.
func describeDispatch(event string, p auditPayload) (title, body string, fields []audit.Field) {
	title = auditedEvents[event]
	field := func(name, value string) {
		if value != "" {
			fields = append(fields, audit.Field{Name: name, Value: value, Inline: true})
		}
	}

	switch event {
	case EventNameGuildMemberAdd, EventNameGuildMemberRemove,
		EventNameGuildBanAdd, EventNameGuildBanRemove:
		if p.User != nil {
			body = fmt.Sprintf("%s (%s)", p.User.Username, p.User.ID)
			field("User", p.User.Username)
			field("User ID", p.User.ID)
		}
	case EventNameChannelCreate, EventNameChannelDelete, EventNameChannelUpdate:
		body = fmt.Sprintf("#%s (%s)", p.Name, p.ID)
		field("Channel", p.Name)
		field("Channel ID", p.ID)
		if p.Type != nil {
			field("Type", fmt.Sprint(*p.Type))
		}
	case EventNameGuildRoleCreate, EventNameGuildRoleUpdate:
		if p.Role != nil {
			body = fmt.Sprintf("@%s (%s)", p.Role.Name, p.Role.ID)
			field("Role", p.Role.Name)
			field("Role ID", p.Role.ID)
		}
	case EventNameGuildRoleDelete:
		body = "Role " + p.RoleID
		field("Role ID", p.RoleID)
	}
	field("Guild ID", p.GuildID)
	return title, body, fields
}
