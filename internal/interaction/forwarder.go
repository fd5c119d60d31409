// Package interaction acknowledges Discord interactions and forwards them to
// the web application that implements the bot's commands.
package interaction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jsonfox/draft-league-bot/internal/discord"
	"github.com/jsonfox/draft-league-bot/internal/metrics"
)

// Replies sent to users.
const (
	msgPleaseWait = "You just pressed that button! Please wait a few seconds."
	msgFailed     = "Failed to process interaction"
)

// ErrForwardFailed is returned when the application rejects a forwarded
// interaction.
var ErrForwardFailed = errors.New("forward failed")

// Responder answers interactions through the REST API.
type Responder interface {
	CreateInteractionResponse(ctx context.Context, id, token string, resp discord.InteractionResponse) error
}

// Config configures a Forwarder.
type Config struct {
	OriginURL      string        // Base URL of the application
	Token          string        // Bot token sent as "Bot {token}"
	SuppressWindow time.Duration // Repeat presses on one message inside this window are rejected
	Timeout        time.Duration // Forward request timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SuppressWindow: 3 * time.Second,
		Timeout:        10 * time.Second,
	}
}

// Forwarder handles INTERACTION_CREATE payloads.
type Forwarder struct {
	cfg        Config
	responder  Responder
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	recent map[string]*time.Timer // message id -> expiry
	closed bool
}

// NewForwarder creates a Forwarder.
func NewForwarder(cfg Config, responder Responder, logger *slog.Logger, m *metrics.Metrics) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		cfg:        cfg,
		responder:  responder,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "interaction"),
		metrics:    m,
		recent:     make(map[string]*time.Timer),
	}
}

// HandleInteraction acknowledges the interaction and forwards it. Commands
// and components are handled; other types are ignored.
func (f *Forwarder) HandleInteraction(ctx context.Context, raw json.RawMessage) error {
	var in discord.Interaction
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decode interaction: %w", err)
	}

	var (
		path string
		ack  discord.ResponseType
	)
	switch in.Type {
	case discord.InteractionApplicationCommand:
		path = "/command"
		ack = discord.ResponseDeferredChannelMessageWithSource
	case discord.InteractionMessageComponent:
		if msgID := in.MessageID(); msgID != "" && !f.claim(msgID) {
			f.logger.Debug("suppressing repeated component press", "message_id", msgID)
			f.metrics.Interaction(in.Type.String(), "suppressed")
			return f.responder.CreateInteractionResponse(ctx, in.ID, in.Token, discord.EphemeralReply(msgPleaseWait))
		}
		path = "/component"
		ack = discord.ResponseDeferredUpdateMessage
	default:
		f.metrics.Interaction(in.Type.String(), "ignored")
		return nil
	}

	f.logger.Info("received interaction", "interaction_id", in.ID, "type", in.Type)

	if err := f.responder.CreateInteractionResponse(ctx, in.ID, in.Token, discord.InteractionResponse{Type: ack}); err != nil {
		f.metrics.Interaction(in.Type.String(), "ack_failed")
		return fmt.Errorf("acknowledge interaction: %w", err)
	}

	if err := f.forward(ctx, path, raw); err != nil {
		f.metrics.Interaction(in.Type.String(), "forward_failed")
		f.replyFailure(ctx, in)
		return err
	}

	f.metrics.Interaction(in.Type.String(), "forwarded")
	return nil
}

// forward posts the raw interaction to the application.
func (f *Forwarder) forward(ctx context.Context, path string, raw json.RawMessage) error {
	target := strings.TrimRight(f.cfg.OriginURL, "/") + "/api/discord/interactions" + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+f.cfg.Token)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forward interaction: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	f.logger.Debug("forwarded interaction", "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %d", ErrForwardFailed, path, resp.StatusCode)
	}
	return nil
}

// replyFailure tells the user the interaction failed. An interaction that
// was already answered is not an error.
func (f *Forwarder) replyFailure(ctx context.Context, in discord.Interaction) {
	err := f.responder.CreateInteractionResponse(ctx, in.ID, in.Token, discord.EphemeralReply(msgFailed))
	if err != nil && !discord.IsAlreadyAcknowledged(err) {
		f.logger.Warn("failed to send failure notice", "interaction_id", in.ID, "error", err)
	}
}

// claim records a press on msgID and reports whether it is outside the
// suppression window. Entries expire on their own timer.
func (f *Forwarder) claim(msgID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return true
	}
	if _, ok := f.recent[msgID]; ok {
		return false
	}
	f.recent[msgID] = time.AfterFunc(f.cfg.SuppressWindow, func() {
		f.mu.Lock()
		delete(f.recent, msgID)
		f.mu.Unlock()
	})
	return true
}

// Pending returns the number of messages currently suppressed.
func (f *Forwarder) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recent)
}

// Close stops all expiry timers.
func (f *Forwarder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, t := range f.recent {
		t.Stop()
		delete(f.recent, id)
	}
}
