// Package audit delivers operational notifications to an audit trail.
//
// A Service fans each entry out to its sinks: a Discord channel (embeds) and,
// optionally, a database table. Notification is fire-and-forget from the
// caller's point of view; sink failures are logged and never returned.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of an audit entry.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Color returns the embed color for the level.
func (l Level) Color() int {
	switch l {
	case LevelInfo:
		return 0x3498db
	case LevelWarn:
		return 0xf39c12
	case LevelError:
		return 0xe74c3c
	case LevelCritical:
		return 0x8e44ad
	default:
		return 0x95a5a6
	}
}

// Field is a name/value pair attached to an entry.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Entry is a single audit record.
type Entry struct {
	ID          uuid.UUID
	Level       Level
	Title       string
	Description string
	Fields      []Field
	Timestamp   time.Time
}

// Sink persists or delivers entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Service fans entries out to sinks. A nil *Service discards everything.
type Service struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewService creates a Service writing to sinks.
func NewService(logger *slog.Logger, timeout time.Duration, sinks ...Sink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		sinks:   sinks,
		logger:  logger.With("component", "audit"),
		timeout: timeout,
		now:     time.Now,
	}
}

// Notify writes an entry to every sink.
func (s *Service) Notify(ctx context.Context, level Level, title, body string, fields ...Field) {
	if s == nil {
		return
	}

	entry := Entry{
		ID:          uuid.New(),
		Level:       level,
		Title:       title,
		Description: body,
		Fields:      fields,
		Timestamp:   s.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for _, sink := range s.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			s.logger.Error("failed to write audit entry",
				"level", level,
				"title", title,
				"sink", fmt.Sprintf("%T", sink),
				"error", err,
			)
		}
	}
	s.logger.Debug("audit entry written", "level", level, "title", title)
}

// Info writes an info entry.
func (s *Service) Info(ctx context.Context, title, body string, fields ...Field) {
	s.Notify(ctx, LevelInfo, title, body, fields...)
}

// Warn writes a warning entry.
func (s *Service) Warn(ctx context.Context, title, body string, fields ...Field) {
	s.Notify(ctx, LevelWarn, title, body, fields...)
}

// Critical writes a critical entry.
func (s *Service) Critical(ctx context.Context, title, body string, fields ...Field) {
	s.Notify(ctx, LevelCritical, title, body, fields...)
}

// Error writes an error entry describing err.
func (s *Service) Error(ctx context.Context, err error, where string) {
	if err == nil {
		return
	}
	fields := []Field{
		{Name: "Error Type", Value: errorType(err), Inline: true},
	}
	if where != "" {
		fields = append([]Field{{Name: "Context", Value: where, Inline: true}}, fields...)
	}
	s.Notify(ctx, LevelError, "Application Error", err.Error(), fields...)
}

// DiscordEvent records a gateway event with its attributes.
func (s *Service) DiscordEvent(ctx context.Context, event string, data map[string]string) {
	s.Notify(ctx, LevelInfo, "Discord Event: "+event, "Discord gateway event received", fieldsOf(data)...)
}

// ServerEvent records a process lifecycle event.
func (s *Service) ServerEvent(ctx context.Context, title, body string, data map[string]string) {
	s.Notify(ctx, LevelInfo, "Server: "+title, body, fieldsOf(data)...)
}

// fieldsOf converts data into inline fields ordered by key.
func fieldsOf(data map[string]string) []Field {
	if len(data) == 0 {
		return nil
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, Field{Name: k, Value: data[k], Inline: true})
	}
	return fields
}

// errorType names the innermost error type of err.
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}
