package audit

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jsonfox/draft-league-bot/internal/discord"
)

// Embed limits enforced by Discord.
const (
	maxDescriptionLen = 4096
	maxFieldValueLen  = 1024
	maxFields         = 25
)

// MessageCreator posts channel messages.
type MessageCreator interface {
	CreateMessage(ctx context.Context, channelID string, msg discord.MessageCreate) (*discord.Message, error)
}

// ChannelSink posts entries as embeds to a Discord channel.
type ChannelSink struct {
	client    MessageCreator
	channelID string
}

// NewChannelSink creates a sink posting to channelID.
func NewChannelSink(client MessageCreator, channelID string) *ChannelSink {
	return &ChannelSink{client: client, channelID: channelID}
}

// Write posts e to the channel.
func (s *ChannelSink) Write(ctx context.Context, e Entry) error {
	_, err := s.client.CreateMessage(ctx, s.channelID, discord.MessageCreate{
		Embeds: []discord.Embed{embedFor(e)},
	})
	return err
}

func embedFor(e Entry) discord.Embed {
	fields := e.Fields
	if len(fields) > maxFields {
		fields = fields[:maxFields]
	}
	embedFields := make([]discord.EmbedField, 0, len(fields))
	for _, f := range fields {
		embedFields = append(embedFields, discord.EmbedField{
			Name:   f.Name,
			Value:  truncate(f.Value, maxFieldValueLen, ""),
			Inline: f.Inline,
		})
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return discord.Embed{
		Title:       e.Title,
		Description: truncate(e.Description, maxDescriptionLen, "..."),
		Color:       e.Level.Color(),
		Timestamp:   ts.Format(time.RFC3339),
		Fields:      embedFields,
		Footer:      &discord.EmbedFooter{Text: "Level: " + strings.ToUpper(string(e.Level))},
	}
}

// truncate shortens s to at most max runes, ending with suffix when cut.
func truncate(s string, max int, suffix string) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	keep := max - utf8.RuneCountInString(suffix)
	runes := []rune(s)
	return string(runes[:keep]) + suffix
}
