package discord

import "encoding/json"

// InteractionType is the kind of an inbound interaction.
type InteractionType int

const (
	InteractionPing               InteractionType = 1
	InteractionApplicationCommand InteractionType = 2
	InteractionMessageComponent   InteractionType = 3
	InteractionAutocomplete       InteractionType = 4
	InteractionModalSubmit        InteractionType = 5
)

// String returns the string representation of an InteractionType.
func (t InteractionType) String() string {
	switch t {
	case InteractionPing:
		return "ping"
	case InteractionApplicationCommand:
		return "command"
	case InteractionMessageComponent:
		return "component"
	case InteractionAutocomplete:
		return "autocomplete"
	case InteractionModalSubmit:
		return "modal_submit"
	default:
		return "unknown"
	}
}

// Interaction is the subset of an interaction payload used for routing and
// acknowledgment. The raw payload is forwarded untouched.
type Interaction struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Type          InteractionType `json:"type"`
	Token         string          `json:"token"`
	GuildID       string          `json:"guild_id,omitempty"`
	ChannelID     string          `json:"channel_id,omitempty"`
	Message       *struct {
		ID string `json:"id"`
	} `json:"message,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessageID returns the id of the message a component interaction refers to.
func (i *Interaction) MessageID() string {
	if i.Message == nil {
		return ""
	}
	return i.Message.ID
}

// ResponseType is an interaction callback type.
type ResponseType int

const (
	ResponsePong                             ResponseType = 1
	ResponseChannelMessageWithSource         ResponseType = 4
	ResponseDeferredChannelMessageWithSource ResponseType = 5
	ResponseDeferredUpdateMessage            ResponseType = 6
	ResponseUpdateMessage                    ResponseType = 7
)

// Message flags.
const (
	FlagEphemeral = 1 << 6
)

// InteractionResponse is the body of an interaction callback.
type InteractionResponse struct {
	Type ResponseType             `json:"type"`
	Data *InteractionCallbackData `json:"data,omitempty"`
}

// InteractionCallbackData carries the message part of a callback.
type InteractionCallbackData struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
	Flags   int     `json:"flags,omitempty"`
}

// EphemeralReply builds a message response only the invoking user can see.
func EphemeralReply(content string) InteractionResponse {
	return InteractionResponse{
		Type: ResponseChannelMessageWithSource,
		Data: &InteractionCallbackData{Content: content, Flags: FlagEphemeral},
	}
}

// Embed is a rich message embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField is a name/value pair shown in an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the footer line of an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// MessageCreate is the body of a channel message.
type MessageCreate struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Message is the subset of a created message we read back.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}
