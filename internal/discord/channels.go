package discord

import (
	"context"
	"fmt"
	"net/url"
)

// CreateMessage posts a message to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID string, msg MessageCreate) (*Message, error) {
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	var out Message
	if err := c.post(ctx, path, msg, true, &out); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &out, nil
}
