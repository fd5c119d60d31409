package discord

import (
	"context"
	"fmt"
	"net/url"
)

// CreateInteractionResponse answers an interaction. The callback endpoint is
// authorized by the interaction token, so no bot token is sent.
func (c *Client) CreateInteractionResponse(ctx context.Context, id, token string, resp InteractionResponse) error {
	path := fmt.Sprintf("/interactions/%s/%s/callback", url.PathEscape(id), url.PathEscape(token))
	if err := c.post(ctx, path, resp, false, nil); err != nil {
		return fmt.Errorf("create interaction response: %w", err)
	}
	return nil
}
