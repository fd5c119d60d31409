package discord

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jsonfox/draft-league-bot/internal/version"
)

const (
	// DefaultBaseURL is the versioned REST API root.
	DefaultBaseURL = "https://discord.com/api/v10"

	projectURL = "https://github.com/jsonfox/draft-league-bot"
)

// DefaultUserAgent is the "DiscordBot (url, version)" agent bots must send.
func DefaultUserAgent() string {
	return fmt.Sprintf("DiscordBot (%s, %s)", projectURL, version.Version)
}

// Client talks to the Discord REST API with a bot token. Requests that hit
// a rate limit or a server error are retried, honoring retry_after.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient returns a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		userAgent:    DefaultUserAgent(),
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetries sets how often a rate-limited or failed request is retried
// and the base delay used when the response carries no retry_after.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent overrides the User-Agent header. Empty values are ignored.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}
