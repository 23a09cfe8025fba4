package hubclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rickgao/agent-hub/internal/health"
)

// Client reads the hub's HTTP endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client for the hub at baseURL (e.g. http://localhost:8080).
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   2,
		retryBackoff: 250 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Health fetches /health. An unhealthy hub answers 503 with a full body,
// which is returned without error.
func (c *Client) Health(ctx context.Context) (*health.Response, error) {
	var resp health.Response
	err := c.get(ctx, "/health", &resp)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		if uerr := decodeBody(apiErr.Body, &resp); uerr == nil {
			return &resp, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Connections fetches /connections.
func (c *Client) Connections(ctx context.Context) (*health.ConnectionsResponse, error) {
	var resp health.ConnectionsResponse
	if err := c.get(ctx, "/connections", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WebSocketURL returns the ws:// or wss:// URL for path on the client's hub.
func (c *Client) WebSocketURL(path string) (string, error) {
	return WebSocketURL(c.baseURL, path)
}

// WebSocketURL converts an http(s) base URL into the WebSocket URL for path.
func WebSocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
