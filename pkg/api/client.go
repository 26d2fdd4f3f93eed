// Package api is a client for the community messaging REST backend.
//
// Every call sends the session's bearer token as is. Non-2xx responses are
// returned as *Error. Reads are retried with backoff on transient failures;
// writes are attempted once so a send is never duplicated.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxRetries is the default number of retries for reads.
	DefaultMaxRetries = 2
)

// Client is the REST backend client.
type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	maxRetries int
	backoff    time.Duration
	userAgent  string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.http = &http.Client{Timeout: d}
	}
}

// WithRetry sets the number of retries for reads.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(cl *Client) {
		cl.maxRetries = maxRetries
		cl.backoff = backoff
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient returns a client for the backend at baseURL.
//
//	c, err := api.NewClient("https://api.example.org/v1", token)
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("api: base URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		maxRetries: DefaultMaxRetries,
		backoff:    500 * time.Millisecond,
		userAgent:  "commsync-go/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}
