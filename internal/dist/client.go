package dist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"rustdist/internal/version"
)

const (
	defaultBaseURL      = "https://static.rust-lang.org"
	defaultFetchTimeout = 60 * time.Second

	// maxManifestSize caps a single manifest read; real channel manifests
	// are under 1 MiB.
	maxManifestSize = 16 << 20
)

// HTTPClient is the minimal client surface, so tests can substitute the
// transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the distribution server base URL.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithHTTPClient substitutes the HTTP client.
func WithHTTPClient(h HTTPClient) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout sets the per-fetch deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client fetches channel manifests from the distribution server.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	timeout    time.Duration
}

// NewClient creates a distribution server client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		timeout:    defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChannelManifest fetches and parses the current manifest for a channel.
// The fetch runs under a fixed deadline; on expiry or any non-200 response
// the whole operation fails.
func (c *Client) ChannelManifest(ctx context.Context, ch version.Channel) (*Manifest, error) {
	url := fmt.Sprintf("%s/dist/channel-rust-%s.toml", c.baseURL, ch)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	m, err := ParseManifest(body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}
	return m, nil
}
