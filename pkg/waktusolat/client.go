// Package waktusolat talks to the waktusolat.app prayer-time API and turns its
// inconsistent payloads into validated domain values.
package waktusolat

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/liliang-cn/waktusolat-mcp/pkg/domain"
	"github.com/liliang-cn/waktusolat-mcp/pkg/log"
)

const (
	DefaultBaseURL    = "https://api.waktusolat.app"
	DefaultMaxRetries = 3
	DefaultTimeout    = 10 * time.Second
	DefaultPoolSize   = 10

	maxErrorBody = 512
)

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	PoolConnections int
	VerifySSL       bool
	UserAgent       string

	// Location is used to render epoch timestamps and to decide what "today" is.
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

// Client is the upstream API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	poolSize   int
	verifySSL  bool
	userAgent  string
	loc        *time.Location
	now        func() time.Time
	logger     *slog.Logger

	mu   sync.Mutex
	http *http.Client
}

// NewClient validates opts and returns a Client. The HTTP connection pool is
// acquired lazily on first use.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, domain.NewValidationError("Base URL must start with http:// or https://")
	}

	c := &Client{
		baseURL:    base,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		poolSize:   opts.PoolConnections,
		verifySSL:  opts.VerifySSL,
		userAgent:  opts.UserAgent,
		loc:        opts.Location,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.poolSize <= 0 {
		c.poolSize = DefaultPoolSize
	}
	if c.userAgent == "" {
		c.userAgent = "waktusolat-mcp/dev"
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = log.WithModule("waktusolat")
	}
	return c, nil
}

// BaseURL returns the normalised API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Location returns the time zone used for epoch conversion and "today".
func (c *Client) Location() *time.Location { return c.loc }

func (c *Client) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.http == nil {
		c.logger.Debug("creating HTTP client", "pool_connections", c.poolSize, "timeout", c.timeout)
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxConnsPerHost = c.poolSize
		transport.MaxIdleConnsPerHost = c.poolSize
		transport.MaxIdleConns = c.poolSize
		if !c.verifySSL {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		c.http = &http.Client{Timeout: c.timeout, Transport: transport}
	}
	return c.http
}

// Close releases the pooled connections. It is safe to call more than once
// and the client can be used again afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.http == nil {
		return nil
	}
	c.logger.Debug("closing HTTP client connections")
	c.http.CloseIdleConnections()
	c.http = nil
	return nil
}

// get performs a GET against the API with the retry policy applied.
// Status and transport failures are retried immediately up to maxRetries
// attempts; format failures are returned at once.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := c.baseURL + path

	var (
		body    []byte
		attempt int
	)
	op := func() error {
		attempt++
		b, err := c.do(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	}
	notify := func(err error, _ time.Duration) {
		c.logger.Warn("request failed, retrying", "url", url, "attempt", attempt, "error", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(c.maxRetries-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		c.logger.Error("request failed", "url", url, "attempts", attempt, "error", err)
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(domain.NewUpstreamConnectionError(err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("making request", "method", req.Method, "url", url)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, domain.NewUpstreamConnectionError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewUpstreamConnectionError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewUpstreamStatusError(resp.StatusCode, truncate(string(body), maxErrorBody))
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, backoff.Permanent(domain.NewResponseFormatError("Empty response from API"))
	}
	if !gjson.ValidBytes(trimmed) {
		c.logger.Error("invalid JSON response content", "url", url, "body", truncate(string(trimmed), maxErrorBody))
		return nil, backoff.Permanent(domain.NewResponseFormatError("Invalid JSON response"))
	}

	c.logger.Debug("received response", "url", url, "bytes", len(trimmed))
	return trimmed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:n], len(s))
}
