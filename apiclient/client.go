// Package apiclient is the shared HTTP call wrapper every external service
// holds as a field. It retries rate-limit and server-side failures with
// exponential backoff and logs duration and status for every call.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxTries   = 8
	defaultMaxElapsed = 5 * time.Minute

	downloadChunkSize = 64 * 1024
)

// APIError is a classified HTTP failure. 429 and 5xx are retryable; any
// other 4xx is surfaced immediately.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, body)
}

// Retryable reports whether the failure is transient.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Response is the successful outcome of a call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Client issues HTTP calls against one base URL with a shared retry policy.
// Services hold a Client as a field; per-service configuration happens
// through options, not subclassing.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	maxTries   uint
	maxElapsed time.Duration
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHeader sets a default header applied to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// WithBearerToken sets a Bearer Authorization header.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.headers["Authorization"] = "Bearer " + token }
}

// WithRetryPolicy overrides the attempt cap and total retry budget.
func WithRetryPolicy(maxTries uint, maxElapsed time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.maxElapsed = maxElapsed
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a Client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		headers:    make(map[string]string),
		maxTries:   defaultMaxTries,
		maxElapsed: defaultMaxElapsed,
		log:        log.With().Str("component", "apiclient").Str("base_url", baseURL).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + path
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte, extra map[string]string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.log.Error().Err(err).Str("method", method).Str("path", path).
			Dur("duration", duration).Msg("request failed")
		return nil, err // transport/timeout errors are retryable
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Error().Err(err).Str("method", method).Str("path", path).
			Dur("duration", duration).Msg("read response failed")
		return nil, err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		c.log.Error().Str("method", method).Str("path", path).
			Int("status", resp.StatusCode).Dur("duration", duration).
			Msg("request returned error status")
		if !apiErr.Retryable() {
			return nil, backoff.Permanent(apiErr)
		}
		return nil, apiErr
	}

	c.log.Info().Str("method", method).Str("path", path).
		Int("status", resp.StatusCode).Dur("duration", duration).Msg("request ok")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
		Duration:   duration,
	}, nil
}

// Do issues a request and retries rate-limit (429), server-side (5xx) and
// transport failures with exponential backoff, up to the configured attempt
// cap and total budget. Non-retryable 4xx errors are returned immediately.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, headers map[string]string) (*Response, error) {
	operation := func() (*Response, error) {
		return c.attempt(ctx, method, path, body, headers)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(c.maxElapsed),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.Warn().Err(err).Dur("backoff", wait).
				Str("method", method).Str("path", path).Msg("retrying after transient error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// GetJSON issues a GET with query parameters and unmarshals the JSON body
// into out. Returns the raw response so callers can read headers.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) (*Response, error) {
	if len(query) > 0 {
		path = path + "?" + query.Encode()
	}
	resp, err := c.Do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp, nil
}

// PostJSON marshals body as JSON, issues a POST, and unmarshals into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", path, err)
		}
	}
	resp, err := c.Do(ctx, http.MethodPost, path, payload, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp, nil
}

// Download streams a (possibly very large) file to dest in chunks and
// returns the byte count. Downloads are a single attempt; the caller decides
// whether to retry a fresh transfer.
func (c *Client) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, &APIError{StatusCode: resp.StatusCode, Body: "download failed"}
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	written, err := io.CopyBuffer(f, resp.Body, make([]byte, downloadChunkSize))
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("stream download to %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", dest, err)
	}

	c.log.Info().Str("url", rawURL).Str("dest", dest).
		Int64("bytes", written).Dur("duration", time.Since(start)).Msg("download complete")
	return written, nil
}
