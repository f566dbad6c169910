// Package api is the REST client for the campus backend.
//
// It owns the base URL, the bearer-token transport, and the single-flight
// token-refresh coordination. Endpoint wrappers (users, news, forum,
// messaging, notifications, schedule) are thin typed functions over Client.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"campus/internal/metrics"
)

// TokenSource is the shared credential configuration read by the transport
// on every request and rotated by the refresh coordinator.
type TokenSource interface {
	AccessToken() string
	RefreshToken() string
	SetTokens(access, refresh string) error
}

// Config carries everything Client needs at construction time.
type Config struct {
	BaseURL string
	Tokens  TokenSource
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Timeout bounds each HTTP call, replay included. Zero means 30s.
	Timeout time.Duration
}

// Client is the shared HTTP client for all endpoint wrappers.
// A single instance is constructed at process start and injected everywhere.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
	tokens  TokenSource
	metrics *metrics.Metrics

	refresher *refresher

	// onAuthFailure is invoked exactly once per terminal authentication
	// failure (refresh failed, or a 401 after a replay). Set by the session
	// layer during wiring, before any request is issued.
	onAuthFailure func()
}

// NewClient constructs the client and its interceptor transport.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		log:     cfg.Logger,
		tokens:  cfg.Tokens,
		metrics: cfg.Metrics,
	}
	c.refresher = newRefresher(c)
	c.http = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &bearerTransport{client: c, base: http.DefaultTransport},
	}
	return c
}

// SetAuthFailureHook registers the forced-logout callback. Must be called
// during wiring, before the client serves requests.
func (c *Client) SetAuthFailureHook(fn func()) { c.onAuthFailure = fn }

func (c *Client) authFailure() {
	if c.metrics != nil {
		c.metrics.AuthFailureTotal.Inc()
	}
	if c.onAuthFailure != nil {
		c.onAuthFailure()
	}
}

// get issues a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, nil, body, out)
}

func (c *Client) put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// do builds, sends, and decodes one request. Non-2xx responses are decoded
// into *Error; body decoding of successful responses is skipped when out is nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode body: %v", ErrRequestSetup, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestSetup, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s %s: %w", method, path, err)
	}
	return nil
}

// decodeError turns a non-2xx response into *Error, preserving the decoded
// JSON body when there is one.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	apiErr := &Error{Status: resp.StatusCode}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return apiErr
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		apiErr.Body = string(trimmed)
		return apiErr
	}
	apiErr.Body = decoded
	return apiErr
}
