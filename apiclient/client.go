// Package apiclient is the HTTP client for the partner API. Every
// response is wrapped in an envelope {success, message, data}; failures
// come back as *Error.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds the settings for New.
type Config struct {
	// BaseURL is the API root, e.g. https://partners.example.com.
	BaseURL string
	// Token is the initial bearer token. It may be replaced later with
	// SetToken.
	Token string
	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil. Defaults to 15s.
	Timeout time.Duration
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Client issues authenticated requests against the partner API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("apiclient: base url required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: unsupported scheme %q", base.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		logger:     logger,
		token:      cfg.Token,
	}, nil
}

// SetToken replaces the bearer token, e.g. after login. An empty token
// sends requests unauthenticated.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// request describes one call. Exactly one of body and raw may be set.
type request struct {
	method      string
	path        string
	query       url.Values
	body        any
	raw         io.Reader
	contentType string
	header      http.Header
}

// do sends req and decodes the envelope's data into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	u := c.baseURL.JoinPath(req.path)
	if len(req.query) > 0 {
		u.RawQuery = req.query.Encode()
	}

	var (
		body        io.Reader
		contentType = req.contentType
	)
	switch {
	case req.raw != nil:
		body = req.raw
	case req.body != nil:
		buf, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("apiclient: marshal %s %s: %w", req.method, req.path, err)
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("apiclient: build %s %s: %w", req.method, req.path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if token := c.Token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", req.method), zap.String("path", req.path), zap.Error(err))
		return fmt.Errorf("apiclient: %s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("apiclient: read %s %s: %w", req.method, req.path, err)
	}
	c.logger.Debug("request done",
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	var env envelope
	decodeErr := json.Unmarshal(payload, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{StatusCode: resp.StatusCode, Method: req.method, Path: req.path, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("apiclient: decode %s %s: %w", req.method, req.path, decodeErr)
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request was not successful"
		}
		return &Error{StatusCode: resp.StatusCode, Method: req.method, Path: req.path, Message: msg}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("apiclient: decode %s %s data: %w", req.method, req.path, err)
	}
	return nil
}

func get[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var out T
	err := c.do(ctx, request{method: http.MethodGet, path: path, query: query}, &out)
	return out, err
}

func send[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var out T
	err := c.do(ctx, request{method: method, path: path, body: body}, &out)
	return out, err
}
