// Package client talks to shopfloord over HTTP and WebSocket. A Client
// implements backend.Auth, backend.Data and backend.Realtime.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
)

type Client struct {
	baseURL *url.URL
	http    *http.Client
	profile *Profile
	logger  *zap.Logger

	mu        sync.Mutex
	session   *backend.AuthSession
	listeners map[int]func(backend.AuthEvent, *backend.AuthSession)
	nextID    int

	subsMu sync.Mutex
	subs   map[backend.Handle]*subscription
}

var (
	_ backend.Auth     = (*Client)(nil)
	_ backend.Data     = (*Client)(nil)
	_ backend.Realtime = (*Client)(nil)
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithProfile persists the session across runs.
func WithProfile(p *Profile) Option {
	return func(c *Client) { c.profile = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL:   u,
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    zap.NewNop(),
		listeners: make(map[int]func(backend.AuthEvent, *backend.AuthSession)),
		subs:      make(map[backend.Handle]*subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("client")
	if c.profile != nil {
		c.session = c.profile.Session
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
// Non-2xx responses become *backend.Error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var envelope struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == "" {
		return &backend.Error{Status: status, Code: "HTTP_" + fmt.Sprint(status), Message: http.StatusText(status)}
	}
	return &backend.Error{Status: status, Code: envelope.Code, Message: envelope.Error}
}

// IsStatus reports whether err is a backend error with the given status.
func IsStatus(err error, status int) bool {
	var be *backend.Error
	return errors.As(err, &be) && be.Status == status
}
