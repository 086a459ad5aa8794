package client

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
)

// refreshLeeway renews access tokens shortly before they expire.
const refreshLeeway = 30 * time.Second

func (c *Client) SignIn(ctx context.Context, creds backend.Credentials) (*backend.AuthSession, error) {
	var session backend.AuthSession
	if err := c.do(ctx, http.MethodPost, "/api/auth/sign-in", nil, creds, &session); err != nil {
		return nil, err
	}
	c.setSession(&session, backend.EventSignedIn)
	return &session, nil
}

func (c *Client) SignUp(ctx context.Context, creds backend.Credentials, profile backend.Profile) error {
	body := map[string]any{
		"email":    creds.Email,
		"password": creds.Password,
		"profile":  profile,
	}
	return c.do(ctx, http.MethodPost, "/api/auth/sign-up", nil, body, nil)
}

// SignOut revokes the refresh token and forgets the session. It succeeds
// when nobody is signed in.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()
	if current == nil {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/api/session/logout", nil, map[string]string{"refreshToken": current.RefreshToken}, nil)
	c.setSession(nil, backend.EventSignedOut)
	return err
}

// CurrentSession validates the stored session with the server, refreshing
// it when the access token is about to expire. nil, nil means nobody is
// signed in.
func (c *Client) CurrentSession(ctx context.Context) (*backend.AuthSession, error) {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()
	if current == nil {
		return nil, nil
	}

	if time.Until(current.ExpiresAt) > refreshLeeway {
		var status struct {
			Authenticated bool `json:"authenticated"`
		}
		if err := c.do(ctx, http.MethodGet, "/api/session", nil, nil, &status); err != nil {
			return nil, err
		}
		if status.Authenticated {
			out := *current
			return &out, nil
		}
	}
	return c.refresh(ctx, current)
}

func (c *Client) refresh(ctx context.Context, current *backend.AuthSession) (*backend.AuthSession, error) {
	var next backend.AuthSession
	err := c.do(ctx, http.MethodPost, "/api/session/refresh", nil, map[string]string{"refreshToken": current.RefreshToken}, &next)
	if IsStatus(err, http.StatusUnauthorized) {
		c.logger.Info("stored session expired")
		c.setSession(nil, backend.EventSignedOut)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.setSession(&next, backend.EventTokenRefreshed)
	out := next
	return &out, nil
}

func (c *Client) OnAuthStateChange(fn func(backend.AuthEvent, *backend.AuthSession)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) setSession(session *backend.AuthSession, event backend.AuthEvent) {
	c.mu.Lock()
	c.session = session
	listeners := make([]func(backend.AuthEvent, *backend.AuthSession), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	if c.profile != nil {
		c.profile.Session = session
		if err := c.profile.Save(); err != nil {
			c.logger.Warn("save profile", zap.Error(err))
		}
	}

	for _, fn := range listeners {
		var copied *backend.AuthSession
		if session != nil {
			s := *session
			copied = &s
		}
		fn(event, copied)
	}
}
