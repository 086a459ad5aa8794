package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/realtime"
)

const (
	dialTimeout   = 10 * time.Second
	maxRedialWait = 30 * time.Second
)

type subscription struct {
	table  string
	fn     func(backend.ChangeEvent)
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *Client) realtimeURL(table string) string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/api/realtime"
	u.RawQuery = url.Values{"table": {table}}.Encode()
	return u.String()
}

func (c *Client) dial(ctx context.Context, table string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.realtimeURL(table), nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime %s: %w", table, err)
	}
	var hello realtime.Message
	if err := wsjson.Read(dialCtx, conn, &hello); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("realtime handshake %s: %w", table, err)
	}
	if hello.Type != realtime.MessageReady {
		conn.CloseNow()
		return nil, fmt.Errorf("realtime handshake %s: unexpected %q frame", table, hello.Type)
	}
	return conn, nil
}

// Subscribe returns once the server has confirmed the subscription, so no
// change committed after Subscribe returns is missed.
func (c *Client) Subscribe(table string, fn func(backend.ChangeEvent)) (backend.Handle, error) {
	if !backend.ValidTable(table) {
		return "", backend.ErrUnknownTable
	}
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := c.dial(ctx, table)
	if err != nil {
		cancel()
		return "", err
	}

	sub := &subscription{table: table, fn: fn, cancel: cancel, done: make(chan struct{})}
	handle := backend.Handle(uuid.NewString())
	c.subsMu.Lock()
	c.subs[handle] = sub
	c.subsMu.Unlock()

	go c.pump(ctx, sub, conn)
	return handle, nil
}

// pump reads frames until the subscription is cancelled. A dropped
// connection is redialled; after a reconnect the subscriber gets one
// synthetic update so it refetches whatever it missed.
func (c *Client) pump(ctx context.Context, sub *subscription, conn *websocket.Conn) {
	defer close(sub.done)
	wait := time.Second
	for {
		err := c.readFrames(ctx, sub, conn)
		conn.CloseNow()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("realtime connection lost", zap.String("table", sub.table), zap.Error(err))

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			conn, err = c.dial(ctx, sub.table)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			if wait < maxRedialWait {
				wait *= 2
			}
		}
		wait = time.Second
		sub.fn(backend.ChangeEvent{Table: sub.table, Op: backend.OpUpdate, At: time.Now().UTC()})
	}
}

func (c *Client) readFrames(ctx context.Context, sub *subscription, conn *websocket.Conn) error {
	for {
		var msg realtime.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		if msg.Type != realtime.MessageChange || msg.Event == nil {
			continue
		}
		sub.fn(*msg.Event)
	}
}

func (c *Client) Unsubscribe(h backend.Handle) {
	c.subsMu.Lock()
	sub, ok := c.subs[h]
	delete(c.subs, h)
	c.subsMu.Unlock()
	if ok {
		sub.cancel()
	}
}

// Close drops every realtime subscription and waits for the readers.
func (c *Client) Close() error {
	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[backend.Handle]*subscription)
	c.subsMu.Unlock()

	var errs []error
	for _, sub := range subs {
		sub.cancel()
		select {
		case <-sub.done:
		case <-time.After(5 * time.Second):
			errs = append(errs, fmt.Errorf("realtime reader for %s did not stop", sub.table))
		}
	}
	return errors.Join(errs...)
}
