package realtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
)

const (
	MessageReady  = "ready"
	MessageChange = "change"
)

// Message is the frame written to WebSocket clients.
type Message struct {
	Type  string               `json:"type"`
	Event *backend.ChangeEvent `json:"event,omitempty"`
}

// ServeWS streams change events for the tables named by the "table" query
// parameters (comma separated or repeated) until the client goes away.
func ServeWS(hub *Hub, originPatterns []string, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tables := requestedTables(r)
		if len(tables) == 0 {
			http.Error(w, `{"code":"VALIDATION_ERROR","error":"table is required"}`, http.StatusUnprocessableEntity)
			return
		}
		for _, table := range tables {
			if table != AllTables && !backend.ValidTable(table) {
				http.Error(w, `{"code":"UNKNOWN_TABLE","error":"unknown table"}`, http.StatusNotFound)
				return
			}
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		events := make(chan backend.ChangeEvent, queueSize)
		for _, table := range tables {
			handle, err := hub.Subscribe(table, func(ev backend.ChangeEvent) {
				select {
				case events <- ev:
				default:
				}
			})
			if err != nil {
				_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
				return
			}
			defer hub.Unsubscribe(handle)
		}

		if err := wsjson.Write(ctx, conn, Message{Type: MessageReady}); err != nil {
			return
		}

		readErr := make(chan error, 1)
		go func() {
			for {
				if _, _, err := conn.Read(ctx); err != nil {
					readErr <- err
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			case <-readErr:
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			case ev := <-events:
				writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
				err := wsjson.Write(writeCtx, conn, Message{Type: MessageChange, Event: &ev})
				cancelWrite()
				if err != nil {
					logger.Debug("websocket write failed", zap.Error(err))
					_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
					return
				}
			}
		}
	}
}

func requestedTables(r *http.Request) []string {
	var out []string
	for _, raw := range r.URL.Query()["table"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// OriginPatterns splits a comma separated list of allowed origins.
func OriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
