package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
)

// NotifyChannel is the Postgres channel the row-change trigger notifies on.
const NotifyChannel = "shopfloor_changes"

type notifyPayload struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	ID    string `json:"id"`
}

// PGListener holds a dedicated connection in LISTEN mode and republishes
// every notification on the hub.
type PGListener struct {
	databaseURL string
	hub         *Hub
	logger      *zap.Logger
	backoff     time.Duration
}

func NewPGListener(databaseURL string, hub *Hub, logger *zap.Logger) *PGListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGListener{
		databaseURL: databaseURL,
		hub:         hub,
		logger:      logger.Named("pglisten"),
		backoff:     time.Second,
	}
}

// Run listens until ctx is cancelled, reconnecting after failures.
func (l *PGListener) Run(ctx context.Context) error {
	delay := l.backoff
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("listen connection lost", zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("listening for row changes", zap.String("channel", NotifyChannel))

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		ev, err := decodeNotification(notification.Payload)
		if err != nil {
			l.logger.Warn("ignoring malformed notification", zap.String("payload", notification.Payload), zap.Error(err))
			continue
		}
		l.hub.Publish(ev)
	}
}

func decodeNotification(payload string) (backend.ChangeEvent, error) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return backend.ChangeEvent{}, err
	}
	if !backend.ValidTable(p.Table) {
		return backend.ChangeEvent{}, fmt.Errorf("%w: %q", backend.ErrUnknownTable, p.Table)
	}
	op := backend.Op(p.Op)
	switch op {
	case backend.OpInsert, backend.OpUpdate, backend.OpDelete:
	default:
		return backend.ChangeEvent{}, fmt.Errorf("unknown op %q", p.Op)
	}
	return backend.ChangeEvent{Table: p.Table, Op: op, ID: p.ID, At: time.Now().UTC()}, nil
}
