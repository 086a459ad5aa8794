// Package realtime fans row change events out to subscribers. The Hub is the
// in-process channel service; PGListener and RedisBridge feed it from
// Postgres LISTEN/NOTIFY and Redis pub/sub, and ServeWS streams it to remote
// clients over WebSocket.
package realtime

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/metrics"
)

// AllTables subscribes to every table.
const AllTables = "*"

const queueSize = 64

var ErrClosed = errors.New("realtime hub closed")

type subscriber struct {
	table string
	fn    func(backend.ChangeEvent)
	queue chan backend.ChangeEvent
	quit  chan struct{}
	done  chan struct{}
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[backend.Handle]*subscriber
	taps   []func(backend.ChangeEvent)
	closed bool
	wg     sync.WaitGroup
	logger *zap.Logger
}

var _ backend.Realtime = (*Hub)(nil)

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[backend.Handle]*subscriber),
		logger: logger.Named("realtime"),
	}
}

// Subscribe registers fn for changes to table. Each subscription gets its own
// delivery goroutine so a slow subscriber never blocks the others.
func (h *Hub) Subscribe(table string, fn func(backend.ChangeEvent)) (backend.Handle, error) {
	if table != AllTables && !backend.ValidTable(table) {
		return "", backend.ErrUnknownTable
	}
	if fn == nil {
		return "", errors.New("realtime: nil callback")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", ErrClosed
	}
	handle := backend.Handle(uuid.NewString())
	sub := &subscriber{
		table: table,
		fn:    fn,
		queue: make(chan backend.ChangeEvent, queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	h.subs[handle] = sub
	h.wg.Add(1)
	go h.run(sub)
	metrics.ActiveSubscriptions.WithLabelValues(table).Inc()
	return handle, nil
}

func (h *Hub) run(sub *subscriber) {
	defer h.wg.Done()
	defer close(sub.done)
	for {
		select {
		case <-sub.quit:
			return
		case ev := <-sub.queue:
			select {
			case <-sub.quit:
				return
			default:
			}
			sub.fn(ev)
		}
	}
}

// Unsubscribe stops delivery for handle. Unknown handles are ignored. It does
// not wait for an in-flight callback, so it is safe to call from one.
func (h *Hub) Unsubscribe(handle backend.Handle) {
	h.mu.Lock()
	sub, ok := h.subs[handle]
	if ok {
		delete(h.subs, handle)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	close(sub.quit)
	metrics.ActiveSubscriptions.WithLabelValues(sub.table).Dec()
}

// OnPublish registers a tap that sees every event passed to Publish. Taps
// are how bridges forward locally produced events elsewhere.
func (h *Hub) OnPublish(fn func(backend.ChangeEvent)) {
	h.mu.Lock()
	h.taps = append(h.taps, fn)
	h.mu.Unlock()
}

// Publish delivers ev locally and hands it to every tap.
func (h *Hub) Publish(ev backend.ChangeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.Deliver(ev)
	h.mu.RLock()
	taps := slices.Clone(h.taps)
	h.mu.RUnlock()
	for _, tap := range taps {
		tap(ev)
	}
}

// Deliver hands ev to local subscribers only.
func (h *Hub) Deliver(ev backend.ChangeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	metrics.ChangeEvents.WithLabelValues(ev.Table, string(ev.Op)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for handle, sub := range h.subs {
		if sub.table != AllTables && sub.table != ev.Table {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			// A full queue already guarantees a pending refetch for this
			// subscriber, so the event is dropped.
			h.logger.Debug("dropping change event for slow subscriber",
				zap.String("handle", string(handle)),
				zap.String("table", ev.Table),
			)
		}
	}
}

// Subscribers returns the number of live subscriptions for table.
func (h *Hub) Subscribers(table string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sub := range h.subs {
		if sub.table == table {
			n++
		}
	}
	return n
}

// Close releases every subscription and waits for delivery goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[backend.Handle]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		close(sub.quit)
		metrics.ActiveSubscriptions.WithLabelValues(sub.table).Dec()
	}
	h.wg.Wait()
}
