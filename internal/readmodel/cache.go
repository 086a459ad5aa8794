// Package readmodel holds a view's in-memory copy of one table. The copy is
// replaced wholesale by Refetch and patched in place for optimistic display;
// every patch is followed by a refetch, so the cache is never the only
// source of truth for longer than one round trip.
package readmodel

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"shopfloor/api/internal/apperr"
	"shopfloor/api/internal/metrics"
	"shopfloor/api/internal/notice"
)

type State int

const (
	Unloaded State = iota
	Loading
	Ready
	Refreshing
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Refreshing:
		return "refreshing"
	default:
		return "unloaded"
	}
}

var ErrClosed = errors.New("read model closed")

type Fetcher[R any] func(ctx context.Context) ([]R, error)

type Options[R any] struct {
	Table string
	Fetch Fetcher[R]
	// ID extracts the primary key used by ApplyPatch.
	ID   func(R) string
	Sink notice.Sink
	// FailureMessage is shown when a fetch fails, e.g. "Failed to load machines".
	FailureMessage string
	Logger         *zap.Logger
}

type Cache[R any] struct {
	table   string
	fetch   Fetcher[R]
	id      func(R) string
	sink    notice.Sink
	failMsg string
	logger  *zap.Logger

	mu        sync.Mutex
	records   []R
	confirmed []R
	state     State
	issued    uint64
	applied   uint64
	inflight  int
	closed    bool
	listeners map[int]func([]R)
	nextID    int
}

func New[R any](opts Options[R]) *Cache[R] {
	if opts.Sink == nil {
		opts.Sink = notice.Discard
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FailureMessage == "" {
		opts.FailureMessage = "Failed to load " + opts.Table
	}
	return &Cache[R]{
		table:     opts.Table,
		fetch:     opts.Fetch,
		id:        opts.ID,
		sink:      opts.Sink,
		failMsg:   opts.FailureMessage,
		logger:    opts.Logger.Named("readmodel").With(zap.String("table", opts.Table)),
		listeners: make(map[int]func([]R)),
	}
}

// Refetch reads the whole table and replaces the cache. Responses that
// complete after a newer response has already been applied are discarded,
// as is anything that completes after Close. A failed fetch keeps the last
// confirmed snapshot and reports a notice.
func (c *Cache[R]) Refetch(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.issued++
	seq := c.issued
	c.inflight++
	switch c.state {
	case Unloaded:
		c.state = Loading
	case Ready:
		c.state = Refreshing
	}
	c.mu.Unlock()

	records, err := c.fetch(ctx)

	c.mu.Lock()
	c.inflight--
	if c.closed {
		c.mu.Unlock()
		metrics.Refetches.WithLabelValues(c.table, "closed").Inc()
		return ErrClosed
	}
	if err != nil {
		c.settle()
		c.mu.Unlock()
		metrics.Refetches.WithLabelValues(c.table, "failed").Inc()
		c.logger.Warn("fetch failed", zap.Uint64("seq", seq), zap.Error(err))
		c.sink.Error(c.failMsg)
		return apperr.Data("read "+c.table, err)
	}
	if seq < c.applied {
		c.settle()
		c.mu.Unlock()
		metrics.Refetches.WithLabelValues(c.table, "stale").Inc()
		c.logger.Debug("discarding stale fetch", zap.Uint64("seq", seq), zap.Uint64("applied", c.applied))
		return nil
	}
	c.applied = seq
	c.records = append([]R(nil), records...)
	c.confirmed = c.records
	c.settle()
	snapshot, listeners := c.snapshotLocked(), c.listenersLocked()
	c.mu.Unlock()

	metrics.Refetches.WithLabelValues(c.table, "applied").Inc()
	for _, fn := range listeners {
		fn(snapshot)
	}
	return nil
}

// settle moves Loading/Refreshing to Ready once nothing is in flight. Must
// hold c.mu.
func (c *Cache[R]) settle() {
	if c.inflight == 0 && (c.state == Loading || c.state == Refreshing) {
		c.state = Ready
	}
}

// ApplyPatch replaces the record with the given id by patch(record). patch
// receives the current record and must return a new value rather than
// mutate shared state. It returns the previous record.
func (c *Cache[R]) ApplyPatch(id string, patch func(R) R) (R, bool) {
	var zero R
	c.mu.Lock()
	if c.closed || c.id == nil {
		c.mu.Unlock()
		return zero, false
	}
	idx := -1
	for i, rec := range c.records {
		if c.id(rec) == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return zero, false
	}
	prev := c.records[idx]
	next := append([]R(nil), c.records...)
	next[idx] = patch(prev)
	c.records = next
	snapshot, listeners := c.snapshotLocked(), c.listenersLocked()
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return prev, true
}

// Restore drops every patch applied since the last successful fetch and
// shows that fetch's records again. It reports whether anything changed.
func (c *Cache[R]) Restore() bool {
	c.mu.Lock()
	if c.closed || sameBacking(c.records, c.confirmed) {
		c.mu.Unlock()
		return false
	}
	c.records = c.confirmed
	snapshot, listeners := c.snapshotLocked(), c.listenersLocked()
	c.mu.Unlock()

	c.logger.Debug("restored confirmed snapshot", zap.Int("records", len(snapshot)))
	for _, fn := range listeners {
		fn(snapshot)
	}
	return true
}

// sameBacking reports whether a and b are the same slice. ApplyPatch always
// copies, so an unpatched cache still shares its backing array with the
// confirmed snapshot.
func sameBacking[R any](a, b []R) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func (c *Cache[R]) Find(id string) (R, bool) {
	var zero R
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == nil {
		return zero, false
	}
	for _, rec := range c.records {
		if c.id(rec) == id {
			return rec, true
		}
	}
	return zero, false
}

// Snapshot returns a copy of the records in order.
func (c *Cache[R]) Snapshot() []R {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cache[R]) snapshotLocked() []R {
	return append([]R(nil), c.records...)
}

func (c *Cache[R]) listenersLocked() []func([]R) {
	out := make([]func([]R), 0, len(c.listeners))
	for _, fn := range c.listeners {
		out = append(out, fn)
	}
	return out
}

func (c *Cache[R]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Cache[R]) Table() string {
	return c.table
}

// OnUpdate calls fn with a fresh snapshot after every applied fetch or
// patch. The returned func removes the listener.
func (c *Cache[R]) OnUpdate(fn func([]R)) func() {
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

// Close detaches the cache from its view. Fetches that resolve afterwards
// are dropped and patches become no-ops.
func (c *Cache[R]) Close() {
	c.mu.Lock()
	c.closed = true
	c.listeners = make(map[int]func([]R))
	c.mu.Unlock()
}

func (c *Cache[R]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
