// Package optimistic applies a mutation's expected result to a read model
// right away, sends the mutation to the backend, and then reconciles with a
// refetch whatever the outcome. Rollback is the refetch: the confirmed state
// comes back from the server rather than from a replayed previous value, so
// concurrent edits by other clients are never overwritten. When that refetch
// fails too, the cache falls back to its last confirmed snapshot.
package optimistic

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"shopfloor/api/internal/apperr"
	"shopfloor/api/internal/gate"
	"shopfloor/api/internal/metrics"
	"shopfloor/api/internal/notice"
	"shopfloor/api/internal/readmodel"
	"shopfloor/api/internal/tier"
)

type Status int

const (
	Pending Status = iota
	Confirmed
	RolledBack
)

func (s Status) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case RolledBack:
		return "rolled_back"
	default:
		return "pending"
	}
}

type PendingMutation[R any] struct {
	ResourceID string
	Previous   R
	Optimistic R
	Status     Status
	seq        uint64
}

// Mutation describes one change to one record.
type Mutation[R any] struct {
	ResourceID string
	// Action names the change for the capability gate notice.
	Action string
	// Patch computes the optimistic value from the cached record. It must
	// return a new value.
	Patch  func(R) R
	Commit func(ctx context.Context) error
	// SuccessMessage is shown when Commit succeeds. Failures are shown as
	// FailurePrefix + the backend's detail.
	SuccessMessage string
	FailurePrefix  string
}

type Hooks[R any] struct {
	OnPending func(PendingMutation[R])
	OnCleared func(PendingMutation[R])
}

type Options[R any] struct {
	Cache  *readmodel.Cache[R]
	Gate   *gate.Gate
	Tiers  tier.Source
	Sink   notice.Sink
	Logger *zap.Logger
	Hooks  Hooks[R]
}

// Coordinator runs mutations for one table. Mutations on different records
// are independent; a second mutation on a record that is still pending
// replaces its marker (last writer wins).
type Coordinator[R any] struct {
	table  string
	cache  *readmodel.Cache[R]
	gate   *gate.Gate
	tiers  tier.Source
	sink   notice.Sink
	logger *zap.Logger
	hooks  Hooks[R]

	mu      sync.Mutex
	seq     uint64
	pending map[string]*PendingMutation[R]
}

func New[R any](opts Options[R]) *Coordinator[R] {
	if opts.Sink == nil {
		opts.Sink = notice.Discard
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gate == nil {
		opts.Gate = gate.New(opts.Sink)
	}
	return &Coordinator[R]{
		table:   opts.Cache.Table(),
		cache:   opts.Cache,
		gate:    opts.Gate,
		tiers:   opts.Tiers,
		sink:    opts.Sink,
		logger:  opts.Logger.Named("optimistic").With(zap.String("table", opts.Cache.Table())),
		hooks:   opts.Hooks,
		pending: make(map[string]*PendingMutation[R]),
	}
}

// Mutate runs m and reports whether the backend accepted it. It returns
// false without touching the cache or the network when the gate blocks.
func (c *Coordinator[R]) Mutate(ctx context.Context, m Mutation[R]) bool {
	if c.gate.CheckRestriction(c.tiers.Tier(), m.Action) {
		return false
	}

	pm := &PendingMutation[R]{ResourceID: m.ResourceID, Status: Pending}
	c.mu.Lock()
	c.seq++
	pm.seq = c.seq
	c.pending[m.ResourceID] = pm
	c.mu.Unlock()

	if m.Patch != nil {
		var optimistic R
		prev, ok := c.cache.ApplyPatch(m.ResourceID, func(current R) R {
			optimistic = m.Patch(current)
			return optimistic
		})
		if ok {
			c.mu.Lock()
			pm.Previous, pm.Optimistic = prev, optimistic
			c.mu.Unlock()
		}
	}
	if c.hooks.OnPending != nil {
		c.hooks.OnPending(c.copyOf(pm))
	}

	err := m.Commit(ctx)
	status := Confirmed
	if err != nil {
		status = RolledBack
		c.logger.Warn("mutation failed", zap.String("id", m.ResourceID), zap.Error(err))
		c.sink.Error(failureMessage(m.FailurePrefix, err))
	} else if m.SuccessMessage != "" {
		c.sink.Success(m.SuccessMessage)
	}
	c.mu.Lock()
	pm.Status = status
	c.mu.Unlock()
	metrics.Mutations.WithLabelValues(c.table, status.String()).Inc()

	// Reconcile with ground truth on both paths. A failed refetch already
	// reported itself; the patch must not outlive it.
	if rerr := c.cache.Refetch(ctx); rerr != nil && !errors.Is(rerr, readmodel.ErrClosed) {
		if c.cache.Restore() {
			c.logger.Debug("reverted optimistic patch", zap.String("id", m.ResourceID))
		}
	}

	c.clear(pm)
	return err == nil
}

// Perform runs a change that has no optimistic patch (create, delete): gate,
// commit, notice, reconciling refetch.
func (c *Coordinator[R]) Perform(ctx context.Context, action string, commit func(ctx context.Context) error, successMessage, failurePrefix string) bool {
	if c.gate.CheckRestriction(c.tiers.Tier(), action) {
		return false
	}
	err := commit(ctx)
	if err != nil {
		c.logger.Warn("change failed", zap.String("action", action), zap.Error(err))
		c.sink.Error(failureMessage(failurePrefix, err))
	} else if successMessage != "" {
		c.sink.Success(successMessage)
	}
	_ = c.cache.Refetch(ctx)
	return err == nil
}

func (c *Coordinator[R]) clear(pm *PendingMutation[R]) {
	c.mu.Lock()
	if current, ok := c.pending[pm.ResourceID]; ok && current.seq == pm.seq {
		delete(c.pending, pm.ResourceID)
	}
	cleared := *pm
	c.mu.Unlock()
	if c.hooks.OnCleared != nil {
		c.hooks.OnCleared(cleared)
	}
}

func (c *Coordinator[R]) copyOf(pm *PendingMutation[R]) PendingMutation[R] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *pm
}

// Pending returns the marker for id while a mutation on it is in flight.
func (c *Coordinator[R]) Pending(id string) (PendingMutation[R], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pm, ok := c.pending[id]
	if !ok {
		return PendingMutation[R]{}, false
	}
	return *pm, true
}

// PendingCount is the number of records with a mutation in flight.
func (c *Coordinator[R]) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func failureMessage(prefix string, err error) string {
	detail := apperr.Detail(err)
	if detail == "" {
		detail = "Unknown error"
	}
	if prefix == "" {
		prefix = "Error"
	}
	return prefix + ": " + detail
}
