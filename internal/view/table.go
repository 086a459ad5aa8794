// Package view mounts the dashboard's screens over the core: each table view
// owns a read-model cache, a change-feed subscription and an optimistic
// coordinator, and lives from Mount to Unmount.
package view

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/changefeed"
	"shopfloor/api/internal/gate"
	"shopfloor/api/internal/notice"
	"shopfloor/api/internal/optimistic"
	"shopfloor/api/internal/readmodel"
	"shopfloor/api/internal/tier"
)

// Deps are shared by every view of one process.
type Deps struct {
	Data   backend.Data
	Feed   *changefeed.Feed
	Tiers  tier.Source
	Gate   *gate.Gate
	Sink   notice.Sink
	Logger *zap.Logger
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Sink == nil {
		d.Sink = notice.Discard
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Gate == nil {
		d.Gate = gate.New(d.Sink)
	}
	if d.Tiers == nil {
		d.Tiers = tier.Fixed(tier.None)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

type TableOptions[R any] struct {
	Table          string
	Query          backend.Query
	Decode         func(backend.Record) R
	ID             func(R) string
	FailureMessage string
	Hooks          optimistic.Hooks[R]
}

// Table is a mounted list of one table's records.
type Table[R any] struct {
	deps  Deps
	table string
	cache *readmodel.Cache[R]
	coord *optimistic.Coordinator[R]

	mu        sync.Mutex
	mounted   bool
	unmounted bool
	sub       *changefeed.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewTable[R any](deps Deps, opts TableOptions[R]) *Table[R] {
	deps = deps.withDefaults()
	data, query, decode := deps.Data, opts.Query, opts.Decode
	cache := readmodel.New(readmodel.Options[R]{
		Table: opts.Table,
		Fetch: func(ctx context.Context) ([]R, error) {
			rows, err := data.Read(ctx, opts.Table, query)
			if err != nil {
				return nil, err
			}
			out := make([]R, 0, len(rows))
			for _, row := range rows {
				out = append(out, decode(row))
			}
			return out, nil
		},
		ID:             opts.ID,
		Sink:           deps.Sink,
		FailureMessage: opts.FailureMessage,
		Logger:         deps.Logger,
	})
	coord := optimistic.New(optimistic.Options[R]{
		Cache:  cache,
		Gate:   deps.Gate,
		Tiers:  deps.Tiers,
		Sink:   deps.Sink,
		Logger: deps.Logger,
		Hooks:  opts.Hooks,
	})
	return &Table[R]{deps: deps, table: opts.Table, cache: cache, coord: coord}
}

// Mount subscribes to the table and runs the first fetch. A failed first
// fetch is reported through the notice sink and leaves an empty, ready view;
// only a failed subscription is returned. A view mounts at most once.
func (t *Table[R]) Mount(ctx context.Context) error {
	t.mu.Lock()
	if t.mounted {
		t.mu.Unlock()
		return fmt.Errorf("view %s already mounted", t.table)
	}
	t.mounted = true
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	viewCtx, cancel := t.ctx, t.cancel
	t.mu.Unlock()

	sub, err := t.deps.Feed.Subscribe(t.table, func() {
		_ = t.cache.Refetch(viewCtx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", t.table, err)
	}
	t.mu.Lock()
	if t.unmounted {
		t.mu.Unlock()
		sub.Release()
		return nil
	}
	t.sub = sub
	t.mu.Unlock()

	_ = t.cache.Refetch(ctx)
	return nil
}

// Unmount closes the cache, cancels fetches still in flight and releases the
// subscription. Late results are discarded.
func (t *Table[R]) Unmount() {
	t.mu.Lock()
	t.unmounted = true
	sub, cancel := t.sub, t.cancel
	t.mu.Unlock()
	t.cache.Close()
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Release()
	}
}

func (t *Table[R]) Refresh(ctx context.Context) error {
	return t.cache.Refetch(ctx)
}

func (t *Table[R]) Records() []R {
	return t.cache.Snapshot()
}

func (t *Table[R]) Find(id string) (R, bool) {
	return t.cache.Find(id)
}

func (t *Table[R]) State() readmodel.State {
	return t.cache.State()
}

// OnUpdate calls fn with every new snapshot.
func (t *Table[R]) OnUpdate(fn func([]R)) func() {
	return t.cache.OnUpdate(fn)
}

func (t *Table[R]) Pending(id string) (optimistic.PendingMutation[R], bool) {
	return t.coord.Pending(id)
}
