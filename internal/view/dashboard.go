package view

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/changefeed"
	"shopfloor/api/internal/readmodel"
)

const recentProductionLimit = 5

type MachineStatusCount struct {
	Operational int
	Maintenance int
	Idle        int
}

type RecentProduction struct {
	ID        string
	Number    string
	Status    string
	Quantity  int
	StartTime string
	Product   string
	Machine   string
	Employee  string
}

type Stats struct {
	TotalProducts     int
	ActiveMachines    int
	TotalEmployees    int
	TodayProduction   int
	MachineStatus     MachineStatusCount
	QualityRate       float64
	RecentProductions []RecentProduction
}

// Dashboard aggregates several tables and refreshes whenever a production
// changes. When any read fails it shows zeroed figures and a notice.
type Dashboard struct {
	deps  Deps
	cache *readmodel.Cache[Stats]

	mu        sync.Mutex
	mounted   bool
	unmounted bool
	sub       *changefeed.Subscription
	cancel    context.CancelFunc
}

func NewDashboard(deps Deps) *Dashboard {
	deps = deps.withDefaults()
	d := &Dashboard{deps: deps}
	d.cache = readmodel.New(readmodel.Options[Stats]{
		Table:  "dashboard",
		Fetch:  d.fetch,
		Sink:   deps.Sink,
		Logger: deps.Logger,
	})
	return d
}

func (d *Dashboard) Mount(ctx context.Context) error {
	d.mu.Lock()
	if d.mounted {
		d.mu.Unlock()
		return errors.New("dashboard already mounted")
	}
	d.mounted = true
	d.mu.Unlock()

	viewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := d.deps.Feed.Subscribe(backend.TableProductions, func() {
		_ = d.cache.Refetch(viewCtx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe productions: %w", err)
	}
	d.mu.Lock()
	if d.unmounted {
		d.mu.Unlock()
		sub.Release()
		cancel()
		return nil
	}
	d.sub, d.cancel = sub, cancel
	d.mu.Unlock()

	_ = d.cache.Refetch(ctx)
	return nil
}

func (d *Dashboard) Unmount() {
	d.mu.Lock()
	d.unmounted = true
	sub, cancel := d.sub, d.cancel
	d.mu.Unlock()
	d.cache.Close()
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Release()
	}
}

func (d *Dashboard) Refresh(ctx context.Context) error {
	return d.cache.Refetch(ctx)
}

func (d *Dashboard) State() readmodel.State {
	return d.cache.State()
}

// Stats returns the latest figures, zero before the first fetch.
func (d *Dashboard) Stats() Stats {
	snap := d.cache.Snapshot()
	if len(snap) == 0 {
		return Stats{}
	}
	return snap[0]
}

func (d *Dashboard) OnUpdate(fn func(Stats)) func() {
	return d.cache.OnUpdate(func(s []Stats) {
		if len(s) > 0 {
			fn(s[0])
		}
	})
}

func (d *Dashboard) fetch(ctx context.Context) ([]Stats, error) {
	stats, err := d.collect(ctx)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	if err != nil {
		d.deps.Logger.Warn("dashboard fetch failed", zap.Error(err))
		d.deps.Sink.Error("Failed to load dashboard data. Please refresh the page.")
		return []Stats{{}}, nil
	}
	return []Stats{stats}, nil
}

func (d *Dashboard) collect(ctx context.Context) (Stats, error) {
	data := d.deps.Data
	today := d.deps.Now().UTC().Format("2006-01-02")

	var (
		productCount, employeeCount            int
		machines, todays, recent, checks       []backend.Record
		productNames, machineNames, staffNames map[string]string
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		productCount, err = data.Count(ctx, backend.TableProducts, backend.Query{})
		return err
	})
	g.Go(func() (err error) {
		employeeCount, err = data.Count(ctx, backend.TableEmployees, backend.Query{})
		return err
	})
	g.Go(func() (err error) {
		machines, err = data.Read(ctx, backend.TableMachines, backend.Query{})
		return err
	})
	g.Go(func() (err error) {
		todays, err = data.Read(ctx, backend.TableProductions, backend.Query{
			Filters: []backend.Filter{backend.Gte("start_time", today)},
		})
		return err
	})
	g.Go(func() (err error) {
		recent, err = data.Read(ctx, backend.TableProductions, backend.Query{
			Order: []backend.Order{backend.Desc("start_time")},
			Limit: recentProductionLimit,
		})
		return err
	})
	g.Go(func() (err error) {
		checks, err = data.Read(ctx, backend.TableQualityChecks, backend.Query{
			Filters: []backend.Filter{backend.Gte("check_date", today)},
		})
		return err
	})
	g.Go(func() (err error) {
		productNames, err = names(ctx, data, backend.TableProducts, "model")
		return err
	})
	g.Go(func() (err error) {
		staffNames, err = names(ctx, data, backend.TableEmployees, "name")
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	machineNames = make(map[string]string, len(machines))

	s := Stats{TotalProducts: productCount, TotalEmployees: employeeCount}
	for _, m := range machines {
		machineNames[m.ID()] = m.String("name")
		switch MachineStatus(m.String("status")) {
		case StatusOperational:
			s.MachineStatus.Operational++
		case StatusMaintenance:
			s.MachineStatus.Maintenance++
		default:
			s.MachineStatus.Idle++
		}
	}
	s.ActiveMachines = s.MachineStatus.Operational

	for _, p := range todays {
		s.TodayProduction += p.Int("quantity")
	}

	passed := 0
	for _, c := range checks {
		if c.String("result") == "passed" {
			passed++
		}
	}
	if len(checks) > 0 {
		s.QualityRate = float64(passed) / float64(len(checks)) * 100
	}

	s.RecentProductions = make([]RecentProduction, 0, len(recent))
	for _, p := range recent {
		s.RecentProductions = append(s.RecentProductions, RecentProduction{
			ID:        p.ID(),
			Number:    p.String("production_number"),
			Status:    p.String("status"),
			Quantity:  p.Int("quantity"),
			StartTime: p.String("start_time"),
			Product:   productNames[p.String("product_id")],
			Machine:   machineNames[p.String("machine_id")],
			Employee:  staffNames[p.String("employee_id")],
		})
	}
	return s, nil
}

func names(ctx context.Context, data backend.Data, table, column string) (map[string]string, error) {
	rows, err := data.Read(ctx, table, backend.Query{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ID()] = r.String(column)
	}
	return out, nil
}
