package view

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/changefeed"
	"shopfloor/api/internal/demodata"
	"shopfloor/api/internal/notice"
	"shopfloor/api/internal/optimistic"
	"shopfloor/api/internal/readmodel"
	"shopfloor/api/internal/realtime"
	"shopfloor/api/internal/tier"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// faultyData wraps a data service and lets tests fail chosen operations.
type faultyData struct {
	backend.Data
	mu        sync.Mutex
	updateErr error
	readErr   error
	updates   int
}

func (f *faultyData) Read(ctx context.Context, table string, q backend.Query) ([]backend.Record, error) {
	f.mu.Lock()
	err := f.readErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Data.Read(ctx, table, q)
}

func (f *faultyData) Update(ctx context.Context, table, id string, fields backend.Record) (backend.Record, error) {
	f.mu.Lock()
	f.updates++
	err := f.updateErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Data.Update(ctx, table, id, fields)
}

type fixture struct {
	hub   *realtime.Hub
	store *demodata.Store
	data  *faultyData
	sink  *notice.Recorder
	deps  Deps
}

func newFixture(t *testing.T, tr tier.Tier) *fixture {
	t.Helper()
	hub := realtime.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)
	store := demodata.New(hub, demodata.WithClock(func() time.Time { return fixedNow }))
	data := &faultyData{Data: store}
	sink := notice.NewRecorder()
	return &fixture{
		hub:   hub,
		store: store,
		data:  data,
		sink:  sink,
		deps: Deps{
			Data:  data,
			Feed:  changefeed.New(hub, nil),
			Tiers: tier.Fixed(tr),
			Sink:  sink,
			Now:   func() time.Time { return fixedNow },
		},
	}
}

func mountMachines(t *testing.T, f *fixture, hooks optimistic.Hooks[Machine]) *Machines {
	t.Helper()
	m := NewMachines(f.deps, hooks)
	require.Equal(t, readmodel.Unloaded, m.State())
	require.NoError(t, m.Mount(context.Background()))
	t.Cleanup(m.Unmount)
	require.Equal(t, readmodel.Ready, m.State())
	return m
}

func statusOf(t *testing.T, m *Machines, id string) MachineStatus {
	t.Helper()
	mc, ok := m.Find(id)
	require.True(t, ok, "machine %s not cached", id)
	return mc.Status
}

func TestMachinesMountLoadsOrderedByName(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	m := mountMachines(t, f, optimistic.Hooks[Machine]{})

	names := []string{}
	for _, mc := range m.Records() {
		names = append(names, mc.Name)
	}
	require.Equal(t, []string{"CNC-Fräse Alpha", "Lackieranlage Gamma", "Schweißroboter Beta"}, names)
	require.Equal(t, 1, f.hub.Subscribers(backend.TableMachines))
}

func TestSetStatusShowsOptimisticValueThenConfirms(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	var seenDuringCommit MachineStatus
	var m *Machines
	m = mountMachines(t, f, optimistic.Hooks[Machine]{
		OnPending: func(pm optimistic.PendingMutation[Machine]) {
			seenDuringCommit = statusOf(t, m, pm.ResourceID)
		},
	})

	ok := m.SetStatus(context.Background(), "3", StatusOperational)
	require.True(t, ok)
	require.Equal(t, StatusOperational, seenDuringCommit)
	require.Equal(t, StatusOperational, statusOf(t, m, "3"))
	_, pending := m.Pending("3")
	require.False(t, pending)

	notices := f.sink.All()
	require.Len(t, notices, 1)
	require.Equal(t, notice.LevelSuccess, notices[0].Level)
	require.Contains(t, notices[0].Message, "Operational")
}

func TestSetStatusBlockedForDemoTiers(t *testing.T) {
	for _, tr := range []tier.Tier{tier.NamedDemo, tier.PublicDemo, tier.None} {
		t.Run(tr.String(), func(t *testing.T) {
			f := newFixture(t, tr)
			m := mountMachines(t, f, optimistic.Hooks[Machine]{})

			ok := m.SetStatus(context.Background(), "1", StatusError)
			require.False(t, ok)
			require.Equal(t, StatusOperational, statusOf(t, m, "1"))
			require.Zero(t, f.data.updates)

			notices := f.sink.All()
			require.Len(t, notices, 1)
			require.Equal(t, notice.LevelError, notices[0].Level)
			require.Equal(t, "Demo users cannot perform status changes", notices[0].Message)
		})
	}
}

func TestSetStatusFailureRollsBack(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	f.data.updateErr = &backend.Error{Status: 403, Code: "FORBIDDEN", Message: "new row violates row-level security policy"}

	var optimisticSeen MachineStatus
	var m *Machines
	m = mountMachines(t, f, optimistic.Hooks[Machine]{
		OnPending: func(pm optimistic.PendingMutation[Machine]) {
			optimisticSeen = pm.Optimistic.Status
		},
	})

	ok := m.SetStatus(context.Background(), "1", StatusMaintenance)
	require.False(t, ok)
	require.Equal(t, StatusMaintenance, optimisticSeen)
	require.Equal(t, StatusOperational, statusOf(t, m, "1"))

	notices := f.sink.All()
	require.Len(t, notices, 1)
	require.Equal(t, notice.LevelError, notices[0].Level)
	require.Contains(t, notices[0].Message, "row-level security")
}

func TestSetStatusFailureWithFailedRefetchRestoresConfirmed(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	m := mountMachines(t, f, optimistic.Hooks[Machine]{})
	require.Equal(t, StatusOperational, statusOf(t, m, "1"))

	f.data.mu.Lock()
	f.data.updateErr = errors.New("connection reset")
	f.data.readErr = errors.New("connection reset")
	f.data.mu.Unlock()

	ok := m.SetStatus(context.Background(), "1", StatusMaintenance)
	require.False(t, ok)
	require.Equal(t, StatusOperational, statusOf(t, m, "1"))
	require.Equal(t, readmodel.Ready, m.State())

	notices := f.sink.All()
	require.Len(t, notices, 2)
	require.Equal(t, notice.LevelError, notices[0].Level)
	require.Equal(t, "Failed to load machines", notices[1].Message)
}

func TestCommittedChangeWithFailedRefetchShowsConfirmedSnapshot(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	m := mountMachines(t, f, optimistic.Hooks[Machine]{
		OnPending: func(optimistic.PendingMutation[Machine]) {
			f.data.mu.Lock()
			f.data.readErr = errors.New("timeout")
			f.data.mu.Unlock()
		},
	})

	require.True(t, m.SetStatus(context.Background(), "3", StatusOperational))
	require.Equal(t, StatusMaintenance, statusOf(t, m, "3"))
}

func TestRemoteChangeTriggersRefetch(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	m := mountMachines(t, f, optimistic.Hooks[Machine]{})

	_, err := f.store.Update(context.Background(), backend.TableMachines, "2", backend.Record{"status": "idle"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mc, ok := m.Find("2")
		return ok && mc.Status == StatusIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUnmountStopsUpdates(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	m := NewMachines(f.deps, optimistic.Hooks[Machine]{})
	require.NoError(t, m.Mount(context.Background()))
	m.Unmount()
	m.Unmount()

	require.Zero(t, f.hub.Subscribers(backend.TableMachines))

	_, err := f.store.Update(context.Background(), backend.TableMachines, "2", backend.Record{"status": "idle"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StatusOperational, statusOf(t, m, "2"))
}

func TestMountTwiceFails(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	m := mountMachines(t, f, optimistic.Hooks[Machine]{})
	require.Error(t, m.Mount(context.Background()))
}

func TestConcurrentMountsSubscribeOnce(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	m := NewMachines(f.deps, optimistic.Hooks[Machine]{})
	t.Cleanup(m.Unmount)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Mount(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, f.hub.Subscribers(backend.TableMachines))
}

func TestMissingTierSourceBlocksMutations(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	f.deps.Tiers = nil
	m := mountMachines(t, f, optimistic.Hooks[Machine]{})

	require.False(t, m.SetStatus(context.Background(), "1", StatusError))
	require.Zero(t, f.data.updates)
	require.Equal(t, "Demo users cannot perform status changes", f.sink.All()[0].Message)
}

func TestInitialFetchFailureLeavesReadyEmptyView(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	f.data.readErr = errors.New("connection refused")
	m := mountMachines(t, f, optimistic.Hooks[Machine]{})

	require.Empty(t, m.Records())
	notices := f.sink.All()
	require.Len(t, notices, 1)
	require.Equal(t, "Failed to load machines", notices[0].Message)
}

func TestMachinesFilterAndStats(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	m := mountMachines(t, f, optimistic.Hooks[Machine]{})

	require.Len(t, m.Filter(""), 3)
	require.Len(t, m.Filter("halle a"), 2)
	require.Len(t, m.Filter("PAINT"), 1)
	require.Empty(t, m.Filter("nothing"))

	require.Equal(t, MachineStats{Total: 3, Operational: 2, Maintenance: 1}, m.Stats())
}

func TestParseMachineStatus(t *testing.T) {
	st, err := ParseMachineStatus(" Maintenance ")
	require.NoError(t, err)
	require.Equal(t, StatusMaintenance, st)
	_, err = ParseMachineStatus("broken")
	require.Error(t, err)
}

func TestProductsSaveAndDelete(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	p := NewProducts(f.deps)
	require.NoError(t, p.Mount(context.Background()))
	t.Cleanup(p.Unmount)

	require.Equal(t, "Model X", p.Records()[0].Model)
	require.Equal(t, "652 km", p.Records()[2].Specifications["range"])

	ctx := context.Background()
	require.True(t, p.Save(ctx, ProductInput{Model: "Model Y", Specifications: map[string]string{"range": "533 km"}}))
	require.Len(t, p.Records(), 4)
	require.Equal(t, "Model Y", p.Records()[0].Model)

	require.True(t, p.Save(ctx, ProductInput{ID: "1", Model: "Model S Plaid", Description: "Performance"}))
	updated, ok := p.Find("1")
	require.True(t, ok)
	require.Equal(t, "Model S Plaid", updated.Model)

	require.True(t, p.Delete(ctx, "2"))
	_, ok = p.Find("2")
	require.False(t, ok)

	require.False(t, p.Delete(ctx, "99"))
	last := f.sink.All()[f.sink.Len()-1]
	require.Equal(t, notice.LevelError, last.Level)
	require.True(t, strings.HasPrefix(last.Message, "Error while deleting: "))
}

func TestProductsSaveRequiresModel(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	p := NewProducts(f.deps)
	require.NoError(t, p.Mount(context.Background()))
	t.Cleanup(p.Unmount)

	require.False(t, p.Save(context.Background(), ProductInput{Model: "  "}))
	require.Len(t, p.Records(), 3)
	require.Equal(t, "Please enter a model name", f.sink.All()[0].Message)
}

func TestProductsBlockedForPublicDemo(t *testing.T) {
	f := newFixture(t, tier.PublicDemo)
	p := NewProducts(f.deps)
	require.NoError(t, p.Mount(context.Background()))
	t.Cleanup(p.Unmount)

	require.False(t, p.Delete(context.Background(), "1"))
	require.Len(t, p.Records(), 3)
	require.Equal(t, 1, f.sink.Len())
}

func TestDashboardAggregatesFixture(t *testing.T) {
	f := newFixture(t, tier.PublicDemo)
	d := NewDashboard(f.deps)
	require.NoError(t, d.Mount(context.Background()))
	t.Cleanup(d.Unmount)

	s := d.Stats()
	require.Equal(t, 3, s.TotalProducts)
	require.Equal(t, 2, s.ActiveMachines)
	require.Equal(t, 0, s.TotalEmployees)
	require.Equal(t, 25, s.TodayProduction)
	require.Equal(t, MachineStatusCount{Operational: 2, Maintenance: 1}, s.MachineStatus)
	require.Zero(t, s.QualityRate)
	require.Len(t, s.RecentProductions, 2)
	require.Equal(t, "PRD-2024-002", s.RecentProductions[0].Number)
}

func TestDashboardQualityRateAndRefresh(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	ctx := context.Background()
	for _, result := range []string{"passed", "passed", "failed", "passed"} {
		_, err := f.store.Insert(ctx, backend.TableQualityChecks, backend.Record{"result": result, "check_date": fixedNow.Format(time.RFC3339)})
		require.NoError(t, err)
	}
	d := NewDashboard(f.deps)
	require.NoError(t, d.Mount(ctx))
	t.Cleanup(d.Unmount)
	require.InDelta(t, 75.0, d.Stats().QualityRate, 0.001)

	_, err := f.store.Insert(ctx, backend.TableProductions, backend.Record{
		"production_number": "PRD-2024-003", "quantity": 5, "status": "planned", "start_time": fixedNow.Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return d.Stats().TodayProduction == 30
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDashboardMountTwiceKeepsOneSubscription(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	d := NewDashboard(f.deps)
	require.NoError(t, d.Mount(context.Background()))
	require.Error(t, d.Mount(context.Background()))
	require.Equal(t, 1, f.hub.Subscribers(backend.TableProductions))

	d.Unmount()
	require.Zero(t, f.hub.Subscribers(backend.TableProductions))
}

func TestDashboardFailureShowsZeroes(t *testing.T) {
	f := newFixture(t, tier.Authenticated)
	d := NewDashboard(f.deps)
	require.NoError(t, d.Mount(context.Background()))
	t.Cleanup(d.Unmount)
	require.Equal(t, 3, d.Stats().TotalProducts)

	f.data.mu.Lock()
	f.data.readErr = errors.New("timeout")
	f.data.mu.Unlock()
	require.NoError(t, d.Refresh(context.Background()))

	require.Equal(t, Stats{}, d.Stats())
	last := f.sink.All()[f.sink.Len()-1]
	require.Equal(t, notice.LevelError, last.Level)
}
