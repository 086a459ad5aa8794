// Package demodata is an in-memory data service seeded with the public demo
// fixture. It backs the dashboard when no remote backend is configured and
// publishes row changes to a realtime hub like the real backend does.
package demodata

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/realtime"
)

type Store struct {
	hub *realtime.Hub
	now func() time.Time

	mu     sync.RWMutex
	tables map[string][]backend.Record
	nextID map[string]int
}

type Option func(*Store)

// WithClock fixes the time used for seeded and inserted timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store seeded with Fixture. hub may be nil.
func New(hub *realtime.Hub, opts ...Option) *Store {
	s := &Store{
		hub:    hub,
		now:    time.Now,
		tables: make(map[string][]backend.Record),
		nextID: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	for table, rows := range Fixture(s.now()) {
		s.tables[table] = rows
		s.nextID[table] = len(rows) + 1
	}
	for _, table := range backend.Tables {
		if _, ok := s.tables[table]; !ok {
			s.tables[table] = []backend.Record{}
			s.nextID[table] = 1
		}
	}
	return s
}

// Fixture is the public demo data set. Production start times fall on the
// day of now so the dashboard shows today's output.
func Fixture(now time.Time) map[string][]backend.Record {
	today := now.UTC().Truncate(24 * time.Hour)
	stamp := func(d time.Duration) string { return today.Add(d).Format(time.RFC3339) }
	return map[string][]backend.Record{
		backend.TableProducts: {
			{"id": 1, "model": "Model S", "description": "Premium Elektro-Limousine", "specifications": map[string]any{"range": "652 km"}, "created_at": stamp(-72 * time.Hour)},
			{"id": 2, "model": "Model 3", "description": "Kompakte Elektro-Limousine", "specifications": map[string]any{"range": "567 km"}, "created_at": stamp(-48 * time.Hour)},
			{"id": 3, "model": "Model X", "description": "Elektro-SUV", "specifications": map[string]any{"range": "580 km"}, "created_at": stamp(-24 * time.Hour)},
		},
		backend.TableMachines: {
			{"id": 1, "name": "CNC-Fräse Alpha", "type": "CNC", "status": "operational", "location": "Halle A"},
			{"id": 2, "name": "Schweißroboter Beta", "type": "Welding", "status": "operational", "location": "Halle A"},
			{"id": 3, "name": "Lackieranlage Gamma", "type": "Painting", "status": "maintenance", "location": "Halle B"},
		},
		backend.TableProductions: {
			{"id": 1, "production_number": "PRD-2024-001", "quantity": 10, "status": "completed", "start_time": stamp(6 * time.Hour)},
			{"id": 2, "production_number": "PRD-2024-002", "quantity": 15, "status": "in_progress", "start_time": stamp(8 * time.Hour)},
		},
	}
}

func (s *Store) Read(_ context.Context, table string, q backend.Query) ([]backend.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownTable, table)
	}
	return q.Apply(rows), nil
}

func (s *Store) Count(_ context.Context, table string, q backend.Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %q", backend.ErrUnknownTable, table)
	}
	n := 0
	for _, r := range rows {
		if q.Match(r) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Insert(_ context.Context, table string, rec backend.Record) (backend.Record, error) {
	s.mu.Lock()
	rows, ok := s.tables[table]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownTable, table)
	}
	row := rec.Clone()
	if row == nil {
		row = backend.Record{}
	}
	id := s.nextID[table]
	s.nextID[table] = id + 1
	row["id"] = id
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = s.now().UTC().Format(time.RFC3339Nano)
	}
	s.tables[table] = append(rows, row)
	out := row.Clone()
	s.mu.Unlock()

	s.publish(table, backend.OpInsert, strconv.Itoa(id))
	return out, nil
}

func (s *Store) Update(_ context.Context, table, id string, fields backend.Record) (backend.Record, error) {
	s.mu.Lock()
	rows, ok := s.tables[table]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownTable, table)
	}
	idx := indexOf(rows, id)
	if idx < 0 {
		s.mu.Unlock()
		return nil, backend.ErrNotFound
	}
	row := rows[idx].Clone()
	for k, v := range fields {
		if k == "id" {
			continue
		}
		row[k] = v
	}
	row["updated_at"] = s.now().UTC().Format(time.RFC3339Nano)
	next := make([]backend.Record, len(rows))
	copy(next, rows)
	next[idx] = row
	s.tables[table] = next
	out := row.Clone()
	s.mu.Unlock()

	s.publish(table, backend.OpUpdate, id)
	return out, nil
}

func (s *Store) Delete(_ context.Context, table, id string) error {
	s.mu.Lock()
	rows, ok := s.tables[table]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", backend.ErrUnknownTable, table)
	}
	idx := indexOf(rows, id)
	if idx < 0 {
		s.mu.Unlock()
		return backend.ErrNotFound
	}
	next := make([]backend.Record, 0, len(rows)-1)
	next = append(next, rows[:idx]...)
	next = append(next, rows[idx+1:]...)
	s.tables[table] = next
	s.mu.Unlock()

	s.publish(table, backend.OpDelete, id)
	return nil
}

func (s *Store) publish(table string, op backend.Op, id string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(backend.ChangeEvent{Table: table, Op: op, ID: id, At: s.now().UTC()})
}

func indexOf(rows []backend.Record, id string) int {
	for i, r := range rows {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

var _ backend.Data = (*Store)(nil)
