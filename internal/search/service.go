package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
)

// Engine is a full-text index. *Meili is the production implementation.
type Engine interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexProducts([]ProductRecord) error
	IndexMachines([]MachineRecord) error
	DeleteProduct(id string) error
	DeleteMachine(id string) error
}

// Service is the facade that tries the engine first and falls back to a
// table scan.
type Service struct {
	engine Engine
	scan   *Scan
	data   backend.Data
	logger *zap.Logger
}

// NewService creates a search service. engine may be nil if Meilisearch is
// not configured.
func NewService(engine Engine, data backend.Data, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, scan: NewScan(data), data: data, logger: logger.Named("search")}
}

func (s *Service) engineReady() bool {
	return s.engine != nil && s.engine.Healthy()
}

// Engine is "meilisearch" while the engine is healthy and "scan" otherwise.
func (s *Service) Engine() string {
	if s.engineReady() {
		return "meilisearch"
	}
	return "scan"
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engineReady() {
		results, total, err := s.engine.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to scan", zap.Error(err))
	}

	results, total, err := s.scan.Search(ctx, q)
	if err != nil {
		s.logger.Warn("scan search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Engine: "scan"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "scan"}
}

// Watch keeps the index in step with row changes on products and machines.
// The returned func stops watching.
func (s *Service) Watch(rt backend.Realtime) (func(), error) {
	var handles []backend.Handle
	stop := func() {
		for _, h := range handles {
			rt.Unsubscribe(h)
		}
	}
	for _, table := range []string{backend.TableProducts, backend.TableMachines} {
		h, err := rt.Subscribe(table, func(ev backend.ChangeEvent) {
			if err := s.apply(context.Background(), ev); err != nil {
				s.logger.Warn("index update failed", zap.String("table", ev.Table), zap.String("id", ev.ID), zap.Error(err))
			}
		})
		if err != nil {
			stop()
			return nil, fmt.Errorf("watch %s: %w", table, err)
		}
		handles = append(handles, h)
	}
	return stop, nil
}

func (s *Service) apply(ctx context.Context, ev backend.ChangeEvent) error {
	if !s.engineReady() || ev.ID == "" {
		return nil
	}
	rtyp, ok := typeForTable(ev.Table)
	if !ok {
		return nil
	}
	if ev.Op == backend.OpDelete {
		if rtyp == ResultProduct {
			return s.engine.DeleteProduct(ev.ID)
		}
		return s.engine.DeleteMachine(ev.ID)
	}

	rows, err := s.data.Read(ctx, ev.Table, backend.Query{Filters: []backend.Filter{backend.Eq("id", ev.ID)}, Limit: 1})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return s.index(rtyp, rows)
}

// ReindexAll pushes every product and machine into the engine.
func (s *Service) ReindexAll(ctx context.Context) error {
	if !s.engineReady() {
		return nil
	}
	for _, table := range []string{backend.TableProducts, backend.TableMachines} {
		rows, err := s.data.Read(ctx, table, backend.Query{})
		if err != nil {
			return fmt.Errorf("reindex %s: %w", table, err)
		}
		rtyp, _ := typeForTable(table)
		if err := s.index(rtyp, rows); err != nil {
			return fmt.Errorf("reindex %s: %w", table, err)
		}
	}
	return nil
}

func (s *Service) index(rtyp ResultType, rows []backend.Record) error {
	switch rtyp {
	case ResultProduct:
		docs := make([]ProductRecord, 0, len(rows))
		for _, r := range rows {
			docs = append(docs, productRecord(r))
		}
		return s.engine.IndexProducts(docs)
	default:
		docs := make([]MachineRecord, 0, len(rows))
		for _, r := range rows {
			docs = append(docs, machineRecord(r))
		}
		return s.engine.IndexMachines(docs)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
