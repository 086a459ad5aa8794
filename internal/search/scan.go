package search

import (
	"context"
	"strings"

	"shopfloor/api/internal/backend"
)

// Scan answers queries by reading the tables and matching substrings. It is
// the fallback when Meilisearch is not configured or unhealthy.
type Scan struct {
	data backend.Data
}

func NewScan(data backend.Data) *Scan {
	return &Scan{data: data}
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	term := strings.ToLower(strings.TrimSpace(q.Text))
	var results []Result

	if q.FilterType == "" || q.FilterType == ResultProduct {
		rows, err := s.data.Read(ctx, backend.TableProducts, backend.Query{Order: []backend.Order{backend.Asc("model")}})
		if err != nil {
			return nil, 0, err
		}
		for _, row := range rows {
			p := productRecord(row)
			if contains(term, p.Model, p.Description) {
				results = append(results, Result{Type: ResultProduct, ID: p.ID, Title: p.Model, Snippet: p.Description})
			}
		}
	}
	if q.FilterType == "" || q.FilterType == ResultMachine {
		rows, err := s.data.Read(ctx, backend.TableMachines, backend.Query{Order: []backend.Order{backend.Asc("name")}})
		if err != nil {
			return nil, 0, err
		}
		for _, row := range rows {
			m := machineRecord(row)
			if contains(term, m.Name, m.Type, m.Location) {
				results = append(results, Result{Type: ResultMachine, ID: m.ID, Title: m.Name, Snippet: m.Type + " · " + m.Location, Status: m.Status})
			}
		}
	}

	total := len(results)
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, total, nil
}

func contains(term string, fields ...string) bool {
	if term == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}
