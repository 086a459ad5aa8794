package search

import "shopfloor/api/internal/backend"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProduct ResultType = "product"
	ResultMachine ResultType = "machine"
)

func typeForTable(table string) (ResultType, bool) {
	switch table {
	case backend.TableProducts:
		return ResultProduct, true
	case backend.TableMachines:
		return ResultMachine, true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// ProductRecord is the data we index for a product.
type ProductRecord struct {
	ID          string `json:"id"`
	Model       string `json:"model"`
	Description string `json:"description"`
}

// MachineRecord is the data we index for a machine.
type MachineRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location"`
	Status   string `json:"status"`
}

func productRecord(rec backend.Record) ProductRecord {
	return ProductRecord{ID: rec.ID(), Model: rec.String("model"), Description: rec.String("description")}
}

func machineRecord(rec backend.Record) MachineRecord {
	return MachineRecord{
		ID:       rec.ID(),
		Name:     rec.String("name"),
		Type:     rec.String("type"),
		Location: rec.String("location"),
		Status:   rec.String("status"),
	}
}
