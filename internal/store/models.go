package store

import (
	"time"

	"shopfloor/api/internal/backend"
)

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Company      string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Column is a writable or filterable column and the SQL type its text
// parameter is cast to.
type Column struct {
	Name     string
	SQLType  string
	ReadOnly bool
}

type tableSchema struct {
	columns []Column
	byName  map[string]Column
}

func newSchema(cols ...Column) tableSchema {
	base := []Column{{Name: "id", SQLType: "bigint", ReadOnly: true}}
	base = append(base, cols...)
	s := tableSchema{columns: base, byName: make(map[string]Column, len(base))}
	for _, c := range base {
		s.byName[c.Name] = c
	}
	return s
}

func (s tableSchema) column(name string) (Column, bool) {
	c, ok := s.byName[name]
	return c, ok
}

var schemas = map[string]tableSchema{
	backend.TableProducts: newSchema(
		Column{Name: "model", SQLType: "text"},
		Column{Name: "description", SQLType: "text"},
		Column{Name: "release_date", SQLType: "date"},
		Column{Name: "specifications", SQLType: "jsonb"},
		Column{Name: "created_at", SQLType: "timestamptz", ReadOnly: true},
		Column{Name: "updated_at", SQLType: "timestamptz", ReadOnly: true},
	),
	backend.TableMachines: newSchema(
		Column{Name: "name", SQLType: "text"},
		Column{Name: "type", SQLType: "text"},
		Column{Name: "status", SQLType: "text"},
		Column{Name: "location", SQLType: "text"},
		Column{Name: "created_at", SQLType: "timestamptz", ReadOnly: true},
		Column{Name: "updated_at", SQLType: "timestamptz", ReadOnly: true},
	),
	backend.TableEmployees: newSchema(
		Column{Name: "name", SQLType: "text"},
		Column{Name: "role", SQLType: "text"},
		Column{Name: "department", SQLType: "text"},
		Column{Name: "created_at", SQLType: "timestamptz", ReadOnly: true},
	),
	backend.TableMaterials: newSchema(
		Column{Name: "name", SQLType: "text"},
		Column{Name: "unit", SQLType: "text"},
		Column{Name: "stock", SQLType: "numeric"},
		Column{Name: "created_at", SQLType: "timestamptz", ReadOnly: true},
	),
	backend.TableProductions: newSchema(
		Column{Name: "production_number", SQLType: "text"},
		Column{Name: "product_id", SQLType: "bigint"},
		Column{Name: "machine_id", SQLType: "bigint"},
		Column{Name: "employee_id", SQLType: "bigint"},
		Column{Name: "quantity", SQLType: "integer"},
		Column{Name: "status", SQLType: "text"},
		Column{Name: "start_time", SQLType: "timestamptz"},
		Column{Name: "end_time", SQLType: "timestamptz"},
		Column{Name: "created_at", SQLType: "timestamptz", ReadOnly: true},
	),
	backend.TableQualityChecks: newSchema(
		Column{Name: "production_id", SQLType: "bigint"},
		Column{Name: "result", SQLType: "text"},
		Column{Name: "notes", SQLType: "text"},
		Column{Name: "check_date", SQLType: "timestamptz"},
		Column{Name: "created_at", SQLType: "timestamptz", ReadOnly: true},
	),
}

// Columns lists the known columns of table in declaration order.
func Columns(table string) []Column {
	s, ok := schemas[table]
	if !ok {
		return nil
	}
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}
