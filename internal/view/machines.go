package view

import (
	"context"
	"fmt"
	"strings"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/optimistic"
)

type MachineStatus string

const (
	StatusOperational MachineStatus = "operational"
	StatusMaintenance MachineStatus = "maintenance"
	StatusIdle        MachineStatus = "idle"
	StatusError       MachineStatus = "error"
)

var MachineStatuses = []MachineStatus{StatusOperational, StatusMaintenance, StatusIdle, StatusError}

func ParseMachineStatus(s string) (MachineStatus, error) {
	for _, st := range MachineStatuses {
		if string(st) == strings.ToLower(strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown machine status %q", s)
}

// Label is the human-readable status used in notices.
func (s MachineStatus) Label() string {
	switch s {
	case StatusOperational:
		return "Operational"
	case StatusMaintenance:
		return "Maintenance"
	case StatusIdle:
		return "Idle"
	case StatusError:
		return "Error"
	default:
		return string(s)
	}
}

type Machine struct {
	ID       string
	Name     string
	Type     string
	Status   MachineStatus
	Location string
}

func decodeMachine(rec backend.Record) Machine {
	return Machine{
		ID:       rec.ID(),
		Name:     rec.String("name"),
		Type:     rec.String("type"),
		Status:   MachineStatus(rec.String("status")),
		Location: rec.String("location"),
	}
}

type MachineStats struct {
	Total       int
	Operational int
	Maintenance int
	Idle        int
	Error       int
}

// Machines is the machine list, ordered by name.
type Machines struct {
	*Table[Machine]
}

func NewMachines(deps Deps, hooks optimistic.Hooks[Machine]) *Machines {
	return &Machines{Table: NewTable(deps, TableOptions[Machine]{
		Table:          backend.TableMachines,
		Query:          backend.Query{Order: []backend.Order{backend.Asc("name")}},
		Decode:         decodeMachine,
		ID:             func(m Machine) string { return m.ID },
		FailureMessage: "Failed to load machines",
		Hooks:          hooks,
	})}
}

// SetStatus changes a machine's status optimistically. The new status shows
// immediately; the reconciling refetch that follows settles it either way.
func (m *Machines) SetStatus(ctx context.Context, id string, status MachineStatus) bool {
	data := m.deps.Data
	return m.coord.Mutate(ctx, optimistic.Mutation[Machine]{
		ResourceID: id,
		Action:     "status changes",
		Patch: func(cur Machine) Machine {
			cur.Status = status
			return cur
		},
		Commit: func(ctx context.Context) error {
			_, err := data.Update(ctx, backend.TableMachines, id, backend.Record{"status": string(status)})
			return err
		},
		SuccessMessage: fmt.Sprintf("Machine status changed to %q", status.Label()),
		FailurePrefix:  "Error",
	})
}

// Filter matches term against name, type and location, ignoring case.
func (m *Machines) Filter(term string) []Machine {
	all := m.Records()
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return all
	}
	out := make([]Machine, 0, len(all))
	for _, mc := range all {
		if strings.Contains(strings.ToLower(mc.Name), term) ||
			strings.Contains(strings.ToLower(mc.Type), term) ||
			strings.Contains(strings.ToLower(mc.Location), term) {
			out = append(out, mc)
		}
	}
	return out
}

func (m *Machines) Stats() MachineStats {
	var s MachineStats
	for _, mc := range m.Records() {
		s.Total++
		switch mc.Status {
		case StatusOperational:
			s.Operational++
		case StatusMaintenance:
			s.Maintenance++
		case StatusError:
			s.Error++
		default:
			s.Idle++
		}
	}
	return s
}
