// Package gate is the capability gate every mutating action goes through
// before touching the network.
package gate

import (
	"strings"
	"time"

	"shopfloor/api/internal/apperr"
	"shopfloor/api/internal/metrics"
	"shopfloor/api/internal/notice"
	"shopfloor/api/internal/tier"
)

const DefaultAction = "this action"

type Gate struct {
	sink notice.Sink
}

func New(sink notice.Sink) *Gate {
	if sink == nil {
		sink = notice.Discard
	}
	return &Gate{sink: sink}
}

// CheckRestriction returns true when the action is blocked for t, after
// emitting exactly one notice that names the action.
func (g *Gate) CheckRestriction(t tier.Tier, action string) bool {
	if tier.CanMutate(t) {
		return false
	}
	label := strings.TrimSpace(action)
	if label == "" {
		label = DefaultAction
	}
	metrics.GateBlocked.WithLabelValues(label).Inc()
	g.sink.Error("Demo users cannot perform "+label,
		notice.WithIcon("🔒"),
		notice.WithDuration(3*time.Second),
	)
	return true
}

// Guard is CheckRestriction for callers that want an error value.
func (g *Gate) Guard(t tier.Tier, action string) error {
	if g.CheckRestriction(t, action) {
		return apperr.Denied(action)
	}
	return nil
}
