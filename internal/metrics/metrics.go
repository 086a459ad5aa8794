// Package metrics holds the Prometheus collectors for the dashboard core and
// the backend. Everything registers on Registry, which /metrics serves.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	GateBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopfloor",
		Name:      "gate_blocked_total",
		Help:      "Mutating actions blocked locally by the capability gate.",
	}, []string{"action"})

	Refetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopfloor",
		Name:      "refetch_total",
		Help:      "Read-model refetches by outcome (applied, stale, failed, closed).",
	}, []string{"table", "outcome"})

	Mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopfloor",
		Name:      "mutations_total",
		Help:      "Optimistic mutations by outcome (confirmed, rolled_back).",
	}, []string{"table", "outcome"})

	ActiveSubscriptions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shopfloor",
		Name:      "changefeed_subscriptions",
		Help:      "Live change-feed subscriptions per table.",
	}, []string{"table"})

	ChangeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopfloor",
		Name:      "change_events_total",
		Help:      "Row change events published to the realtime hub.",
	}, []string{"table", "op"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopfloor",
		Name:      "http_requests_total",
		Help:      "HTTP requests served by status code.",
	}, []string{"method", "status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		GateBlocked,
		Refetches,
		Mutations,
		ActiveSubscriptions,
		ChangeEvents,
		HTTPRequests,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
