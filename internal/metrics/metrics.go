package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WorkerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailplane_abuse_runs_total",
			Help: "Abuse worker runs by outcome",
		},
		[]string{"outcome"}, // ok|error|skipped
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailplane_abuse_events_total",
			Help: "Rate-limit events by stage",
		},
		[]string{"stage"}, // parsed|inserted|duplicate
	)

	EnforcementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailplane_abuse_enforcements_total",
			Help: "State transitions taken by the abuse worker",
		},
		[]string{"action"}, // warned|disabled|disable_failed
	)

	DomainOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailplane_domain_ops_total",
			Help: "Control API domain operations",
		},
		[]string{"op", "outcome"}, // create|delete , ok|error
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		WorkerRunsTotal,
		EventsTotal,
		EnforcementsTotal,
		DomainOpsTotal,
	)
}
