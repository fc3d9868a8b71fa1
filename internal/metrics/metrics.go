// Package metrics exposes Prometheus instrumentation on a private registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	TripsAssigned    prometheus.Counter
	AllocationFailed prometheus.Counter
	SeatsHeld        prometheus.Counter
	SeatsSold        prometheus.Counter
	SeatsRefunded    prometheus.Counter
	HoldsExpired     prometheus.Counter

	// LifecycleTransitions counts state changes applied by the periodic
	// jobs, labelled by step (force_finish, close_sales, start, finish,
	// begin_inactivity, end_inactivity).
	LifecycleTransitions *prometheus.CounterVec
	TickDuration         *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		TripsAssigned: factory.NewCounter(prometheus.CounterOpts{
			Name: "docproy_trips_assigned_total",
			Help: "Trips successfully assigned to a vehicle.",
		}),
		AllocationFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "docproy_allocation_failed_total",
			Help: "Trip requests that found no feasible vehicle.",
		}),
		SeatsHeld: factory.NewCounter(prometheus.CounterOpts{
			Name: "docproy_seats_held_total",
			Help: "Seats placed on hold.",
		}),
		SeatsSold: factory.NewCounter(prometheus.CounterOpts{
			Name: "docproy_seats_sold_total",
			Help: "Seats sold (direct purchase or confirmed hold).",
		}),
		SeatsRefunded: factory.NewCounter(prometheus.CounterOpts{
			Name: "docproy_seats_refunded_total",
			Help: "Sold seats refunded and released.",
		}),
		HoldsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "docproy_holds_expired_total",
			Help: "Held seats reclaimed by the expiry sweeper.",
		}),
		LifecycleTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docproy_lifecycle_transitions_total",
			Help: "State transitions applied by the lifecycle scheduler.",
		}, []string{"step"}),
		TickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docproy_job_tick_seconds",
			Help:    "Duration of a periodic job tick.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}
