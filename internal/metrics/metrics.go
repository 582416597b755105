// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seatlock"

// Metrics groups every collector the engine updates.  Collectors are
// registered on the Registerer handed to New so tests can use a private
// registry.
type Metrics struct {
	Acquisitions   *prometheus.CounterVec
	Releases       *prometheus.CounterVec
	QueueOutcomes  *prometheus.CounterVec
	QueueWait      prometheus.Histogram
	SeatWorkers    prometheus.Gauge
	ExpiredLocks   prometheus.Counter
	PublishDropped prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Lock acquisition attempts by path and outcome.",
		}, []string{"path", "outcome"}),
		Releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Lock releases by outcome.",
		}, []string{"outcome"}),
		QueueOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_outcomes_total",
			Help:      "Terminal statuses of queued lock requests.",
		}, []string{"status"}),
		QueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time queued requests spent waiting before reaching a terminal status.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
		SeatWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seat_workers",
			Help:      "Seat queue workers currently alive.",
		}),
		ExpiredLocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_locks_total",
			Help:      "Locks removed by the TTL sweep.",
		}),
		PublishDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_events_dropped_total",
			Help:      "Lock events dropped because the publish buffer was full.",
		}),
	}
	reg.MustRegister(
		m.Acquisitions,
		m.Releases,
		m.QueueOutcomes,
		m.QueueWait,
		m.SeatWorkers,
		m.ExpiredLocks,
		m.PublishDropped,
	)
	return m
}

// NewNop returns collectors registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
