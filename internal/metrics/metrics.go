// Package metrics exposes Prometheus instruments for loads and refreshes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "borrow_analytics"

// Metrics holds the refresh pipeline instruments.
type Metrics struct {
	// RunsTotal counts runs by kind (historical, realtime) and status.
	RunsTotal *prometheus.CounterVec

	// RunDuration is the wall time of one run.
	RunDuration *prometheus.HistogramVec

	// EventsDropped counts raw records rejected during normalisation.
	EventsDropped *prometheus.CounterVec

	// OrphanCheckIns counts check-ins without an open check-out.
	OrphanCheckIns prometheus.Counter

	// DuplicatesRemoved counts live intervals already present historically.
	DuplicatesRemoved prometheus.Counter

	// StoredIntervals is the number of intervals stored per source.
	StoredIntervals *prometheus.GaugeVec

	// OpenIntervals is the number of stored open intervals per source.
	OpenIntervals *prometheus.GaugeVec

	// NotificationsSent counts push notifications by outcome.
	NotificationsSent *prometheus.CounterVec
}

// New creates the instruments and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Count of load and refresh runs by kind and status.",
			},
			[]string{"kind", "status"},
		),

		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Time taken by one load or refresh run.",
				Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),

		EventsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Raw records dropped during normalisation by reason.",
			},
			[]string{"reason"},
		),

		OrphanCheckIns: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphan_checkins_total",
				Help:      "Check-ins discarded because no check-out was open.",
			},
		),

		DuplicatesRemoved: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicates_removed_total",
				Help:      "Live intervals dropped because the historical export already has them.",
			},
		),

		StoredIntervals: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stored_intervals",
				Help:      "Intervals currently stored per source.",
			},
			[]string{"source"},
		),

		OpenIntervals: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "open_intervals",
				Help:      "Open intervals currently stored per source.",
			},
			[]string{"source"},
		),

		NotificationsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Push notifications by outcome.",
			},
			[]string{"status"},
		),
	}
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(kind, status).Inc()
	m.RunDuration.WithLabelValues(kind).Observe(seconds)
}

// AddDropped adds normalisation drops for one reason.
func (m *Metrics) AddDropped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Add(float64(n))
}

// AddOrphans adds discarded check-ins.
func (m *Metrics) AddOrphans(n int) {
	if m == nil {
		return
	}
	m.OrphanCheckIns.Add(float64(n))
}

// AddDuplicates adds deduplicated live intervals.
func (m *Metrics) AddDuplicates(n int) {
	if m == nil {
		return
	}
	m.DuplicatesRemoved.Add(float64(n))
}

// SetStored sets the stored and open interval gauges for a source.
func (m *Metrics) SetStored(source string, total, open int) {
	if m == nil {
		return
	}
	m.StoredIntervals.WithLabelValues(source).Set(float64(total))
	m.OpenIntervals.WithLabelValues(source).Set(float64(open))
}

// IncNotification counts one push attempt.
func (m *Metrics) IncNotification(status string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(status).Inc()
}
