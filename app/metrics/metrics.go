package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "timeline_sync"

// Skip reasons reported by StatusSkipped
const (
	ReasonDuplicate = "duplicate"
	ReasonSelf      = "self_sourced"
	ReasonFailed    = "failed"
)

// Metrics holds the collectors of one process on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	statusesImported prometheus.Counter
	statusesSkipped  *prometheus.CounterVec
	fetchErrors      *prometheus.CounterVec
	avatarsStored    *prometheus.CounterVec
	workerCrashes    prometheus.Counter
	activeWorkers    prometheus.Gauge
	cycleDuration    prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		statusesImported: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statuses_imported_total",
			Help:      "Remote statuses stored as new notices",
		}),
		statusesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statuses_skipped_total",
			Help:      "Remote statuses not stored as new notices",
		}, []string{"reason"}),
		fetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Timeline fetches that failed",
		}, []string{"kind"}),
		avatarsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "avatars_stored_total",
			Help:      "Avatar variants downloaded and recorded",
		}, []string{"variant"}),
		workerCrashes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_crashes_total",
			Help:      "Account workers that panicked or could not start",
		}),
		activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Account workers currently running",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one full polling cycle",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}

func (m *Metrics) StatusImported() {
	if m == nil {
		return
	}
	m.statusesImported.Inc()
}

func (m *Metrics) StatusSkipped(reason string) {
	if m == nil {
		return
	}
	m.statusesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) FetchFailed(kind string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) AvatarStored(variant string) {
	if m == nil {
		return
	}
	m.avatarsStored.WithLabelValues(variant).Inc()
}

func (m *Metrics) WorkerCrashed() {
	if m == nil {
		return
	}
	m.workerCrashes.Inc()
}

func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

func (m *Metrics) WorkerFinished() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}

func (m *Metrics) CycleCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}
