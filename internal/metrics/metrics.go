// Package metrics defines the Prometheus collectors shared by the task
// supervision and request throttling components.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docsync"

// Job outcome label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomePartial   = "partial"
)

// Metrics holds every collector exported by the service.
type Metrics struct {
	QueuePending   prometheus.Gauge
	QueueInFlight  prometheus.Gauge
	QueueJobs      *prometheus.CounterVec
	QueueWait      prometheus.Histogram
	Requests       prometheus.Counter
	Disconnects    prometheus.Counter
	CancelledTasks prometheus.Counter
	BatchRounds    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueuePending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Jobs waiting in the throttled queue.",
		}),
		QueueInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "in_flight",
			Help:      "Jobs dequeued and still running.",
		}),
		QueueJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Jobs finished by the throttled queue, by outcome.",
		}, []string{"outcome"}),
		QueueWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "wait_seconds",
			Help:      "Time between enqueue and start of a job.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		Requests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "requests_total",
			Help:      "Requests served under task supervision.",
		}),
		Disconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "disconnects_total",
			Help:      "Requests whose client disconnected before the handler finished.",
		}),
		CancelledTasks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "cancelled_tasks_total",
			Help:      "Supervised tasks cancelled because their request was dropped.",
		}),
		BatchRounds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "rounds_total",
			Help:      "Batch upsert rounds, by outcome kind.",
		}, []string{"outcome"}),
	}
}

// SetQueueDepth records the pending and in-flight job counts.
func (m *Metrics) SetQueueDepth(pending, inFlight int) {
	if m == nil {
		return
	}
	m.QueuePending.Set(float64(pending))
	m.QueueInFlight.Set(float64(inFlight))
}

// ObserveJob records a finished queue job.
func (m *Metrics) ObserveJob(outcome string) {
	if m == nil {
		return
	}
	m.QueueJobs.WithLabelValues(outcome).Inc()
}

// ObserveWait records how long a job waited before it started.
func (m *Metrics) ObserveWait(d time.Duration) {
	if m == nil {
		return
	}
	m.QueueWait.Observe(d.Seconds())
}

// ObserveRequest counts a supervised request.
func (m *Metrics) ObserveRequest() {
	if m == nil {
		return
	}
	m.Requests.Inc()
}

// ObserveDisconnect counts a dropped request and the tasks it cancelled.
func (m *Metrics) ObserveDisconnect(cancelled int) {
	if m == nil {
		return
	}
	m.Disconnects.Inc()
	m.CancelledTasks.Add(float64(cancelled))
}

// ObserveBatchRound counts a batch upsert round.
func (m *Metrics) ObserveBatchRound(outcome string) {
	if m == nil {
		return
	}
	m.BatchRounds.WithLabelValues(outcome).Inc()
}
