package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exported by the scheduler.
type Metrics struct {
	QueueDepth     prometheus.Gauge
	ActiveWorkers  prometheus.Gauge
	JobsAccepted   prometheus.Counter
	JobsSucceeded  prometheus.Counter
	JobsFailed     *prometheus.CounterVec
	JobsRejected   *prometheus.CounterVec
	CompileSeconds prometheus.Histogram
}

// NewMetrics creates the scheduler's Prometheus instruments under
// namespace/subsystem, mirroring the teacher's per-component
// NewMetrics(namespace, subsystem) convention. Each call registers into
// its own registry (returned alongside) rather than the global default,
// since a process may run more than one Scheduler (one per chain group)
// and the default registry rejects duplicate metric names.
func NewMetrics(namespace, subsystem string) (*Metrics, *prometheus.Registry) {
	if namespace == "" {
		namespace = "verify"
	}
	if subsystem == "" {
		subsystem = "scheduler"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Current number of jobs waiting for a worker",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_workers",
			Help:      "Current number of workers compiling or matching a job",
		}),
		JobsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_accepted_total",
			Help:      "Total verification jobs accepted onto the queue",
		}),
		JobsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_succeeded_total",
			Help:      "Total verification jobs that reached DONE",
		}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_failed_total",
			Help:      "Total verification jobs that reached FAIL, by error code",
		}, []string{"code"}),
		JobsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_rejected_total",
			Help:      "Total submissions rejected before queueing, by reason",
		}, []string{"reason"}),
		CompileSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of a verification job from dequeue to terminal state",
			Buckets:   prometheus.DefBuckets,
		}),
	}, reg
}
