// Package metrics exposes Prometheus instrumentation for the command
// middleware's queue and worker pool.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram the service exports on
// /metrics.
type Metrics struct {
	CommandsEnqueued   prometheus.Counter
	CommandsDequeued   prometheus.Counter
	CommandsSucceeded  prometheus.Counter
	CommandsFailed     prometheus.Counter
	CommandsRetried    prometheus.Counter
	CommandsCancelled  prometheus.Counter
	CommandsRejected   *prometheus.CounterVec
	QueueSize          *prometheus.GaugeVec
	DispatchDuration   prometheus.Histogram
}

// New registers and returns a Metrics instance against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "robotmw_commands_enqueued_total",
			Help: "Total commands admitted into the queue.",
		}),
		CommandsDequeued: factory.NewCounter(prometheus.CounterOpts{
			Name: "robotmw_commands_dequeued_total",
			Help: "Total commands pulled off the queue for dispatch.",
		}),
		CommandsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "robotmw_commands_succeeded_total",
			Help: "Total commands that reached the succeeded state.",
		}),
		CommandsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "robotmw_commands_failed_total",
			Help: "Total commands that reached the failed state.",
		}),
		CommandsRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "robotmw_commands_retried_total",
			Help: "Total dispatch failures requeued for retry.",
		}),
		CommandsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "robotmw_commands_cancelled_total",
			Help: "Total commands cancelled by a client or admin.",
		}),
		CommandsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "robotmw_commands_rejected_total",
			Help: "Total commands the queue refused at admission, labeled by error code; validation failures are not counted.",
		}, []string{"code"}),
		QueueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robotmw_queue_size",
			Help: "Current pending command count per priority band.",
		}, []string{"priority"}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "robotmw_dispatch_duration_seconds",
			Help:    "Latency of a single adapter dispatch call.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
