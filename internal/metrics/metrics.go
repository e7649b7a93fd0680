// Package metrics declares the gateway's prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zoravur/tablegate/internal/errors"
)

const (
	namespace = "tablegate"

	MetricOperations        = "operations_total"
	MetricRowsWritten       = "rows_written_total"
	MetricNotifications     = "notifications_total"
	MetricDependentMisses   = "dependent_misses_total"
	MetricTransportErrors   = "transport_errors_total"
	MetricBatchRollbacks    = "batch_rollbacks_total"
	MetricNotificationsDrop = "notifications_dropped_total"
)

// CounterOperations counts gateway calls by operation and outcome
// ("ok" or an error code).
var CounterOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricOperations,
		Help:      "Gateway operations by kind and outcome.",
	},
	[]string{"op", "outcome"},
)

var CounterRowsWritten = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRowsWritten,
		Help:      "Rows inserted, updated or deleted.",
	},
	[]string{"type"},
)

// CounterNotifications counts deliveries; kind is "primary" or "dependent".
var CounterNotifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricNotifications,
		Help:      "Change notifications handed to the transport.",
	},
	[]string{"kind"},
)

var CounterDependentMisses = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricDependentMisses,
		Help:      "Dependent tables missing from the catalog during a cascade.",
	},
)

var CounterTransportErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricTransportErrors,
		Help:      "Failed notification deliveries by transport.",
	},
	[]string{"transport"},
)

var CounterNotificationsDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricNotificationsDrop,
		Help:      "Asynchronous notifications dropped because the queue was full.",
	},
)

var CounterBatchRollbacks = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricBatchRollbacks,
		Help:      "Batches rolled back.",
	},
)

func init() {
	prometheus.MustRegister(CounterOperations)
	prometheus.MustRegister(CounterRowsWritten)
	prometheus.MustRegister(CounterNotifications)
	prometheus.MustRegister(CounterDependentMisses)
	prometheus.MustRegister(CounterTransportErrors)
	prometheus.MustRegister(CounterNotificationsDropped)
	prometheus.MustRegister(CounterBatchRollbacks)
}

// Outcome is the operations label for err: "ok", its error code, or
// "error" for uncoded failures.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if c := errors.CodeOf(err); c != "" {
		return string(c)
	}
	return "error"
}
