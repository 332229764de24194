package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/drafter/internal/deadline"
	"github.com/seantiz/drafter/internal/model"
)

var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drafter_executions_total",
			Help: "Total number of executions, by runtime and result status.",
		},
		[]string{"runtime", "status"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drafter_execution_duration_seconds",
			Help:    "Wall-clock duration of executions from worker start to result, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	deadlineFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drafter_deadline_fired_total",
			Help: "Total number of deadlines that fired before the worker finished.",
		},
		[]string{"strategy"},
	)

	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drafter_active_workers",
			Help: "Number of workers currently running.",
		},
	)

	logLinesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drafter_log_lines_dropped_total",
			Help: "Total number of log lines not delivered to a slow SSE subscriber.",
		},
	)
)

func init() {
	prometheus.MustRegister(executionsTotal)
	prometheus.MustRegister(executionDuration)
	prometheus.MustRegister(deadlineFired)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(logLinesDropped)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup.
	for _, rt := range []string{model.RuntimeJS, model.RuntimePython, model.RuntimeShell} {
		for _, st := range []string{model.StatusOK, model.StatusTimedOut, model.StatusFailed} {
			executionsTotal.WithLabelValues(rt, st)
		}
	}
	for _, s := range []deadline.Strategy{deadline.StrategyInterrupt, deadline.StrategyWatchdog} {
		deadlineFired.WithLabelValues(string(s))
	}
}
