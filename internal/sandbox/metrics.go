package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/drafter/internal/model"
)

var (
	workersStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drafter_sandbox_workers_started_total",
			Help: "Total number of workers started, by isolation mode.",
		},
		[]string{"isolation"},
	)

	terminationSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drafter_sandbox_termination_signals_total",
			Help: "Total number of termination signals sent to process workers.",
		},
		[]string{"signal"},
	)

	terminationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drafter_termination_failures_total",
			Help: "Total number of workers that survived bounded termination.",
		},
	)
)

func init() {
	prometheus.MustRegister(workersStarted)
	prometheus.MustRegister(terminationSignals)
	prometheus.MustRegister(terminationFailures)

	for _, iso := range []string{model.IsolationProcess, model.IsolationThread} {
		workersStarted.WithLabelValues(iso)
	}
}
