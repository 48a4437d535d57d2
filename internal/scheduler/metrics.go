package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of scheduler tick invocations",
		},
	)

	runsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_runs_dispatched_total",
			Help: "Total number of task runs dispatched, by task type",
		},
		[]string{"task_type"},
	)

	runsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_runs_dropped_total",
			Help: "Total number of runs dropped due to worker pool saturation",
		},
	)

	runOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_run_outcomes_total",
			Help: "Total number of completed runs, by outcome",
		},
		[]string{"outcome"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_run_duration_seconds",
			Help:    "Duration of a task run from dispatch to lifecycle completion",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"task_type"},
	)

	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_active_runs",
			Help: "Number of runs currently in flight",
		},
	)
)
