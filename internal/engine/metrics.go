package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are exposed on the default Prometheus registry for a caller to
// scrape from its own HTTP handler; the engine itself never serves
// /metrics, per spec.md's non-goal on an HTTP front-end.
var (
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskforge_tool_calls_total",
		Help: "Tool calls executed by a pack loop, by tool name and outcome.",
	}, []string{"tool", "outcome"})

	toolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskforge_tool_call_duration_seconds",
		Help:    "Tool call execution latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	loopSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskforge_loop_steps",
		Help:    "Number of steps a pack loop took before terminating, successfully or not.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 40},
	})
)
