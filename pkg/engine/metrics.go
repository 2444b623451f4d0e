package engine

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alexandremahdhaoui/labforge/pkg/check"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labforge_runs_total",
		Help: "Number of completed challenge runs by outcome.",
	}, []string{"outcome"})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "labforge_run_duration_seconds",
		Help:    "Wall-clock duration of challenge runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	checkResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labforge_check_results_total",
		Help: "Number of executed validation checks by type and result.",
	}, []string{"type", "passed"})
)

func observeRun(rep *RunReport) {
	runsTotal.WithLabelValues(string(rep.Outcome)).Inc()
	runDurationSeconds.Observe(rep.EndTime.Sub(rep.StartTime).Seconds())
}

func observeCheck(res check.Result) {
	checkResultsTotal.WithLabelValues(res.Type, strconv.FormatBool(res.Passed)).Inc()
}
