// Package metrics exposes Prometheus counters for the launch pipeline
// and the reaper daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	launchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secd_launches_started_total",
		Help: "Total number of launch sequences started.",
	})
	launchesSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secd_launches_succeeded_total",
		Help: "Total number of launch sequences that reached pod creation.",
	})
	launchesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "secd_launches_failed_total",
		Help: "Total number of launch sequences aborted, by error kind.",
	}, []string{"kind"})
	reapedRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secd_reaped_runs_total",
		Help: "Total number of runs terminated by the reaper daemon.",
	})
	reapIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secd_reap_iterations_total",
		Help: "Total number of reaper loop iterations.",
	})
)

// LaunchStarted records the beginning of a launch sequence.
func LaunchStarted() { launchesStarted.Inc() }

// LaunchSucceeded records a launch sequence that reached pod creation.
func LaunchSucceeded() { launchesSucceeded.Inc() }

// LaunchFailed records a launch sequence aborted with the given error
// kind.
func LaunchFailed(kind string) { launchesFailed.WithLabelValues(kind).Inc() }

// ReapedRun records one run terminated by the reaper.
func ReapedRun() { reapedRuns.Inc() }

// ReapIteration records one completed reaper loop pass.
func ReapIteration() { reapIterations.Inc() }

// Handler exposes the process metrics in the Prometheus exposition
// format.
func Handler() http.Handler { return promhttp.Handler() }
