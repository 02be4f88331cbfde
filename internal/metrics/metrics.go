// Package metrics provides Prometheus metrics for the process pool.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "procpool"

// Values of the result label on commands_ended_total.
const (
	ResultSuccess    = "success"
	ResultFailure    = "failure"
	ResultSpawnError = "spawn_error"
)

var (
	poolRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "running",
		Help:      "Processes currently admitted and not yet cleaned up",
	})

	poolQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "queued",
		Help:      "Commands waiting for admission",
	})

	poolMaxConcurrency = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "max_concurrency",
		Help:      "Admission cap, 0 meaning unbounded",
	})

	commandsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_started_total",
		Help:      "Processes spawned successfully",
	})

	commandsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_ended_total",
		Help:      "Commands that reached the ended state, by result",
	}, []string{"result"})

	commandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_duration_seconds",
		Help:      "Wall time from spawn to exit",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	})
)

// SetPoolState publishes the pool's current occupancy.
func SetPoolState(running, queued, maxConcurrency int) {
	poolRunning.Set(float64(running))
	poolQueued.Set(float64(queued))
	poolMaxConcurrency.Set(float64(maxConcurrency))
}

// SetMaxConcurrency updates only the admission cap gauge.
func SetMaxConcurrency(n int) {
	poolMaxConcurrency.Set(float64(n))
}

// RecordStarted counts a successful spawn.
func RecordStarted() {
	commandsStarted.Inc()
}

// RecordEnded counts a process exit and observes its run time.
func RecordEnded(exitCode int, duration time.Duration) {
	result := ResultSuccess
	if exitCode != 0 {
		result = ResultFailure
	}
	commandsEnded.WithLabelValues(result).Inc()
	commandDuration.Observe(duration.Seconds())
}

// RecordSpawnFailure counts a command that never started.
func RecordSpawnFailure() {
	commandsEnded.WithLabelValues(ResultSpawnError).Inc()
}
