package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	systemCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskmon",
			Subsystem: "system",
			Name:      "cpu_percent",
			Help:      "System-wide CPU usage over the last refresh interval.",
		},
	)
	systemMemoryUsedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskmon",
			Subsystem: "system",
			Name:      "memory_used_bytes",
			Help:      "System memory in use.",
		},
	)
	processCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskmon",
			Subsystem: "snapshot",
			Name:      "process_count",
			Help:      "Number of processes captured in the latest snapshot.",
		},
	)
	sampleOmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskmon",
			Subsystem: "snapshot",
			Name:      "sample_omissions_total",
			Help:      "Ticks where a whole sampler read produced no usable data.",
		},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "taskmon",
			Subsystem: "refresh",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one full sample-build-diff-publish cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	actionResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmon",
			Subsystem: "action",
			Name:      "results_total",
			Help:      "Lifecycle action results by action and outcome.",
		}, []string{"action", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		systemCPUPercent, systemMemoryUsedBytes, processCount,
		sampleOmissions, cycleDuration, actionResults,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the
// DefaultGatherer. The caller is responsible for wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func SetSystemCPUPercent(v float64) {
	if regOK.Load() {
		systemCPUPercent.Set(v)
	}
}
func SetSystemMemoryUsed(bytes uint64) {
	if regOK.Load() {
		systemMemoryUsedBytes.Set(float64(bytes))
	}
}
func SetProcessCount(n int) {
	if regOK.Load() {
		processCount.Set(float64(n))
	}
}
func IncSampleOmission() {
	if regOK.Load() {
		sampleOmissions.Inc()
	}
}
func ObserveCycleDuration(seconds float64) {
	if regOK.Load() {
		cycleDuration.Observe(seconds)
	}
}
func IncActionResult(action, outcome string) {
	if regOK.Load() {
		actionResults.WithLabelValues(action, outcome).Inc()
	}
}
