// Package metrics exposes Prometheus instrumentation for the compensation service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ksred/klear-compensation/internal/netting"
)

const (
	namespace = "klear"
	subsystem = "compensation"
)

var (
	// Optimization metrics
	optimizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "optimizations_total",
			Help:      "Total optimization runs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	optimizationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "optimization_duration_seconds",
			Help:      "Duration of optimization runs",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"mode"},
	)

	matchesProposed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "matches_proposed_total",
			Help:      "Total matches returned by optimization runs",
		},
	)

	proposedValue = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "proposed_value_total",
			Help:      "Total value moved by proposed matches",
		},
	)

	participantsExcluded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "participants_excluded_total",
			Help:      "Total participants excluded by data screening",
		},
	)

	// Schedule metrics
	stepsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "schedule_steps_completed_total",
			Help:      "Total schedule steps completed",
		},
	)

	matchTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "match_transitions_total",
			Help:      "Total match status transitions by target status",
		},
		[]string{"status"},
	)

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
		},
		[]string{"method", "path"},
	)
)

// RecordOptimization records one engine run. mode is "evaluate" or "run".
func RecordOptimization(mode string, elapsed time.Duration, result *netting.Result, err error) {
	optimizationDuration.WithLabelValues(mode).Observe(elapsed.Seconds())

	outcome := "matched"
	switch {
	case err != nil:
		outcome = "error"
	case len(result.Matches) == 0:
		outcome = "no_matches"
	}
	optimizationsTotal.WithLabelValues(mode, outcome).Inc()
	if err != nil {
		return
	}

	matchesProposed.Add(float64(len(result.Matches)))
	proposedValue.Add(result.Statistics.TotalValue)
	participantsExcluded.Add(float64(len(result.Exclusions)))
}

func RecordStepsCompleted(n int) {
	if n > 0 {
		stepsCompleted.Add(float64(n))
	}
}

func RecordMatchTransition(status string) {
	matchTransitions.WithLabelValues(status).Inc()
}

// Middleware counts and times requests by route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
