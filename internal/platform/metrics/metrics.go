// Package metrics exposes Prometheus metrics for the progress service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p-n-ai/pai-progress/internal/progress"
)

var (
	// LessonCompletions counts completion commands by result (ok, failed).
	LessonCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_lesson_completions_total",
		Help: "Lesson completion commands by result",
	}, []string{"result"})

	// ProgressFetchFailures counts snapshot fetches that failed.
	ProgressFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "progress_fetch_failures_total",
		Help: "Progress snapshot fetches that failed",
	})

	// AccessChecks counts access gate decisions by outcome (allowed, denied).
	AccessChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_access_checks_total",
		Help: "Lesson access checks by outcome",
	}, []string{"outcome"})

	// RequestDuration tracks API handler latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "progress_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
	}, []string{"route", "status"})
)

// Hooks returns engine hooks that update the completion and fetch counters.
func Hooks() progress.Hooks {
	return progress.Hooks{
		OnCompleted: func(string, string, progress.Receipt) {
			LessonCompletions.WithLabelValues("ok").Inc()
		},
		OnCompleteFailed: func(string, string, string, error) {
			LessonCompletions.WithLabelValues("failed").Inc()
		},
		OnFetchFailed: func(string, string, error) {
			ProgressFetchFailures.Inc()
		},
	}
}

// ObserveAccess records an access gate decision.
func ObserveAccess(allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	AccessChecks.WithLabelValues(outcome).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
