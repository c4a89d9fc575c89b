// Package metrics holds the Prometheus collectors of the duel server.
package metrics

import (
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func metricLabels() prometheus.Labels {
	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "codeduel"
	}
	instance := os.Getenv("INSTANCE_ID")
	if instance == "" {
		instance, _ = os.Hostname()
	}
	return prometheus.Labels{"service": service, "instance": instance}
}

var (
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duel_ws_connections",
			Help: "Number of open WebSocket connections",
		},
	)

	matchesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duel_matches_created_total",
			Help: "Total number of matches created by the matchmaker",
		},
	)

	matchesEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duel_matches_ended_total",
			Help: "Total number of matches that reached a terminal state",
		},
		[]string{"reason"},
	)

	executionJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duel_execution_jobs_total",
			Help: "Total number of execution jobs processed",
		},
		[]string{"mode", "outcome"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duel_execution_duration_seconds",
			Help:    "Wall clock duration of execution jobs",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"mode"},
	)

	sweepErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duel_sweep_errors_total",
			Help: "Total number of failed background sweep steps",
		},
		[]string{"sweep"},
	)

	registerOnce sync.Once
)

// Init registers all collectors with the default registerer. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		reg := prometheus.WrapRegistererWith(metricLabels(), prometheus.DefaultRegisterer)
		reg.MustRegister(activeConnections)
		reg.MustRegister(matchesCreated)
		reg.MustRegister(matchesEnded)
		reg.MustRegister(executionJobs)
		reg.MustRegister(executionDuration)
		reg.MustRegister(sweepErrors)
	})
}

func ConnectionOpened() { activeConnections.Inc() }

func ConnectionClosed() { activeConnections.Dec() }

func MatchCreated() { matchesCreated.Inc() }

func MatchEnded(reason string) { matchesEnded.WithLabelValues(reason).Inc() }

// ExecutionFinished records one processed job.
func ExecutionFinished(mode string, success bool, elapsed time.Duration) {
	outcome := "failed"
	if success {
		outcome = "passed"
	}
	executionJobs.WithLabelValues(mode, outcome).Inc()
	executionDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func SweepError(sweep string) { sweepErrors.WithLabelValues(sweep).Inc() }
