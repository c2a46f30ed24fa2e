// Package metrics provides Prometheus metrics for starload runs.
//
// Metrics are registered on the default registry at package init, so any
// component can record without plumbing a collector through. A batch job
// has no scrape endpoint; Push sends the collected values to a Pushgateway
// when the run ends.
//
// # Basic Usage
//
//	metrics.SourceRowsRead.WithLabelValues("orders").Add(float64(n))
//
//	start := time.Now()
//	err := resolve()
//	metrics.ObserveStage("dimension", start, err)
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "starload"

var (
	// SourceRowsRead counts parsed rows per source record set
	SourceRowsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "rows_read_total",
			Help:      "Rows parsed from each source",
		},
		[]string{"source"},
	)

	// SourceRowsMalformed counts cells that failed to parse and were treated as absent
	SourceRowsMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "malformed_cells_total",
			Help:      "Cells that failed to parse and were treated as absent",
		},
		[]string{"source"},
	)

	// ConformEvents counts recovered conform conditions (duplicates, orphans, null fills)
	ConformEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conform",
			Name:      "events_total",
			Help:      "Recovered conform conditions by kind",
		},
		[]string{"event"},
	)

	// DimensionRows counts staged and inserted rows per dimension
	DimensionRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dimension",
			Name:      "rows_total",
			Help:      "Dimension rows by outcome (staged, inserted)",
		},
		[]string{"dimension", "outcome"},
	)

	// FactRows counts fact candidates by outcome (inserted, existing, unresolved)
	FactRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fact",
			Name:      "rows_total",
			Help:      "Fact candidates by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration tracks how long each pipeline stage took
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"stage", "status"},
	)

	// ConnectionAttempts counts connection attempts per target system
	ConnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "attempts_total",
			Help:      "Connection attempts by system and result",
		},
		[]string{"system", "result"},
	)

	// Runs counts finished pipeline runs by status
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished pipeline runs by status",
		},
		[]string{"status"},
	)
)

// Status returns the label value for an outcome
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveStage records the duration of a stage that started at start
func ObserveStage(stage string, start time.Time, err error) {
	StageDuration.WithLabelValues(stage, Status(err)).Observe(time.Since(start).Seconds())
}

// Push sends every metric in the default registry to a Pushgateway,
// grouped under job and the given instance.
func Push(ctx context.Context, gateway, job, instance string) error {
	pusher := push.New(gateway, job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("instance", instance)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gateway, err)
	}
	return nil
}
