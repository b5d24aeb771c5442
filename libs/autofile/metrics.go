package autofile

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "file_group"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of head rotations.
	Rotations metrics.Counter
	// Number of segment files removed by the retention check.
	PrunedFiles metrics.Counter
	// Total size in bytes of all files in the group, as of the last check.
	TotalSize metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Rotations: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rotations",
			Help:      "Number of times the head file was rotated into a segment.",
		}, labels).With(labelsAndValues...),
		PrunedFiles: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pruned_files",
			Help:      "Number of segment files deleted to honor the total size limit.",
		}, labels).With(labelsAndValues...),
		TotalSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "total_size_bytes",
			Help:      "Size of all files in the group.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Rotations:   discard.NewCounter(),
		PrunedFiles: discard.NewCounter(),
		TotalSize:   discard.NewGauge(),
	}
}
