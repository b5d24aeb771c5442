package consensus

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "consensus"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of records appended to the WAL.
	WALRecordsWritten metrics.Counter
	// Number of framed bytes appended to the WAL.
	WALBytesWritten metrics.Counter
	// Number of WAL writes or flushes which failed and were dropped.
	WALWriteErrors metrics.Counter
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
		WALRecordsWritten: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "wal_records_written",
			Help:      "Number of records appended to the write-ahead log.",
		}, labels).With(labelsAndValues...),
		WALBytesWritten: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "wal_bytes_written",
			Help:      "Number of framed bytes appended to the write-ahead log.",
		}, labels).With(labelsAndValues...),
		WALWriteErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "wal_write_errors",
			Help:      "Number of write-ahead log writes that failed.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		WALRecordsWritten: discard.NewCounter(),
		WALBytesWritten:   discard.NewCounter(),
		WALWriteErrors:    discard.NewCounter(),
	}
}
