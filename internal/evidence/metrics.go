package evidence

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "evidence_pool"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of evidence in the pending cache
	NumEvidence metrics.Gauge
	// Number of pending evidence removed because it expired
	NumPruned metrics.Counter
	// Number of evidence marked as committed
	NumCommitted metrics.Counter
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

		NumEvidence: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "num_evidence",
			Help:      "Number of pending evidence in evidence pool.",
		}, labels).With(labelsAndValues...),
		NumPruned: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "num_pruned",
			Help:      "Number of expired pending evidence removed from the pool.",
		}, labels).With(labelsAndValues...),
		NumCommitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "num_committed",
			Help:      "Number of evidence marked as committed.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		NumEvidence:  discard.NewGauge(),
		NumPruned:    discard.NewCounter(),
		NumCommitted: discard.NewCounter(),
	}
}
