package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsNamespace = "s3_batcher"

type WriterMetrics struct {
	BufferedBatches prometheus.Gauge
	ReadyBatches    *prometheus.CounterVec
	BatchesWritten  prometheus.Counter
	RecordsWritten  prometheus.Counter
	WriteErrors     prometheus.Counter
	FlushFailures   prometheus.Counter
	CycleDuration   prometheus.Histogram
}

// NewWriterMetrics creates writer metrics registered with reg. A nil reg
// leaves them unregistered.
func NewWriterMetrics(reg prometheus.Registerer) *WriterMetrics {
	factory := promauto.With(reg)

	return &WriterMetrics{
		BufferedBatches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "buffered_batches",
			Help:      "Number of batches held in the store at the last flush cycle",
		}),
		ReadyBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "ready_batches_total",
			Help:      "Total number of batches found ready, by trigger",
		}, []string{"reason"}),
		BatchesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "batches_written_total",
			Help:      "Total number of batches written to the sink",
		}),
		RecordsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "records_written_total",
			Help:      "Total number of records written to the sink",
		}),
		WriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "sink_write_errors_total",
			Help:      "Total number of failed sink writes",
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "forced_flush_failures_total",
			Help:      "Total number of batches abandoned by the shutdown flush",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "flush_cycle_duration_seconds",
			Help:      "Duration of a flush cycle in seconds",
		}),
	}
}
