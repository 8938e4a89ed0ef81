package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type SinkMetrics struct {
	WriteDuration *prometheus.HistogramVec
	BytesWritten  *prometheus.CounterVec
}

func NewSinkMetrics(reg prometheus.Registerer) *SinkMetrics {
	factory := promauto.With(reg)

	return &SinkMetrics{
		WriteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "s3_batcher",
			Name:      "sink_write_duration_seconds",
			Help:      "Duration of sink writes in seconds",
		}, []string{"sink"}),
		BytesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s3_batcher",
			Name:      "sink_bytes_written_total",
			Help:      "Total number of bytes written by the sink",
		}, []string{"sink"}),
	}
}
