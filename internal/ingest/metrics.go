package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "s3_batcher"

type IngestMetrics struct {
	MessagesReceived      prometheus.Counter
	MessagesAcknowledged  prometheus.Counter
	NotificationsReceived prometheus.Counter
	RecordsIngested       prometheus.Counter
	DuplicatesSkipped     prometheus.Counter
	MalformedEvents       prometheus.Counter
	MalformedMessages     prometheus.Counter
	ProcessErrors         prometheus.Counter
	SupplierErrors        prometheus.Counter
	DeleteErrors          prometheus.Counter
	ExtractDuration       prometheus.Histogram
}

func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	factory := promauto.With(reg)

	return &IngestMetrics{
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received from the input",
		}),
		MessagesAcknowledged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_acknowledged_total",
			Help:      "Total number of messages acknowledged at the input",
		}),
		NotificationsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_received_total",
			Help:      "Total number of object notifications received",
		}),
		RecordsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_ingested_total",
			Help:      "Total number of records added to the batch store",
		}),
		DuplicatesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "duplicate_notifications_total",
			Help:      "Total number of notifications skipped as already ingested",
		}),
		MalformedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "malformed_events_total",
			Help:      "Total number of event payloads that could not be parsed",
		}),
		MalformedMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "malformed_messages_total",
			Help:      "Total number of input messages that were not valid S3 event notifications",
		}),
		ProcessErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "process_errors_total",
			Help:      "Total number of notifications that failed to process and will be redelivered",
		}),
		SupplierErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "supplier_errors_total",
			Help:      "Total number of errors fetching notifications",
		}),
		DeleteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delete_errors_total",
			Help:      "Total number of errors acknowledging messages",
		}),
		ExtractDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "extract_duration_seconds",
			Help:      "Duration of object reads in seconds",
		}),
	}
}
