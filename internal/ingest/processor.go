package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/malbeclabs/s3-batcher/internal/batch"
	"github.com/malbeclabs/s3-batcher/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// Processor turns one notification into one batch entry.
type Processor struct {
	extractor Extractor
	store     EntryAdder
	log       *slog.Logger
	metrics   *IngestMetrics
}

type ProcessorOption func(*Processor)

func WithProcessorLogger(log *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.log = log
	}
}

func WithProcessorMetrics(metrics *IngestMetrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = metrics
	}
}

func NewProcessor(extractor Extractor, store EntryAdder, opts ...ProcessorOption) (*Processor, error) {
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}

	p := &Processor{
		extractor: extractor,
		store:     store,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if p.metrics == nil {
		p.metrics = NewIngestMetrics(nil)
	}
	return p, nil
}

// Process reads the object behind n, flattens it and adds it to the store. A
// payload that is not a valid event returns an error wrapping
// model.ErrMalformedEvent.
func (p *Processor) Process(ctx context.Context, n model.Notification) error {
	timer := prometheus.NewTimer(p.metrics.ExtractDuration)
	data, err := p.extractor.Extract(ctx, n.Bucket, n.Key)
	timer.ObserveDuration()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", n.URI(), err)
	}

	event, err := model.ParseEvent(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", n.URI(), err)
	}

	payload, err := json.Marshal(Transform(event, n))
	if err != nil {
		return fmt.Errorf("failed to encode record for %s: %w", n.URI(), err)
	}

	p.store.Add(batch.Entry{
		Partition: batch.NewPartition(event.Request.Source, n.Created),
		Created:   n.Created,
		Payload:   string(payload),
	})
	p.metrics.RecordsIngested.Inc()
	p.log.Debug("processor: added record", "uri", n.URI(), "source", event.Request.Source, "id", event.Response.ID)

	return nil
}
