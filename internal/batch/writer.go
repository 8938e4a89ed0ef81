package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultShutdownAttempts = 2
)

var (
	ErrNoStore = errors.New("batch store is required")
	ErrNoSink  = errors.New("sink is required")
)

// Sink persists a whole batch as one unit.
type Sink interface {
	Write(ctx context.Context, b Batch) error
}

type WriterConfig struct {
	Store  *Store
	Sink   Sink
	Policy Policy

	// Optional configuration.
	Clock            clockwork.Clock
	ShutdownAttempts int                   // attempts per batch during a forced flush, defaults to 2
	NewBackOff       func() backoff.BackOff // backoff between forced flush attempts
	Metrics          *WriterMetrics
}

func (c *WriterConfig) Validate() error {
	if c.Store == nil {
		return ErrNoStore
	}
	if c.Sink == nil {
		return ErrNoSink
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid flush policy: %w", err)
	}

	// Optional configuration.
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ShutdownAttempts <= 0 {
		c.ShutdownAttempts = defaultShutdownAttempts
	}
	if c.NewBackOff == nil {
		c.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
	if c.Metrics == nil {
		c.Metrics = NewWriterMetrics(nil)
	}
	return nil
}

// Writer drains ready batches from the store into the sink and commits the
// ones that were written.
type Writer struct {
	log *slog.Logger
	cfg *WriterConfig
}

func NewWriter(log *slog.Logger, cfg *WriterConfig) (*Writer, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Writer{
		log: log,
		cfg: cfg,
	}, nil
}

// Write runs one flush cycle. A failed partition does not stop the others; it
// stays in the store and is retried on the next cycle. The returned error
// joins every partition failure.
func (w *Writer) Write(ctx context.Context) error {
	timer := prometheus.NewTimer(w.cfg.Metrics.CycleDuration)
	defer timer.ObserveDuration()

	batches := w.cfg.Store.Batches()
	now := w.cfg.Clock.Now()
	w.cfg.Metrics.BufferedBatches.Set(float64(len(batches)))

	var errs []error
	for _, b := range batches {
		ready, reason := w.cfg.Policy.Ready(b, now)
		if !ready {
			w.log.Debug("writer: batch not ready", "partition", b.Partition, "records", b.Len(), "age", b.Age(now))
			continue
		}

		log := w.log.With("partition", b.Partition, "records", b.Len(), "reason", reason)
		w.cfg.Metrics.ReadyBatches.WithLabelValues(reason.String()).Inc()

		if err := w.cfg.Sink.Write(ctx, b); err != nil {
			w.cfg.Metrics.WriteErrors.Inc()
			log.Error("writer: failed to write batch, keeping it for the next cycle", "error", err)
			errs = append(errs, fmt.Errorf("failed to write batch %s: %w", b.Partition, err))
			continue
		}

		if !w.cfg.Store.Commit(b) {
			log.Warn("writer: batch was replaced before commit")
		}
		w.cfg.Metrics.BatchesWritten.Inc()
		w.cfg.Metrics.RecordsWritten.Add(float64(b.Len()))
		log.Info("writer: committed batch")
	}

	return errors.Join(errs...)
}

// Flush writes every batch regardless of readiness and leaves the store
// untouched. It is meant for shutdown, after ingestion has stopped. Each batch
// gets ShutdownAttempts tries before it is given up on.
//
// When ctx has a deadline, each batch is bounded by an even share of the time
// left, and each attempt by an even share of its batch's budget, so a sink
// call that hangs only costs its own partition.
func (w *Writer) Flush(ctx context.Context) error {
	batches := w.cfg.Store.Batches()
	w.log.Info("writer: flushing all batches", "batches", len(batches))

	var errs []error
	for i, b := range batches {
		log := w.log.With("partition", b.Partition, "records", b.Len())

		attempts, err := w.flushBatch(ctx, b, len(batches)-i, log)
		if err != nil {
			w.cfg.Metrics.WriteErrors.Inc()
			w.cfg.Metrics.FlushFailures.Inc()
			log.Error("writer: forced flush failed, records will be lost", "attempts", attempts, "error", err)
			errs = append(errs, fmt.Errorf("failed to flush batch %s: %w", b.Partition, err))
			continue
		}

		w.cfg.Metrics.BatchesWritten.Inc()
		w.cfg.Metrics.RecordsWritten.Add(float64(b.Len()))
		log.Info("writer: flushed batch")
	}

	return errors.Join(errs...)
}

// flushBatch writes b with retries. remaining counts b and the batches after it.
func (w *Writer) flushBatch(ctx context.Context, b Batch, remaining int, log *slog.Logger) (int, error) {
	var attemptTimeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		budget := time.Until(deadline) / time.Duration(remaining)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
		attemptTimeout = budget / time.Duration(w.cfg.ShutdownAttempts)
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			log.Warn("writer: retrying forced flush", "attempt", attempt)
		}
		attemptCtx := ctx
		if attemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, attemptTimeout)
			defer cancel()
		}
		return struct{}{}, w.cfg.Sink.Write(attemptCtx, b)
	},
		backoff.WithBackOff(w.cfg.NewBackOff()),
		backoff.WithMaxTries(uint(w.cfg.ShutdownAttempts)),
	)
	return attempt, err
}
