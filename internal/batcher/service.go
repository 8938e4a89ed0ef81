package batcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/malbeclabs/s3-batcher/internal/schedule"
)

// Service runs the ingestion and flush loops against a shared store and owns
// the shutdown sequence.
type Service struct {
	log *slog.Logger
	cfg Config

	ingest *schedule.Loop
	flush  *schedule.Loop

	started atomic.Bool
	running atomic.Bool
}

func New(log *slog.Logger, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Service{
		log: log,
		cfg: cfg,
	}

	var err error
	s.ingest, err = schedule.NewLoop(log, &schedule.LoopConfig{
		Name:     "ingest",
		Task:     schedule.TaskFunc(cfg.Ingester.Handle),
		Interval: cfg.IngestInterval,
		Timeout:  cfg.TaskTimeout,
		Clock:    cfg.Clock,
		Metrics:  cfg.LoopMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest loop: %w", err)
	}

	s.flush, err = schedule.NewLoop(log, &schedule.LoopConfig{
		Name:         "flush",
		Task:         schedule.TaskFunc(cfg.Writer.Write),
		Interval:     cfg.FlushInterval,
		InitialDelay: cfg.FlushInitialDelay,
		Timeout:      cfg.TaskTimeout,
		Clock:        cfg.Clock,
		Metrics:      cfg.LoopMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create flush loop: %w", err)
	}

	return s, nil
}

// Running reports whether both loops have been started and not yet stopped.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Run starts both loops and blocks until ctx is done. It then waits for the
// loops to finish their current cycle and forces a flush of every batch left
// in the store. The flush runs only after both loops have stopped, so no entry
// can be added behind its snapshot.
func (s *Service) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("service already started")
	}

	s.log.Info("Starting batcher",
		"ingestInterval", s.cfg.IngestInterval,
		"flushInterval", s.cfg.FlushInterval,
		"flushInitialDelay", s.cfg.FlushInitialDelay,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	for _, loop := range []*schedule.Loop{s.ingest, s.flush} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop.Run(runCtx); err != nil {
				errCh <- fmt.Errorf("failed to run %s loop: %w", loop.Name(), err)
			}
		}()
	}
	s.running.Store(true)

	var err error
	select {
	case <-ctx.Done():
		s.log.Info("Batcher received shutdown signal, waiting for loops to stop")
	case e := <-errCh:
		s.log.Error("Batcher shutting down due to error", "error", e)
		err = e
	}
	cancel()

	wg.Wait()
	s.running.Store(false)

	if ferr := s.Close(context.WithoutCancel(ctx)); ferr != nil {
		err = errors.Join(err, ferr)
	}

	return err
}

// Close forces a flush of every batch under a fresh ShutdownTimeout.
func (s *Service) Close(ctx context.Context) error {
	s.log.Info("Closing batcher, flushing remaining batches", "timeout", s.cfg.ShutdownTimeout)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.cfg.Writer.Flush(ctx); err != nil {
		s.log.Error("Forced flush failed", "error", err)
		return fmt.Errorf("failed to flush batches on shutdown: %w", err)
	}

	s.log.Info("Batcher stopped")
	return nil
}
