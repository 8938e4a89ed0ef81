package batcher

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/s3-batcher/internal/schedule"
)

const (
	DefaultIngestInterval    = 5 * time.Second
	DefaultFlushInterval     = 20 * time.Second
	DefaultFlushInitialDelay = 2 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
)

// Ingester runs one ingestion unit of work.
type Ingester interface {
	Handle(ctx context.Context) error
}

// BatchWriter is the flush side of the service.
type BatchWriter interface {
	Write(ctx context.Context) error
	Flush(ctx context.Context) error
}

type Config struct {
	Ingester Ingester
	Writer   BatchWriter

	// Optional configuration.
	IngestInterval    time.Duration
	FlushInterval     time.Duration
	FlushInitialDelay time.Duration
	TaskTimeout       time.Duration // bound on a single ingest or flush cycle, zero for none
	ShutdownTimeout   time.Duration // bound on the forced flush at shutdown
	Clock             clockwork.Clock
	LoopMetrics       *schedule.LoopMetrics
}

func (c *Config) Validate() error {
	if c.Ingester == nil {
		return errors.New("ingester is required")
	}
	if c.Writer == nil {
		return errors.New("writer is required")
	}
	if c.IngestInterval < 0 || c.FlushInterval < 0 || c.FlushInitialDelay < 0 {
		return errors.New("intervals must not be negative")
	}
	if c.TaskTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}

	// Optional configuration.
	if c.IngestInterval == 0 {
		c.IngestInterval = DefaultIngestInterval
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.LoopMetrics == nil {
		c.LoopMetrics = schedule.NewLoopMetrics(nil)
	}
	return nil
}
