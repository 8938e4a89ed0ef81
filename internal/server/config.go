package server

import (
	"errors"
	"time"

	"github.com/malbeclabs/s3-batcher/internal/batch"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultAddr = ":8080"

	defaultShutdownTimeout = 10 * time.Second
)

// Summariser reports the batches currently held in memory.
type Summariser interface {
	Summary() []batch.Summary
}

type Config struct {
	Summariser Summariser
	// Ready reports whether the batcher loops are running.
	Ready func() bool

	// Optional configuration.
	Addr            string
	ShutdownTimeout time.Duration
	Gatherer        prometheus.Gatherer
	Metrics         *HTTPMetrics
}

func (c *Config) Validate() error {
	if c.Summariser == nil {
		return errors.New("summariser is required")
	}
	if c.Ready == nil {
		return errors.New("readiness func is required")
	}

	// Optional configuration.
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Gatherer == nil {
		c.Gatherer = prometheus.DefaultGatherer
	}
	if c.Metrics == nil {
		c.Metrics = NewHTTPMetrics(nil)
	}
	return nil
}
