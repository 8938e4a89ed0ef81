package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/malbeclabs/s3-batcher/internal/batch"
)

// StdoutSink writes each record as a JSON line, for local runs.
type StdoutSink struct {
	mu      sync.Mutex
	writer  io.Writer
	encoder *json.Encoder
}

type StdoutOption func(*StdoutSink)

// WithWriter sets a custom writer (defaults to os.Stdout).
func WithWriter(w io.Writer) StdoutOption {
	return func(s *StdoutSink) {
		s.writer = w
	}
}

func NewStdoutSink(opts ...StdoutOption) *StdoutSink {
	s := &StdoutSink{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.encoder = json.NewEncoder(s.writer)
	return s
}

type stdoutLine struct {
	Source string          `json:"source"`
	Date   batch.Date      `json:"date"`
	Record json.RawMessage `json:"record"`
}

func (s *StdoutSink) Write(ctx context.Context, b batch.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range b.Records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := stdoutLine{Source: b.Partition.Source, Date: b.Partition.Date, Record: json.RawMessage(record)}
		if !json.Valid(line.Record) {
			raw, err := json.Marshal(record)
			if err != nil {
				return err
			}
			line.Record = raw
		}
		if err := s.encoder.Encode(line); err != nil {
			return err
		}
	}
	return nil
}
