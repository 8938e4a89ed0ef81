package sink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/malbeclabs/s3-batcher/internal/batch"
	"github.com/prometheus/client_golang/prometheus"
)

// appendBatch is the subset of driver.Batch used here.
type appendBatch interface {
	Append(v ...any) error
	Send() error
	Close() error
}

type batchPreparer interface {
	PrepareBatch(ctx context.Context, query string) (appendBatch, error)
}

type connPreparer struct {
	conn clickhouse.Conn
}

func (c connPreparer) PrepareBatch(ctx context.Context, query string) (appendBatch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

type ClickhouseOption func(*ClickhouseSink)

// ClickhouseSink inserts each batch as one ClickHouse batch insert, one row per
// record, into a table with columns (source, date, oldest_record, record).
type ClickhouseSink struct {
	db         string
	table      string
	addr       string
	user       string
	pass       string
	disableTLS bool
	conn       clickhouse.Conn
	preparer   batchPreparer
	log        *slog.Logger
	metrics    *SinkMetrics
}

func WithClickhouseLogger(log *slog.Logger) ClickhouseOption {
	return func(cs *ClickhouseSink) {
		cs.log = log
	}
}

func WithClickhouseDB(db string) ClickhouseOption {
	return func(cs *ClickhouseSink) {
		cs.db = db
	}
}

func WithClickhouseTable(table string) ClickhouseOption {
	return func(cs *ClickhouseSink) {
		cs.table = table
	}
}

func WithClickhouseUser(user string) ClickhouseOption {
	return func(cs *ClickhouseSink) {
		cs.user = user
	}
}

func WithClickhousePassword(pass string) ClickhouseOption {
	return func(cs *ClickhouseSink) {
		cs.pass = pass
	}
}

func WithClickhouseAddr(addr string) ClickhouseOption {
	return func(cs *ClickhouseSink) {
		cs.addr = addr
	}
}

func WithClickhouseTLSDisabled(disableTLS bool) ClickhouseOption {
	return func(cs *ClickhouseSink) {
		cs.disableTLS = disableTLS
	}
}

func WithClickhouseMetrics(metrics *SinkMetrics) ClickhouseOption {
	return func(cs *ClickhouseSink) {
		cs.metrics = metrics
	}
}

// withBatchPreparer is used for testing to skip opening a connection.
func withBatchPreparer(p batchPreparer) ClickhouseOption {
	return func(cs *ClickhouseSink) {
		cs.preparer = p
	}
}

func NewClickhouseSink(opts ...ClickhouseOption) (*ClickhouseSink, error) {
	cs := &ClickhouseSink{
		user:  "default",
		pass:  "default",
		addr:  "localhost:9440",
		db:    "default",
		table: "records",
	}
	for _, opt := range opts {
		opt(cs)
	}
	if cs.log == nil {
		cs.log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if cs.metrics == nil {
		cs.metrics = NewSinkMetrics(nil)
	}
	if cs.db == "" || cs.table == "" {
		return nil, errors.New("clickhouse database and table are required")
	}

	if cs.preparer != nil {
		return cs, nil
	}

	chOpts := &clickhouse.Options{
		Addr: []string{cs.addr},
		Auth: clickhouse.Auth{
			Database: cs.db,
			Username: cs.user,
			Password: cs.pass,
		},
	}
	if !cs.disableTLS {
		chOpts.TLS = &tls.Config{}
	}
	conn, err := clickhouse.Open(chOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	cs.conn = conn
	cs.preparer = connPreparer{conn: conn}
	return cs, nil
}

func (cs *ClickhouseSink) Write(ctx context.Context, b batch.Batch) error {
	if b.Len() == 0 {
		return nil
	}

	chBatch, err := cs.preparer.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s (source, date, oldest_record, record)", cs.db, cs.table))
	if err != nil {
		return fmt.Errorf("error beginning clickhouse batch: %w", err)
	}

	d := b.Partition.Date
	date := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	for _, record := range b.Records {
		if err := chBatch.Append(b.Partition.Source, date, b.OldestRecord.UTC(), record); err != nil {
			_ = chBatch.Close()
			return fmt.Errorf("error appending to clickhouse batch: %w", err)
		}
	}

	timer := prometheus.NewTimer(cs.metrics.WriteDuration.WithLabelValues("clickhouse"))
	if err := chBatch.Send(); err != nil {
		_ = chBatch.Close()
		return fmt.Errorf("error sending clickhouse batch: %w", err)
	}
	timer.ObserveDuration()

	if err := chBatch.Close(); err != nil {
		return fmt.Errorf("error closing clickhouse batch: %w", err)
	}
	cs.log.Info("clickhouse: wrote batch", "partition", b.Partition, "records", b.Len())
	return nil
}

func (cs *ClickhouseSink) Close() error {
	if cs.conn == nil {
		return nil
	}
	return cs.conn.Close()
}
