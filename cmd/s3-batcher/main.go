package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/malbeclabs/s3-batcher/internal/batch"
	"github.com/malbeclabs/s3-batcher/internal/batcher"
	"github.com/malbeclabs/s3-batcher/internal/ingest"
	"github.com/malbeclabs/s3-batcher/internal/schedule"
	"github.com/malbeclabs/s3-batcher/internal/server"
	"github.com/malbeclabs/s3-batcher/internal/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLoggerWithWriter(logWriter(cfg.Output), cfg.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: batch.MetricsNamespace,
		Name:      "build_info",
		Help:      "Build information for s3-batcher",
	}, []string{"version", "commit", "date"})
	reg.MustRegister(buildInfo)
	buildInfo.WithLabelValues(version, commit, date).Set(1)

	ingestMetrics := ingest.NewIngestMetrics(reg)
	sinkMetrics := sink.NewSinkMetrics(reg)

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
			o.UsePathStyle = true
		}
	})

	store := batch.NewStore()

	// Create the sink based on output type
	var out batch.Sink
	switch cfg.Output {
	case "s3":
		out, err = sink.NewS3Sink(s3Client, cfg.OutputBucketName,
			sink.WithS3Prefix(cfg.OutputPrefix),
			sink.WithS3Gzip(cfg.OutputGzip),
			sink.WithS3Logger(log),
			sink.WithS3Metrics(sinkMetrics),
		)
	case "clickhouse":
		var cs *sink.ClickhouseSink
		cs, err = sink.NewClickhouseSink(
			sink.WithClickhouseAddr(cfg.ClickhouseAddr),
			sink.WithClickhouseDB(cfg.ClickhouseDB),
			sink.WithClickhouseTable(cfg.ClickhouseTable),
			sink.WithClickhouseUser(cfg.ClickhouseUser),
			sink.WithClickhousePassword(cfg.ClickhousePassword),
			sink.WithClickhouseTLSDisabled(cfg.ClickhouseTLSDisabled),
			sink.WithClickhouseLogger(log),
			sink.WithClickhouseMetrics(sinkMetrics),
		)
		if err == nil {
			defer cs.Close()
			out = cs
		}
	case "stdout":
		out = sink.NewStdoutSink(sink.WithWriter(os.Stdout))
	default:
		return fmt.Errorf("unknown output type: %s", cfg.Output)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s sink: %w", cfg.Output, err)
	}

	writer, err := batch.NewWriter(log, &batch.WriterConfig{
		Store:            store,
		Sink:             out,
		Policy:           batch.Policy{MaxSize: cfg.MaxBatchSize, MaxAge: cfg.MaxBatchAge},
		ShutdownAttempts: cfg.ShutdownFlushAttempts,
		Metrics:          batch.NewWriterMetrics(reg),
	})
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}

	// Create the notification supplier based on input type
	var supplier interface {
		ingest.Supplier
		ingest.Deleter
	}
	switch cfg.Input {
	case "sqs":
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWSEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
			}
		})
		supplier, err = ingest.NewSQSSupplier(log, &ingest.SQSConfig{
			Client:   sqsClient,
			QueueURL: cfg.InputQueueURL,
			WaitTime: cfg.SQSWaitTime,
			Metrics:  ingestMetrics,
		})
	case "kafka":
		var ks *ingest.KafkaSupplier
		ks, err = ingest.NewKafkaSupplier(
			ingest.WithKafkaBrokers(cfg.KafkaBrokers),
			ingest.WithKafkaTopic(cfg.KafkaTopic),
			ingest.WithKafkaConsumerGroup(cfg.KafkaGroup),
			ingest.WithKafkaAuthType(cfg.KafkaAuthType),
			ingest.WithKafkaUser(cfg.KafkaUser),
			ingest.WithKafkaPassword(cfg.KafkaPassword),
			ingest.WithKafkaTLSDisabled(cfg.KafkaTLSDisabled),
			ingest.WithKafkaLogger(log),
			ingest.WithKafkaMetrics(ingestMetrics),
		)
		if err == nil {
			defer ks.Close()
			supplier = ks
		}
	default:
		return fmt.Errorf("unknown input type: %s", cfg.Input)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s supplier: %w", cfg.Input, err)
	}

	extractor, err := ingest.NewS3Extractor(s3Client)
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}
	processor, err := ingest.NewProcessor(extractor, store,
		ingest.WithProcessorLogger(log),
		ingest.WithProcessorMetrics(ingestMetrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}
	handler, err := ingest.NewHandler(log, &ingest.HandlerConfig{
		Supplier:  supplier,
		Processor: processor,
		Deleter:   supplier,
		DedupeTTL: cfg.DedupeTTL,
		Metrics:   ingestMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	svc, err := batcher.New(log, batcher.Config{
		Ingester:          handler,
		Writer:            writer,
		IngestInterval:    cfg.IngestInterval,
		FlushInterval:     cfg.FlushInterval,
		FlushInitialDelay: cfg.FlushInitialDelay,
		TaskTimeout:       cfg.TaskTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		LoopMetrics:       schedule.NewLoopMetrics(reg),
	})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	srv, err := server.New(log, server.Config{
		Summariser: batch.NewSummariser(store),
		Ready:      svc.Running,
		Addr:       cfg.ListenAddr,
		Gatherer:   reg,
		Metrics:    server.NewHTTPMetrics(reg),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	defer listener.Close()

	// The server outlives the service so /readyz reports the shutdown.
	srvCtx, srvCancel := context.WithCancel(context.Background())
	defer srvCancel()
	srvErrCh := srv.Start(srvCtx, listener)

	log.Info("starting s3-batcher",
		"version", version,
		"input", cfg.Input,
		"output", cfg.Output,
		"max_batch_size", cfg.MaxBatchSize,
		"max_batch_age", cfg.MaxBatchAge,
	)

	svcCtx, svcCancel := context.WithCancel(ctx)
	defer svcCancel()
	svcErrCh := make(chan error, 1)
	go func() {
		svcErrCh <- svc.Run(svcCtx)
	}()

	var srvErr error
	select {
	case err := <-svcErrCh:
		srvCancel()
		if err != nil {
			return fmt.Errorf("service error: %w", err)
		}
		return nil
	case err, ok := <-srvErrCh:
		if ok && err != nil {
			srvErr = fmt.Errorf("server error: %w", err)
		}
		svcCancel()
	}

	err = <-svcErrCh
	if err != nil {
		err = fmt.Errorf("service error: %w", err)
	}
	return errors.Join(srvErr, err)
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// logWriter keeps logs off stdout when batches are written there.
func logWriter(output string) io.Writer {
	if output == "stdout" {
		return os.Stderr
	}
	return os.Stdout
}

func newLoggerWithWriter(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
