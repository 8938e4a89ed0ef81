package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/s3-batcher/internal/batch"
	"github.com/malbeclabs/s3-batcher/internal/batcher"
	"github.com/malbeclabs/s3-batcher/internal/ingest"
	"github.com/malbeclabs/s3-batcher/internal/server"
	"github.com/malbeclabs/s3-batcher/internal/sink"
	flag "github.com/spf13/pflag"
)

// Config holds the application configuration.
type Config struct {
	ShowVersion bool
	Verbose     bool
	ListenAddr  string

	// AWS configuration
	AWSEndpoint        string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// Input configuration
	Input         string // "sqs" or "kafka"
	InputQueueURL string
	SQSWaitTime   time.Duration

	// Kafka configuration
	KafkaBrokers     []string
	KafkaTopic       string
	KafkaGroup       string
	KafkaAuthType    ingest.KafkaAuthType
	KafkaUser        string
	KafkaPassword    string
	KafkaTLSDisabled bool

	// Output configuration
	Output           string // "s3", "clickhouse" or "stdout"
	OutputBucketName string
	OutputPrefix     string
	OutputGzip       bool

	// ClickHouse configuration
	ClickhouseAddr        string
	ClickhouseDB          string
	ClickhouseTable       string
	ClickhouseUser        string
	ClickhousePassword    string
	ClickhouseTLSDisabled bool

	// Batching configuration
	MaxBatchSize          int
	MaxBatchAge           time.Duration
	IngestInterval        time.Duration
	FlushInterval         time.Duration
	FlushInitialDelay     time.Duration
	TaskTimeout           time.Duration
	ShutdownTimeout       time.Duration
	ShutdownFlushAttempts int
	DedupeTTL             time.Duration
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(getenv(key, "")); err == nil {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v, err := strconv.Atoi(getenv(key, "")); err == nil {
		return v
	}
	return def
}

func loadConfig(args []string) (Config, error) {
	var cfg Config
	var kafkaAuthType string

	fs := flag.NewFlagSet("s3-batcher", flag.ContinueOnError)

	fs.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "verbose mode - show debug logs")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", getenv("LISTEN_ADDR", server.DefaultAddr), "admin server address (env: LISTEN_ADDR)")

	// AWS configuration
	fs.StringVar(&cfg.AWSEndpoint, "aws-endpoint", getenv("LOCALSTACK_ENDPOINT", getenv("AWS_ENDPOINT_URL", "")), "override AWS endpoint, e.g. localstack (env: LOCALSTACK_ENDPOINT, AWS_ENDPOINT_URL)")
	fs.StringVar(&cfg.AWSRegion, "aws-region", getenv("AWS_REGION", "us-east-1"), "AWS region (env: AWS_REGION)")
	cfg.AWSAccessKeyID = getenv("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = getenv("AWS_SECRET_ACCESS_KEY", "")

	// Input configuration
	fs.StringVar(&cfg.Input, "input", getenv("INPUT", "sqs"), "notification source: sqs or kafka (env: INPUT)")
	fs.StringVar(&cfg.InputQueueURL, "input-queue-url", getenv("INPUT_QUEUE_URL", ""), "SQS queue receiving S3 event notifications (env: INPUT_QUEUE_URL)")
	fs.DurationVar(&cfg.SQSWaitTime, "sqs-wait-time", getenvDuration("SQS_WAIT_TIME", 5*time.Second), "SQS long-poll wait time (env: SQS_WAIT_TIME)")

	// Kafka configuration
	kafkaBrokersStr := getenv("KAFKA_BROKERS", "localhost:9092")
	fs.StringSliceVar(&cfg.KafkaBrokers, "kafka-brokers", strings.Split(kafkaBrokersStr, ","), "kafka broker addresses (env: KAFKA_BROKERS)")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", getenv("KAFKA_TOPIC", "s3-notifications"), "kafka topic (env: KAFKA_TOPIC)")
	fs.StringVar(&cfg.KafkaGroup, "kafka-group", getenv("KAFKA_GROUP", "s3-batcher"), "kafka consumer group (env: KAFKA_GROUP)")
	fs.StringVar(&kafkaAuthType, "kafka-auth-type", getenv("KAFKA_AUTH_TYPE", "none"), "kafka auth type: none, scram or aws-msk (env: KAFKA_AUTH_TYPE)")
	fs.StringVar(&cfg.KafkaUser, "kafka-user", getenv("KAFKA_USER", ""), "kafka SCRAM username (env: KAFKA_USER)")
	fs.StringVar(&cfg.KafkaPassword, "kafka-password", getenv("KAFKA_PASSWORD", ""), "kafka SCRAM password (env: KAFKA_PASSWORD)")
	fs.BoolVar(&cfg.KafkaTLSDisabled, "kafka-tls-disabled", getenv("KAFKA_TLS_DISABLED", "") == "true", "disable TLS for kafka (env: KAFKA_TLS_DISABLED)")

	// Output configuration
	fs.StringVar(&cfg.Output, "output", getenv("OUTPUT", "s3"), "batch destination: s3, clickhouse or stdout (env: OUTPUT)")
	fs.StringVar(&cfg.OutputBucketName, "output-bucket-name", getenv("OUTPUT_BUCKET_NAME", ""), "bucket receiving batch objects (env: OUTPUT_BUCKET_NAME)")
	fs.StringVar(&cfg.OutputPrefix, "output-prefix", getenv("OUTPUT_PREFIX", sink.DefaultS3Prefix), "key prefix for batch objects (env: OUTPUT_PREFIX)")
	fs.BoolVar(&cfg.OutputGzip, "output-gzip", getenv("OUTPUT_GZIP", "") == "true", "gzip batch objects (env: OUTPUT_GZIP)")

	// ClickHouse configuration
	fs.StringVar(&cfg.ClickhouseAddr, "clickhouse-addr", getenv("CLICKHOUSE_ADDR", "localhost:9440"), "clickhouse address (env: CLICKHOUSE_ADDR)")
	fs.StringVar(&cfg.ClickhouseDB, "clickhouse-db", getenv("CLICKHOUSE_DB", "default"), "clickhouse database (env: CLICKHOUSE_DB)")
	fs.StringVar(&cfg.ClickhouseTable, "clickhouse-table", getenv("CLICKHOUSE_TABLE", "records"), "clickhouse table (env: CLICKHOUSE_TABLE)")
	fs.StringVar(&cfg.ClickhouseUser, "clickhouse-user", getenv("CLICKHOUSE_USER", "default"), "clickhouse username (env: CLICKHOUSE_USER)")
	fs.StringVar(&cfg.ClickhousePassword, "clickhouse-password", getenv("CLICKHOUSE_PASS", ""), "clickhouse password (env: CLICKHOUSE_PASS)")
	fs.BoolVar(&cfg.ClickhouseTLSDisabled, "clickhouse-tls-disabled", getenv("CLICKHOUSE_TLS_DISABLED", "") == "true", "disable TLS for clickhouse (env: CLICKHOUSE_TLS_DISABLED)")

	// Batching configuration
	fs.IntVar(&cfg.MaxBatchSize, "max-batch-size", getenvInt("MAX_BATCH_SIZE", batch.DefaultMaxBatchSize), "records that make a batch ready (env: MAX_BATCH_SIZE)")
	fs.DurationVar(&cfg.MaxBatchAge, "max-batch-age", getenvDuration("MAX_BATCH_AGE", batch.DefaultMaxBatchAge), "oldest record age that makes a batch ready (env: MAX_BATCH_AGE)")
	fs.DurationVar(&cfg.IngestInterval, "ingest-interval", getenvDuration("INGEST_INTERVAL", batcher.DefaultIngestInterval), "pause between ingestion runs (env: INGEST_INTERVAL)")
	fs.DurationVar(&cfg.FlushInterval, "flush-interval", getenvDuration("FLUSH_INTERVAL", batcher.DefaultFlushInterval), "pause between flush cycles (env: FLUSH_INTERVAL)")
	fs.DurationVar(&cfg.FlushInitialDelay, "flush-initial-delay", getenvDuration("FLUSH_INITIAL_DELAY", batcher.DefaultFlushInitialDelay), "delay before the first flush cycle (env: FLUSH_INITIAL_DELAY)")
	fs.DurationVar(&cfg.TaskTimeout, "task-timeout", getenvDuration("TASK_TIMEOUT", 0), "bound on one ingestion or flush run, 0 for none (env: TASK_TIMEOUT)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", getenvDuration("SHUTDOWN_TIMEOUT", batcher.DefaultShutdownTimeout), "bound on the forced flush at shutdown (env: SHUTDOWN_TIMEOUT)")
	fs.IntVar(&cfg.ShutdownFlushAttempts, "shutdown-flush-attempts", getenvInt("SHUTDOWN_FLUSH_ATTEMPTS", 2), "attempts per batch during the forced flush (env: SHUTDOWN_FLUSH_ATTEMPTS)")
	fs.DurationVar(&cfg.DedupeTTL, "dedupe-ttl", getenvDuration("DEDUPE_TTL", 15*time.Minute), "how long ingested notifications are remembered (env: DEDUPE_TTL)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.ShowVersion {
		return cfg, nil
	}

	authType, err := ingest.ParseKafkaAuthType(strings.ToLower(kafkaAuthType))
	if err != nil {
		return Config{}, err
	}
	cfg.KafkaAuthType = authType

	switch cfg.Input {
	case "sqs":
		if cfg.InputQueueURL == "" {
			return Config{}, fmt.Errorf("input queue url is required for sqs input")
		}
	case "kafka":
		// valid
	default:
		return Config{}, fmt.Errorf("invalid input type: %s (must be sqs or kafka)", cfg.Input)
	}

	switch cfg.Output {
	case "s3":
		if cfg.OutputBucketName == "" {
			return Config{}, fmt.Errorf("output bucket name is required for s3 output")
		}
	case "clickhouse", "stdout":
		// valid
	default:
		return Config{}, fmt.Errorf("invalid output type: %s (must be s3, clickhouse or stdout)", cfg.Output)
	}

	policy := batch.Policy{MaxSize: cfg.MaxBatchSize, MaxAge: cfg.MaxBatchAge}
	if err := policy.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
