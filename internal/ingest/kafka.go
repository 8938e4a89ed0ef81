package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/malbeclabs/s3-batcher/internal/model"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/aws"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// kafkaClient is the subset of kgo.Client methods we use.
type kafkaClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	CommitMarkedOffsets(ctx context.Context) error
	SetOffsets(offsets map[string]map[int32]kgo.EpochOffset)
	Close()
}

type KafkaAuthType int

const (
	KafkaAuthTypeNone KafkaAuthType = iota
	KafkaAuthTypeSCRAM
	KafkaAuthTypeAWSMSK
)

const defaultKafkaPollTimeout = 5 * time.Second

func ParseKafkaAuthType(s string) (KafkaAuthType, error) {
	switch s {
	case "", "none":
		return KafkaAuthTypeNone, nil
	case "scram":
		return KafkaAuthTypeSCRAM, nil
	case "aws-msk":
		return KafkaAuthTypeAWSMSK, nil
	default:
		return 0, fmt.Errorf("unknown kafka auth type %q", s)
	}
}

// KafkaSupplier reads S3 event notifications from a topic. Offsets are
// committed only up to the first record of each partition that has not been
// acknowledged. Records left unacknowledged by the previous Get are rewound
// and fetched again.
type KafkaSupplier struct {
	brokers     []string
	user        string
	pass        string
	topic       string
	group       string
	authType    KafkaAuthType
	disableTLS  bool
	pollTimeout time.Duration
	client      kafkaClient
	log         *slog.Logger
	metrics     *IngestMetrics

	mu       sync.Mutex
	pending  map[string]*inflightRecord
	inflight map[topicPartition][]*inflightRecord
}

type topicPartition struct {
	topic     string
	partition int32
}

// inflightRecord is a polled record waiting for acknowledgement. Records of a
// partition are kept in offset order so only an acknowledged prefix is committed.
type inflightRecord struct {
	rec   *kgo.Record
	acked bool
}

type KafkaOption func(*KafkaSupplier)

func WithKafkaLogger(log *slog.Logger) KafkaOption {
	return func(k *KafkaSupplier) {
		k.log = log
	}
}

func WithKafkaBrokers(brokers []string) KafkaOption {
	return func(k *KafkaSupplier) {
		k.brokers = brokers
	}
}

func WithKafkaUser(user string) KafkaOption {
	return func(k *KafkaSupplier) {
		k.user = user
	}
}

func WithKafkaPassword(pass string) KafkaOption {
	return func(k *KafkaSupplier) {
		k.pass = pass
	}
}

func WithKafkaTopic(topic string) KafkaOption {
	return func(k *KafkaSupplier) {
		k.topic = topic
	}
}

func WithKafkaConsumerGroup(group string) KafkaOption {
	return func(k *KafkaSupplier) {
		k.group = group
	}
}

func WithKafkaAuthType(authType KafkaAuthType) KafkaOption {
	return func(k *KafkaSupplier) {
		k.authType = authType
	}
}

func WithKafkaTLSDisabled(disableTLS bool) KafkaOption {
	return func(k *KafkaSupplier) {
		k.disableTLS = disableTLS
	}
}

// WithKafkaPollTimeout bounds how long a single Get waits for records.
func WithKafkaPollTimeout(d time.Duration) KafkaOption {
	return func(k *KafkaSupplier) {
		k.pollTimeout = d
	}
}

func WithKafkaMetrics(metrics *IngestMetrics) KafkaOption {
	return func(k *KafkaSupplier) {
		k.metrics = metrics
	}
}

// withKafkaClient is used for testing to inject a mock client.
func withKafkaClient(client kafkaClient) KafkaOption {
	return func(k *KafkaSupplier) {
		k.client = client
	}
}

func NewKafkaSupplier(opts ...KafkaOption) (*KafkaSupplier, error) {
	k := &KafkaSupplier{
		pollTimeout: defaultKafkaPollTimeout,
		pending:     make(map[string]*inflightRecord),
		inflight:    make(map[topicPartition][]*inflightRecord),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.log == nil {
		k.log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if k.metrics == nil {
		k.metrics = NewIngestMetrics(nil)
	}

	if k.client != nil {
		return k, nil
	}

	if len(k.brokers) == 0 || k.topic == "" || k.group == "" {
		return nil, fmt.Errorf("kafka brokers, topic and consumer group are required")
	}

	kOpts := []kgo.Opt{}
	switch k.authType {
	case KafkaAuthTypeSCRAM:
		kOpts = append(kOpts,
			kgo.SASL(scram.Auth{
				User: k.user,
				Pass: k.pass,
			}.AsSha256Mechanism()),
		)
	case KafkaAuthTypeAWSMSK:
		kOpts = append(kOpts, kgo.SASL(aws.ManagedStreamingIAM(func(ctx context.Context) (aws.Auth, error) {
			cfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return aws.Auth{}, fmt.Errorf("failed to load aws config: %w", err)
			}
			creds, err := cfg.Credentials.Retrieve(ctx)
			if err != nil {
				return aws.Auth{}, fmt.Errorf("failed to retrieve credentials: %w", err)
			}
			return aws.Auth{
				AccessKey:    creds.AccessKeyID,
				SecretKey:    creds.SecretAccessKey,
				SessionToken: creds.SessionToken,
			}, nil
		})))
	}
	if !k.disableTLS {
		kOpts = append(kOpts, kgo.DialTLS())
	}
	kOpts = append(kOpts,
		kgo.SeedBrokers(k.brokers...),
		kgo.ConsumeTopics(k.topic),
		kgo.ConsumerGroup(k.group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.AutoCommitMarks(),
	)
	client, err := kgo.NewClient(kOpts...)
	if err != nil {
		return nil, fmt.Errorf("error creating kafka client: %w", err)
	}
	k.client = client
	return k, nil
}

// Get polls once. Each record is one message whose receipt handle is
// topic/partition/offset.
func (k *KafkaSupplier) Get(ctx context.Context) ([]model.Notification, error) {
	k.rewindUnacked()

	pollCtx, cancel := context.WithTimeout(ctx, k.pollTimeout)
	defer cancel()

	fetches := k.client.PollFetches(pollCtx)
	if fetches.IsClientClosed() {
		return nil, nil
	}
	if fetches.Empty() {
		return nil, nil
	}

	var fetchErrs int
	fetches.EachError(func(topic string, partition int32, err error) {
		// An idle poll ends with the poll deadline.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		fetchErrs++
		k.log.Error("kafka: error during fetching", "topic", topic, "partition", partition, "error", err)
	})

	k.mu.Lock()
	defer k.mu.Unlock()

	var notifications []model.Notification
	touched := make(map[topicPartition]struct{})
	fetches.EachRecord(func(rec *kgo.Record) {
		tp := topicPartition{topic: rec.Topic, partition: rec.Partition}
		ir := &inflightRecord{rec: rec}
		k.inflight[tp] = append(k.inflight[tp], ir)
		touched[tp] = struct{}{}

		receipt := receiptHandle(rec)
		parsed, err := model.ParseS3EventNotification(rec.Value, receipt, receipt)
		if err != nil {
			k.metrics.MalformedMessages.Inc()
			k.log.Warn("kafka: skipping record that is not an s3 event notification", "record", receipt, "error", err)
			ir.acked = true
			return
		}
		if len(parsed) == 0 {
			ir.acked = true
			return
		}

		k.pending[receipt] = ir
		notifications = append(notifications, parsed...)
	})
	for tp := range touched {
		k.markPrefixLocked(tp)
	}

	if fetchErrs > 0 && len(notifications) == 0 {
		return nil, fmt.Errorf("kafka fetch returned %d errors", fetchErrs)
	}
	return notifications, nil
}

// Delete acknowledges the record behind receiptHandle and commits the
// acknowledged prefix of its partition. A record polled after an
// unacknowledged one is not committed until that one is.
func (k *KafkaSupplier) Delete(ctx context.Context, receiptHandle string) error {
	k.mu.Lock()
	ir, ok := k.pending[receiptHandle]
	delete(k.pending, receiptHandle)
	if !ok {
		k.mu.Unlock()
		return fmt.Errorf("unknown kafka receipt handle %q", receiptHandle)
	}
	ir.acked = true
	marked := k.markPrefixLocked(topicPartition{topic: ir.rec.Topic, partition: ir.rec.Partition})
	k.mu.Unlock()

	if !marked {
		return nil
	}
	if err := k.client.CommitMarkedOffsets(ctx); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	return nil
}

// markPrefixLocked marks the leading run of acknowledged records of tp for
// commit and drops them from the in-flight list.
func (k *KafkaSupplier) markPrefixLocked(tp topicPartition) bool {
	records := k.inflight[tp]
	n := 0
	for n < len(records) && records[n].acked {
		n++
	}
	if n == 0 {
		return false
	}
	k.client.MarkCommitRecords(records[n-1].rec)
	if n == len(records) {
		delete(k.inflight, tp)
	} else {
		k.inflight[tp] = records[n:]
	}
	return true
}

// rewindUnacked moves every partition with an unacknowledged record back to
// the first such record so it is fetched again. The handler finishes every
// notification of a Get before the next Get, so anything still in flight here
// failed.
func (k *KafkaSupplier) rewindUnacked() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.inflight) == 0 {
		return
	}

	offsets := make(map[string]map[int32]kgo.EpochOffset)
	for tp, records := range k.inflight {
		first := records[0].rec
		if offsets[tp.topic] == nil {
			offsets[tp.topic] = make(map[int32]kgo.EpochOffset)
		}
		offsets[tp.topic][tp.partition] = kgo.EpochOffset{Epoch: -1, Offset: first.Offset}
		k.log.Warn("kafka: rewinding partition to redeliver unacknowledged record", "topic", tp.topic, "partition", tp.partition, "offset", first.Offset)
	}
	k.client.SetOffsets(offsets)

	clear(k.inflight)
	clear(k.pending)
}

func (k *KafkaSupplier) Close() error {
	k.client.Close()
	return nil
}

func receiptHandle(rec *kgo.Record) string {
	return rec.Topic + "/" + strconv.Itoa(int(rec.Partition)) + "/" + strconv.FormatInt(rec.Offset, 10)
}
