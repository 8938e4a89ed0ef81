package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/malbeclabs/s3-batcher/internal/batch"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultS3Prefix = "output"

	contentTypeJSONL = "application/x-ndjson"
)

// S3PutObjectAPI is the subset of the S3 client used by S3Sink.
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes each batch as one JSON lines object under
// <prefix>/source=<source>/date=<date>/<id>.jsonl.
type S3Sink struct {
	client  S3PutObjectAPI
	bucket  string
	prefix  string
	gzip    bool
	newID   func() string
	log     *slog.Logger
	metrics *SinkMetrics
}

type S3Option func(*S3Sink)

func WithS3Prefix(prefix string) S3Option {
	return func(s *S3Sink) {
		s.prefix = prefix
	}
}

func WithS3Gzip(enabled bool) S3Option {
	return func(s *S3Sink) {
		s.gzip = enabled
	}
}

func WithS3Logger(log *slog.Logger) S3Option {
	return func(s *S3Sink) {
		s.log = log
	}
}

func WithS3Metrics(metrics *SinkMetrics) S3Option {
	return func(s *S3Sink) {
		s.metrics = metrics
	}
}

// WithS3IDFunc overrides how object ids are generated.
func WithS3IDFunc(fn func() string) S3Option {
	return func(s *S3Sink) {
		s.newID = fn
	}
}

func NewS3Sink(client S3PutObjectAPI, bucket string, opts ...S3Option) (*S3Sink, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}

	s := &S3Sink{
		client: client,
		bucket: bucket,
		prefix: DefaultS3Prefix,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.prefix = strings.Trim(s.prefix, "/")
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if s.metrics == nil {
		s.metrics = NewSinkMetrics(nil)
	}
	return s, nil
}

// Key returns the object key for a batch written with the given id.
func (s *S3Sink) Key(p batch.Partition, id string) string {
	name := id + ".jsonl"
	if s.gzip {
		name += ".gz"
	}
	return path.Join(s.prefix, "source="+p.Source, "date="+p.Date.String(), name)
}

func (s *S3Sink) Write(ctx context.Context, b batch.Batch) error {
	body := []byte(strings.Join(b.Records, "\n"))

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(b.Partition, s.newID())),
		ContentType: aws.String(contentTypeJSONL),
	}
	if s.gzip {
		compressed, err := gzipBytes(body)
		if err != nil {
			return fmt.Errorf("failed to compress batch %s: %w", b.Partition, err)
		}
		body = compressed
		input.ContentEncoding = aws.String("gzip")
	}
	input.Body = bytes.NewReader(body)
	input.ContentLength = aws.Int64(int64(len(body)))

	timer := prometheus.NewTimer(s.metrics.WriteDuration.WithLabelValues("s3"))
	_, err := s.client.PutObject(ctx, input)
	timer.ObserveDuration()
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, aws.ToString(input.Key), err)
	}

	s.metrics.BytesWritten.WithLabelValues("s3").Add(float64(len(body)))
	s.log.Info("s3: wrote batch", "key", aws.ToString(input.Key), "records", b.Len(), "bytes", len(body))
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
