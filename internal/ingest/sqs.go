package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/malbeclabs/s3-batcher/internal/model"
)

const (
	defaultSQSMaxMessages = 10
	defaultSQSWaitTime    = 5 * time.Second
)

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSConfig struct {
	Client   SQSAPI
	QueueURL string

	// Optional configuration.
	MaxMessages int32
	WaitTime    time.Duration
	Metrics     *IngestMetrics
}

func (c *SQSConfig) Validate() error {
	if c.Client == nil {
		return errors.New("sqs client is required")
	}
	if c.QueueURL == "" {
		return errors.New("queue url is required")
	}

	// Optional configuration.
	if c.MaxMessages <= 0 {
		c.MaxMessages = defaultSQSMaxMessages
	}
	if c.MaxMessages > 10 {
		return errors.New("max messages must be at most 10")
	}
	if c.WaitTime <= 0 {
		c.WaitTime = defaultSQSWaitTime
	}
	if c.WaitTime > 20*time.Second {
		return errors.New("wait time must be at most 20s")
	}
	if c.Metrics == nil {
		c.Metrics = NewIngestMetrics(nil)
	}
	return nil
}

// SQSSupplier long-polls a queue that receives S3 event notifications.
type SQSSupplier struct {
	log *slog.Logger
	cfg *SQSConfig
}

func NewSQSSupplier(log *slog.Logger, cfg *SQSConfig) (*SQSSupplier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sqs config: %w", err)
	}
	return &SQSSupplier{log: log, cfg: cfg}, nil
}

// Get receives one batch of messages. A body that is not an S3 event
// notification is logged and left alone, so the queue's redrive policy
// decides its fate. S3 test events are acknowledged straight away.
func (s *SQSSupplier) Get(ctx context.Context) ([]model.Notification, error) {
	out, err := s.cfg.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.cfg.QueueURL),
		MaxNumberOfMessages: s.cfg.MaxMessages,
		WaitTimeSeconds:     int32(s.cfg.WaitTime / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages from %s: %w", s.cfg.QueueURL, err)
	}

	s.log.Debug("sqs: received messages", "queue", s.cfg.QueueURL, "count", len(out.Messages))

	var notifications []model.Notification
	for _, msg := range out.Messages {
		messageID := aws.ToString(msg.MessageId)
		receipt := aws.ToString(msg.ReceiptHandle)

		parsed, err := model.ParseS3EventNotification([]byte(aws.ToString(msg.Body)), messageID, receipt)
		if err != nil {
			s.cfg.Metrics.MalformedMessages.Inc()
			s.log.Warn("sqs: ignoring message that is not an s3 event notification", "messageID", messageID, "error", err)
			continue
		}
		if len(parsed) == 0 {
			s.log.Info("sqs: acknowledging s3 test event", "messageID", messageID)
			if err := s.Delete(ctx, receipt); err != nil {
				s.log.Warn("sqs: failed to acknowledge test event", "messageID", messageID, "error", err)
			}
			continue
		}
		notifications = append(notifications, parsed...)
	}
	return notifications, nil
}

func (s *SQSSupplier) Delete(ctx context.Context, receiptHandle string) error {
	_, err := s.cfg.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.cfg.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message from %s: %w", s.cfg.QueueURL, err)
	}
	return nil
}
