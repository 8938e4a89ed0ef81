package ingest_test

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lmittmann/tint"
	"github.com/malbeclabs/s3-batcher/internal/batch"
	"github.com/malbeclabs/s3-batcher/internal/model"
)

var (
	log *slog.Logger
)

// TestMain sets up the test environment with a global logger.
func TestMain(m *testing.M) {
	flag.Parse()
	logLevel := slog.LevelInfo
	if vFlag := flag.Lookup("test.v"); vFlag != nil && vFlag.Value.String() == "true" {
		logLevel = slog.LevelDebug
	}
	log = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.RFC3339,
		AddSource:  true,
	}))

	os.Exit(m.Run())
}

const testEvent = `{"request":{"source":"orders","answers":{"first_name":"Tim","pets":[{"type":"Cat","name":"Tiffin"}]}},"response":{"id":"1234"}}`

func newTestNotification(messageID, key string) model.Notification {
	return model.Notification{
		MessageID:     messageID,
		ReceiptHandle: "receipt-" + messageID,
		Created:       time.Date(2024, 8, 10, 11, 0, 0, 0, time.UTC),
		Bucket:        "test-bucket",
		Key:           key,
	}
}

type mockSupplier struct {
	GetFunc func(ctx context.Context) ([]model.Notification, error)
}

func (m *mockSupplier) Get(ctx context.Context) ([]model.Notification, error) {
	return m.GetFunc(ctx)
}

type mockDeleter struct {
	DeleteFunc func(ctx context.Context, receiptHandle string) error

	mu      sync.Mutex
	deleted []string
}

func (m *mockDeleter) Delete(ctx context.Context, receiptHandle string) error {
	if m.DeleteFunc != nil {
		if err := m.DeleteFunc(ctx, receiptHandle); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, receiptHandle)
	return nil
}

func (m *mockDeleter) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

type mockProcessor struct {
	ProcessFunc func(ctx context.Context, n model.Notification) error

	mu        sync.Mutex
	processed []model.Notification
}

func (m *mockProcessor) Process(ctx context.Context, n model.Notification) error {
	m.mu.Lock()
	m.processed = append(m.processed, n)
	m.mu.Unlock()
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, n)
	}
	return nil
}

func (m *mockProcessor) Processed() []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Notification(nil), m.processed...)
}

type mockExtractor struct {
	ExtractFunc func(ctx context.Context, bucket, key string) ([]byte, error)
}

func (m *mockExtractor) Extract(ctx context.Context, bucket, key string) ([]byte, error) {
	return m.ExtractFunc(ctx, bucket, key)
}

type memoryStore struct {
	mu      sync.Mutex
	entries []batch.Entry
}

func (s *memoryStore) Add(entry batch.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *memoryStore) Entries() []batch.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]batch.Entry(nil), s.entries...)
}
