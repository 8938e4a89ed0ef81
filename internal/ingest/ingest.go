package ingest

import (
	"context"

	"github.com/malbeclabs/s3-batcher/internal/batch"
	"github.com/malbeclabs/s3-batcher/internal/model"
)

// Supplier fetches the next set of notifications from the input queue. An
// empty result is not an error.
type Supplier interface {
	Get(ctx context.Context) ([]model.Notification, error)
}

// Deleter acknowledges a message once its notifications are in the store.
type Deleter interface {
	Delete(ctx context.Context, receiptHandle string) error
}

// Extractor reads the object a notification points to.
type Extractor interface {
	Extract(ctx context.Context, bucket, key string) ([]byte, error)
}

type NotificationProcessor interface {
	Process(ctx context.Context, n model.Notification) error
}

// EntryAdder is the write side of batch.Store.
type EntryAdder interface {
	Add(entry batch.Entry)
}
