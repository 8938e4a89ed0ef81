package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// S3TestEvent is the event S3 sends once when a notification target is
// configured. It carries no records.
const S3TestEvent = "s3:TestEvent"

// S3EventNotification is the JSON document S3 publishes for object events.
type S3EventNotification struct {
	Event   string          `json:"Event,omitempty"`
	Records []S3EventRecord `json:"Records"`
}

type S3EventRecord struct {
	EventTime time.Time `json:"eventTime"`
	EventName string    `json:"eventName"`
	S3        S3Entity  `json:"s3"`
}

type S3Entity struct {
	Bucket S3Bucket `json:"bucket"`
	Object S3Object `json:"object"`
}

type S3Bucket struct {
	Name string `json:"name"`
}

type S3Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size,omitempty"`
}

// ParseS3EventNotification decodes body and returns one Notification per
// record. Object keys are URL-decoded the way S3 encodes them.
func ParseS3EventNotification(body []byte, messageID, receiptHandle string) ([]Notification, error) {
	var doc S3EventNotification
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode s3 event notification: %w", err)
	}
	if doc.Event == S3TestEvent {
		return nil, nil
	}
	if doc.Records == nil {
		return nil, errors.New("s3 event notification has no records")
	}

	notifications := make([]Notification, 0, len(doc.Records))
	for i, rec := range doc.Records {
		if rec.S3.Bucket.Name == "" || rec.S3.Object.Key == "" {
			return nil, fmt.Errorf("record %d is missing bucket or key", i)
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("record %d has invalid object key %q: %w", i, rec.S3.Object.Key, err)
		}
		notifications = append(notifications, Notification{
			MessageID:     messageID,
			ReceiptHandle: receiptHandle,
			Created:       rec.EventTime.UTC(),
			Bucket:        rec.S3.Bucket.Name,
			Key:           key,
		})
	}
	return notifications, nil
}
