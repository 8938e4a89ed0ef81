package model

import (
	"fmt"
	"time"
)

// Notification announces one object written to S3 and carries what is needed
// to acknowledge it at the source.
type Notification struct {
	MessageID     string
	ReceiptHandle string
	Created       time.Time
	Bucket        string
	Key           string
}

func (n Notification) URI() string {
	return fmt.Sprintf("s3://%s/%s", n.Bucket, n.Key)
}
