package ingest

import (
	"fmt"
	"time"

	"github.com/malbeclabs/s3-batcher/internal/model"
)

const (
	fieldID      = "id"
	fieldCreated = "created"
	fieldS3URI   = "s3_uri"
)

// Transform flattens an event into a single level string map. Collection
// answers are spread into one field per item and child key, numbered from 1:
// pets[0].name becomes pets1_name.
//
// Answer keys that collide with id, created or s3_uri overwrite them.
func Transform(event model.Event, n model.Notification) map[string]string {
	out := map[string]string{
		fieldID:      event.Response.ID,
		fieldCreated: n.Created.UTC().Format(time.RFC3339),
		fieldS3URI:   n.URI(),
	}

	for key, answer := range event.Request.Answers {
		if !answer.IsCollection() {
			out[key] = *answer.Simple
			continue
		}
		for i, item := range answer.Collection {
			for childKey, value := range item {
				out[fmt.Sprintf("%s%d_%s", key, i+1, childKey)] = value
			}
		}
	}

	return out
}
