package batch_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/malbeclabs/s3-batcher/internal/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_Summariser(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 8, 10, 12, 0, 0, 0, time.UTC)

	t.Run("empty_store_encodes_as_empty_array", func(t *testing.T) {
		t.Parallel()

		summary := batch.NewSummariser(batch.NewStore()).Summary()
		require.NotNil(t, summary)

		b, err := json.Marshal(summary)
		require.NoError(t, err)
		assert.Equal(t, "[]", string(b))
	})

	t.Run("sorted_by_source_then_date", func(t *testing.T) {
		t.Parallel()

		store := batch.NewStore()
		store.Add(newTestEntry("users", base, "u"))
		store.Add(newTestEntry("orders", base.Add(24*time.Hour), "o2"))
		store.Add(newTestEntry("orders", base, "o1"))
		store.Add(newTestEntry("orders", base.Add(time.Minute), "o1b"))

		summary := batch.NewSummariser(store).Summary()
		require.Len(t, summary, 3)

		assert.Equal(t, "orders", summary[0].Source)
		assert.Equal(t, "2024-08-10", summary[0].Date.String())
		assert.Equal(t, 2, summary[0].RecordCount)
		assert.Equal(t, base, summary[0].OldestRecord)

		assert.Equal(t, "orders", summary[1].Source)
		assert.Equal(t, "2024-08-11", summary[1].Date.String())

		assert.Equal(t, "users", summary[2].Source)
	})

	t.Run("json_shape", func(t *testing.T) {
		t.Parallel()

		store := batch.NewStore()
		store.Add(newTestEntry("orders", base, "a"))

		b, err := json.Marshal(batch.NewSummariser(store).Summary())
		require.NoError(t, err)
		assert.JSONEq(t, `[{"source":"orders","date":"2024-08-10","oldest_record":"2024-08-10T12:00:00Z","record_count":1}]`, string(b))
	})

	t.Run("does_not_mutate_store", func(t *testing.T) {
		t.Parallel()

		store := batch.NewStore()
		store.Add(newTestEntry("orders", base, "a"))

		s := batch.NewSummariser(store)
		s.Summary()
		s.Summary()

		batches := store.Batches()
		require.Len(t, batches, 1)
		assert.Equal(t, []string{"a"}, batches[0].Records)
	})
}
