package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

// mockKafkaClient implements kafkaClient for testing.
type mockKafkaClient struct {
	fetches   kgo.Fetches
	commitErr error

	marked  []*kgo.Record
	commits int
	offsets []map[string]map[int32]kgo.EpochOffset
	closed  bool
}

func (m *mockKafkaClient) PollFetches(ctx context.Context) kgo.Fetches {
	return m.fetches
}

func (m *mockKafkaClient) MarkCommitRecords(rs ...*kgo.Record) {
	m.marked = append(m.marked, rs...)
}

func (m *mockKafkaClient) CommitMarkedOffsets(ctx context.Context) error {
	m.commits++
	return m.commitErr
}

func (m *mockKafkaClient) SetOffsets(offsets map[string]map[int32]kgo.EpochOffset) {
	m.offsets = append(m.offsets, offsets)
}

func (m *mockKafkaClient) Close() {
	m.closed = true
}

// createTestFetches creates kgo.Fetches with the given records.
func createTestFetches(records []*kgo.Record) kgo.Fetches {
	return kgo.Fetches{
		kgo.Fetch{
			Topics: []kgo.FetchTopic{
				{
					Topic: "notifications",
					Partitions: []kgo.FetchPartition{
						{
							Partition: 0,
							Records:   records,
						},
					},
				},
			},
		},
	}
}

const kafkaTestNotification = `{"Records":[{"eventTime":"2024-08-10T12:53:00Z","s3":{"bucket":{"name":"test-bucket"},"object":{"key":"1234.json"}}}]}`

func TestIngest_KafkaSupplier(t *testing.T) {
	t.Parallel()

	t.Run("receipt_handle_identifies_record", func(t *testing.T) {
		t.Parallel()

		client := &mockKafkaClient{fetches: createTestFetches([]*kgo.Record{
			{Topic: "notifications", Partition: 0, Offset: 41, Value: []byte(kafkaTestNotification)},
		})}
		k, err := NewKafkaSupplier(withKafkaClient(client))
		require.NoError(t, err)

		notifications, err := k.Get(context.Background())
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, "notifications/0/41", notifications[0].ReceiptHandle)
		assert.Equal(t, "notifications/0/41", notifications[0].MessageID)
		assert.Equal(t, "1234.json", notifications[0].Key)
		assert.Empty(t, client.marked)
	})

	t.Run("delete_marks_and_commits", func(t *testing.T) {
		t.Parallel()

		rec := &kgo.Record{Topic: "notifications", Partition: 0, Offset: 7, Value: []byte(kafkaTestNotification)}
		client := &mockKafkaClient{fetches: createTestFetches([]*kgo.Record{rec})}
		k, err := NewKafkaSupplier(withKafkaClient(client))
		require.NoError(t, err)

		notifications, err := k.Get(context.Background())
		require.NoError(t, err)
		require.Len(t, notifications, 1)

		require.NoError(t, k.Delete(context.Background(), notifications[0].ReceiptHandle))
		assert.Equal(t, []*kgo.Record{rec}, client.marked)
		assert.Equal(t, 1, client.commits)

		require.Error(t, k.Delete(context.Background(), notifications[0].ReceiptHandle))
	})

	t.Run("commit_error_is_returned", func(t *testing.T) {
		t.Parallel()

		commitErr := errors.New("rebalance in progress")
		client := &mockKafkaClient{
			fetches:   createTestFetches([]*kgo.Record{{Topic: "notifications", Offset: 1, Value: []byte(kafkaTestNotification)}}),
			commitErr: commitErr,
		}
		k, err := NewKafkaSupplier(withKafkaClient(client))
		require.NoError(t, err)

		notifications, err := k.Get(context.Background())
		require.NoError(t, err)
		require.ErrorIs(t, k.Delete(context.Background(), notifications[0].ReceiptHandle), commitErr)
	})

	t.Run("malformed_records_are_marked_and_skipped", func(t *testing.T) {
		t.Parallel()

		bad := &kgo.Record{Topic: "notifications", Offset: 1, Value: []byte("garbage")}
		client := &mockKafkaClient{fetches: createTestFetches([]*kgo.Record{bad})}
		k, err := NewKafkaSupplier(withKafkaClient(client))
		require.NoError(t, err)

		notifications, err := k.Get(context.Background())
		require.NoError(t, err)
		require.Empty(t, notifications)
		assert.Equal(t, []*kgo.Record{bad}, client.marked)
	})

	t.Run("failed_record_blocks_commit_of_later_offsets", func(t *testing.T) {
		t.Parallel()

		failed := &kgo.Record{Topic: "notifications", Partition: 0, Offset: 41, Value: []byte(kafkaTestNotification)}
		ok := &kgo.Record{Topic: "notifications", Partition: 0, Offset: 42, Value: []byte(kafkaTestNotification)}
		client := &mockKafkaClient{fetches: createTestFetches([]*kgo.Record{failed, ok})}
		k, err := NewKafkaSupplier(withKafkaClient(client))
		require.NoError(t, err)

		notifications, err := k.Get(context.Background())
		require.NoError(t, err)
		require.Len(t, notifications, 2)

		// Only offset 42 is acknowledged; 41 is left for redelivery.
		require.NoError(t, k.Delete(context.Background(), "notifications/0/42"))
		assert.Empty(t, client.marked)
		assert.Zero(t, client.commits)

		redelivered41 := &kgo.Record{Topic: "notifications", Partition: 0, Offset: 41, Value: []byte(kafkaTestNotification)}
		redelivered42 := &kgo.Record{Topic: "notifications", Partition: 0, Offset: 42, Value: []byte(kafkaTestNotification)}
		client.fetches = createTestFetches([]*kgo.Record{redelivered41, redelivered42})

		notifications, err = k.Get(context.Background())
		require.NoError(t, err)
		require.Len(t, notifications, 2)
		require.Len(t, client.offsets, 1)
		assert.Equal(t, int64(41), client.offsets[0]["notifications"][0].Offset)

		require.NoError(t, k.Delete(context.Background(), "notifications/0/41"))
		require.NoError(t, k.Delete(context.Background(), "notifications/0/42"))
		assert.Equal(t, []*kgo.Record{redelivered41, redelivered42}, client.marked)
		assert.Equal(t, 2, client.commits)
		assert.Empty(t, k.pending)
		assert.Empty(t, k.inflight)
	})

	t.Run("unacknowledged_records_are_not_kept_across_polls", func(t *testing.T) {
		t.Parallel()

		client := &mockKafkaClient{fetches: createTestFetches([]*kgo.Record{
			{Topic: "notifications", Partition: 0, Offset: 1, Value: []byte(kafkaTestNotification)},
			{Topic: "notifications", Partition: 0, Offset: 2, Value: []byte(kafkaTestNotification)},
		})}
		k, err := NewKafkaSupplier(withKafkaClient(client))
		require.NoError(t, err)

		for range 3 {
			_, err := k.Get(context.Background())
			require.NoError(t, err)
			assert.Len(t, k.pending, 2)
		}
		assert.Len(t, client.offsets, 2)
	})

	t.Run("malformed_record_after_unacknowledged_waits", func(t *testing.T) {
		t.Parallel()

		good := &kgo.Record{Topic: "notifications", Partition: 0, Offset: 41, Value: []byte(kafkaTestNotification)}
		bad := &kgo.Record{Topic: "notifications", Partition: 0, Offset: 42, Value: []byte("garbage")}
		client := &mockKafkaClient{fetches: createTestFetches([]*kgo.Record{good, bad})}
		k, err := NewKafkaSupplier(withKafkaClient(client))
		require.NoError(t, err)

		_, err = k.Get(context.Background())
		require.NoError(t, err)
		assert.Empty(t, client.marked)

		require.NoError(t, k.Delete(context.Background(), "notifications/0/41"))
		assert.Equal(t, []*kgo.Record{bad}, client.marked)
	})

	t.Run("empty_fetch", func(t *testing.T) {
		t.Parallel()

		k, err := NewKafkaSupplier(withKafkaClient(&mockKafkaClient{}))
		require.NoError(t, err)

		notifications, err := k.Get(context.Background())
		require.NoError(t, err)
		require.Empty(t, notifications)
	})

	t.Run("idle_poll_deadline_is_not_an_error", func(t *testing.T) {
		t.Parallel()

		client := &mockKafkaClient{fetches: kgo.Fetches{kgo.Fetch{Topics: []kgo.FetchTopic{{
			Partitions: []kgo.FetchPartition{{Partition: -1, Err: context.DeadlineExceeded}},
		}}}}}
		k, err := NewKafkaSupplier(withKafkaClient(client), WithKafkaPollTimeout(time.Millisecond))
		require.NoError(t, err)

		notifications, err := k.Get(context.Background())
		require.NoError(t, err)
		assert.Empty(t, notifications)
	})

	t.Run("fetch_error_without_records_is_returned", func(t *testing.T) {
		t.Parallel()

		client := &mockKafkaClient{fetches: kgo.Fetches{kgo.Fetch{Topics: []kgo.FetchTopic{{
			Topic:      "notifications",
			Partitions: []kgo.FetchPartition{{Partition: 0, Err: errors.New("broker unavailable")}},
		}}}}}
		k, err := NewKafkaSupplier(withKafkaClient(client))
		require.NoError(t, err)

		_, err = k.Get(context.Background())
		require.ErrorContains(t, err, "kafka fetch returned 1 errors")
	})

	t.Run("close_closes_client", func(t *testing.T) {
		t.Parallel()

		client := &mockKafkaClient{}
		k, err := NewKafkaSupplier(withKafkaClient(client))
		require.NoError(t, err)
		require.NoError(t, k.Close())
		assert.True(t, client.closed)
	})

	t.Run("requires_brokers_topic_and_group", func(t *testing.T) {
		t.Parallel()

		_, err := NewKafkaSupplier(WithKafkaTopic("t"))
		require.Error(t, err)
	})

	t.Run("parse_auth_type", func(t *testing.T) {
		t.Parallel()

		for in, want := range map[string]KafkaAuthType{"": KafkaAuthTypeNone, "none": KafkaAuthTypeNone, "scram": KafkaAuthTypeSCRAM, "aws-msk": KafkaAuthTypeAWSMSK} {
			got, err := ParseKafkaAuthType(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		_, err := ParseKafkaAuthType("kerberos")
		require.Error(t, err)
	})
}
