package batch

import (
	"slices"
	"sync"
	"time"
)

// Store buffers entries per partition until a writer commits them.
//
// The pending queue and the batch map are guarded by separate locks so that Add
// only contends with the short swap at the start of Batches. When both are held
// the queue lock is always taken first.
type Store struct {
	queueMu sync.Mutex
	queue   []Entry

	mu          sync.Mutex
	batches     map[Partition]*liveBatch
	nextLineage uint64
}

type liveBatch struct {
	lineage uint64
	records []string
	created []time.Time
	oldest  time.Time
}

func NewStore() *Store {
	return &Store{
		batches: make(map[Partition]*liveBatch),
	}
}

// Add queues an entry. It never blocks on a merge in progress and never fails.
func (s *Store) Add(entry Entry) {
	s.queueMu.Lock()
	s.queue = append(s.queue, entry)
	s.queueMu.Unlock()
}

// Batches merges every queued entry into its partition's batch and returns a
// copy of every batch held. Entries added before the call are guaranteed to be
// included; entries added concurrently stay queued for the next call.
func (s *Store) Batches() []Batch {
	s.queueMu.Lock()
	entries := s.queue
	s.queue = nil
	s.mu.Lock()
	s.queueMu.Unlock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		s.mergeLocked(entry)
	}

	out := make([]Batch, 0, len(s.batches))
	for partition, lb := range s.batches {
		out = append(out, lb.snapshot(partition))
	}
	return out
}

func (s *Store) mergeLocked(entry Entry) {
	lb, ok := s.batches[entry.Partition]
	if !ok {
		s.nextLineage++
		lb = &liveBatch{lineage: s.nextLineage, oldest: entry.Created}
		s.batches[entry.Partition] = lb
	}
	if entry.Created.Before(lb.oldest) {
		lb.oldest = entry.Created
	}
	lb.records = append(lb.records, entry.Payload)
	lb.created = append(lb.created, entry.Created)
}

// DeleteBatch removes the batch for partition if present.
func (s *Store) DeleteBatch(partition Partition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, partition)
}

// Commit removes the records carried by b from the store. Records merged into
// the partition after b was taken are kept, with the oldest timestamp
// recomputed from what remains. It reports whether anything was removed; a
// batch from a lineage that no longer exists is ignored.
func (s *Store) Commit(b Batch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	lb, ok := s.batches[b.Partition]
	if !ok || lb.lineage != b.lineage || len(b.Records) == 0 {
		return false
	}

	n := min(len(b.Records), len(lb.records))
	if n == len(lb.records) {
		delete(s.batches, b.Partition)
		return true
	}

	lb.records = slices.Clone(lb.records[n:])
	lb.created = slices.Clone(lb.created[n:])
	lb.oldest = slices.MinFunc(lb.created, func(a, b time.Time) int { return a.Compare(b) })
	return true
}

// Len returns the number of batches held, not counting queued entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Pending returns the number of entries queued but not yet merged.
func (s *Store) Pending() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

func (lb *liveBatch) snapshot(partition Partition) Batch {
	return Batch{
		Partition:    partition,
		OldestRecord: lb.oldest,
		Records:      slices.Clone(lb.records),
		lineage:      lb.lineage,
	}
}
