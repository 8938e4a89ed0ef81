package batch

import (
	"cmp"
	"slices"
	"time"
)

type Summary struct {
	Source       string    `json:"source"`
	Date         Date      `json:"date"`
	OldestRecord time.Time `json:"oldest_record"`
	RecordCount  int       `json:"record_count"`
}

// Summariser projects the store's current batches for the admin endpoint.
type Summariser struct {
	store *Store
}

func NewSummariser(store *Store) *Summariser {
	return &Summariser{store: store}
}

// Summary never returns nil, so an empty store encodes as an empty JSON array.
func (s *Summariser) Summary() []Summary {
	batches := s.store.Batches()
	out := make([]Summary, 0, len(batches))
	for _, b := range batches {
		out = append(out, Summary{
			Source:       b.Partition.Source,
			Date:         b.Partition.Date,
			OldestRecord: b.OldestRecord,
			RecordCount:  b.Len(),
		})
	}
	slices.SortFunc(out, func(a, b Summary) int {
		return cmp.Or(
			cmp.Compare(a.Source, b.Source),
			a.Date.Compare(b.Date),
		)
	})
	return out
}
