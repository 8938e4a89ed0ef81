package batch

import (
	"cmp"
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time zone. It is comparable and safe to use in map keys.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the UTC calendar date of t.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) Compare(o Date) int {
	return cmp.Or(
		cmp.Compare(d.Year, o.Year),
		cmp.Compare(d.Month, o.Month),
		cmp.Compare(d.Day, o.Day),
	)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Partition identifies one batch lineage.
type Partition struct {
	Source string
	Date   Date
}

func NewPartition(source string, created time.Time) Partition {
	return Partition{Source: source, Date: DateOf(created)}
}

func (p Partition) String() string {
	return fmt.Sprintf("source=%s/date=%s", p.Source, p.Date)
}

// Entry is a single ingested record waiting to be merged into its partition's batch.
type Entry struct {
	Partition Partition
	Created   time.Time
	Payload   string
}

// Batch is a point-in-time copy of the records accumulated for one partition.
//
// Batches returned by the store never share memory with it. The lineage lets
// Store.Commit tell whether the live batch was replaced since the copy was taken.
type Batch struct {
	Partition    Partition
	OldestRecord time.Time
	Records      []string

	lineage uint64
}

func (b Batch) Len() int {
	return len(b.Records)
}

// Age returns how long the oldest record has been waiting as of now.
func (b Batch) Age(now time.Time) time.Duration {
	return now.Sub(b.OldestRecord)
}
