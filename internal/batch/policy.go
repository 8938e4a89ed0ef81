package batch

import (
	"errors"
	"time"
)

const (
	DefaultMaxBatchSize = 1
	DefaultMaxBatchAge  = 60 * time.Minute
)

// Reason explains why a batch was considered ready.
type Reason string

const (
	ReasonNone Reason = "none"
	ReasonSize Reason = "size"
	ReasonAge  Reason = "age"
)

func (r Reason) String() string {
	return string(r)
}

// Policy decides when a batch is due to be written. It holds no state and is
// evaluated fresh on every flush cycle.
type Policy struct {
	MaxSize int
	MaxAge  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxSize: DefaultMaxBatchSize,
		MaxAge:  DefaultMaxBatchAge,
	}
}

func (p Policy) Validate() error {
	if p.MaxSize < 1 {
		return errors.New("max batch size must be at least 1")
	}
	if p.MaxAge <= 0 {
		return errors.New("max batch age must be greater than 0")
	}
	return nil
}

// Ready reports whether b should be written at now. The size trigger is
// checked before the age trigger.
func (p Policy) Ready(b Batch, now time.Time) (bool, Reason) {
	if b.Len() >= p.MaxSize {
		return true, ReasonSize
	}
	if b.Len() > 0 && b.Age(now) >= p.MaxAge {
		return true, ReasonAge
	}
	return false, ReasonNone
}
