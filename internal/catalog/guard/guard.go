package guard

import (
	"errors"
	"fmt"
)

var ErrTripped = errors.New("safety guard tripped")

// Bucket is one class of destructive operations counted before mutation starts.
type Bucket struct {
	Name  string
	Count int
}

type TripError struct {
	Bucket Bucket
	Max    int
}

func (e *TripError) Error() string {
	return fmt.Sprintf("%s: %d %s items exceed the limit of %d, nothing was applied; check the feed before raising the limit",
		ErrTripped, e.Bucket.Count, e.Bucket.Name, e.Max)
}

func (e *TripError) Unwrap() error { return ErrTripped }

// Guard bounds the blast radius of a run. Every bucket is measured by its raw size; Max
// itself is still allowed, anything above it aborts the whole phase. Max <= 0 disables the check.
type Guard struct {
	Max int
}

func New(max int) Guard {
	return Guard{Max: max}
}

func (g Guard) Enabled() bool { return g.Max > 0 }

// Check is evaluated once, before any mutation. The first offending bucket is reported.
func (g Guard) Check(buckets ...Bucket) error {
	if !g.Enabled() {
		return nil
	}
	for _, b := range buckets {
		if b.Count > g.Max {
			return &TripError{Bucket: b, Max: g.Max}
		}
	}
	return nil
}
