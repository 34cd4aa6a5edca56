package dosage

import (
	"fmt"
	"sort"
	"time"
)

// History is the ordered list of non-overlapping time ranges making up a
// patient's full dosing record. Ranges are kept sorted by start date at all
// times; each range is owned exclusively by the history.
type History struct {
	ranges []*TimeRange
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// AddTimeRange inserts a range, keeping the list sorted by start date
// (stable upper-bound insertion). Ranges overlapping an existing entry are
// rejected.
func (h *History) AddTimeRange(r *TimeRange) error {
	if r == nil {
		return fmt.Errorf("%w: nil time range", ErrInvalidDosage)
	}
	for _, existing := range h.ranges {
		if Overlaps(existing, r) {
			return fmt.Errorf("%w: time range starting %s overlaps an existing range", ErrInvalidDosage, r.Start())
		}
	}
	idx := sort.Search(len(h.ranges), func(i int) bool {
		return h.ranges[i].Start().After(r.Start())
	})
	h.ranges = append(h.ranges, nil)
	copy(h.ranges[idx+1:], h.ranges[idx:])
	h.ranges[idx] = r
	return nil
}

// Ranges returns the time ranges in start order.
func (h *History) Ranges() []*TimeRange { return h.ranges }

// Empty reports whether the history holds no range.
func (h *History) Empty() bool { return len(h.ranges) == 0 }

// StartOfTreatment returns the earliest concrete range start. Steady-state
// ranges carry no start and are skipped; the zero time comes back only when
// no range has one.
func (h *History) StartOfTreatment() time.Time {
	for _, r := range h.ranges {
		if !r.Start().IsZero() {
			return r.Start()
		}
	}
	return time.Time{}
}

// Clone deep-copies the history and every owned dosage.
func (h *History) Clone() *History {
	c := &History{ranges: make([]*TimeRange, len(h.ranges))}
	for i, r := range h.ranges {
		c.ranges[i] = r.Clone()
	}
	return c
}
