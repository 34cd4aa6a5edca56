package dosage

import (
	"fmt"
	"time"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/unit"
)

// PlannedIntake is one concrete administration referenced by a schedule
// edit: either a scheduled intake to cancel or an unscheduled intake to
// inject. Skips match emitted intakes by value (instant, dose and
// formulation/route).
type PlannedIntake struct {
	Time         time.Time
	Dose         float64
	DoseUnit     unit.Unit
	Far          FormulationAndRoute
	InfusionTime time.Duration
	Interval     time.Duration
}

// TimeRange applies one dosage over a window. The start is required unless
// the dosage is a steady state; the end, if set, must strictly follow the
// start. The window is half-open: [start, end).
type TimeRange struct {
	start  time.Time
	end    time.Time // zero means open-ended
	dosage Dosage
	skips  []PlannedIntake
	adds   []PlannedIntake
}

// NewTimeRange creates a TimeRange over [start, end). A zero end leaves the
// range open-ended.
func NewTimeRange(start, end time.Time, d Dosage) (*TimeRange, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil dosage", ErrInvalidDosage)
	}
	_, steadyState := d.(*DosageSteadyState)
	if start.IsZero() && !steadyState {
		return nil, fmt.Errorf("%w: time range requires a start date", ErrInvalidDosage)
	}
	if !end.IsZero() && !steadyState && !end.After(start) {
		return nil, fmt.Errorf("%w: end %s not after start %s", ErrInvalidDosage, end, start)
	}
	return &TimeRange{start: start, end: end, dosage: d}, nil
}

// Start returns the range start.
func (r *TimeRange) Start() time.Time { return r.start }

// End returns the range end; zero when open-ended.
func (r *TimeRange) End() time.Time { return r.end }

// OpenEnded reports whether the range has no end date.
func (r *TimeRange) OpenEnded() bool { return r.end.IsZero() }

// Dosage returns the dosage applied over the range.
func (r *TimeRange) Dosage() Dosage { return r.dosage }

// AddSkip records a per-instance cancellation of a scheduled intake.
func (r *TimeRange) AddSkip(p PlannedIntake) { r.skips = append(r.skips, p) }

// AddIntake records a per-instance injection of an unscheduled intake.
func (r *TimeRange) AddIntake(p PlannedIntake) { r.adds = append(r.adds, p) }

// Skips returns the cancellation list.
func (r *TimeRange) Skips() []PlannedIntake { return r.skips }

// Adds returns the injection list.
func (r *TimeRange) Adds() []PlannedIntake { return r.adds }

// Clone deep-copies the range and its dosage.
func (r *TimeRange) Clone() *TimeRange {
	return &TimeRange{
		start:  r.start,
		end:    r.end,
		dosage: r.dosage.Clone(),
		skips:  append([]PlannedIntake(nil), r.skips...),
		adds:   append([]PlannedIntake(nil), r.adds...),
	}
}

// Overlaps reports whether two ranges intersect in a non-empty, non-boundary
// way. Open-ended ranges extend to the end of time; ranges meeting exactly at
// a boundary instant do not overlap.
func Overlaps(a, b *TimeRange) bool {
	aBeforeB := !a.OpenEnded() && !a.end.After(b.start)
	bBeforeA := !b.OpenEnded() && !b.end.After(a.start)
	return !aBeforeB && !bBeforeA
}
