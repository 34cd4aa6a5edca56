package dosage

import (
	"errors"
	"testing"
	"time"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/timeline"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/unit"
)

var oralFar = FormulationAndRoute{
	Formulation: "tablet",
	Route:       "oral",
	Absorption:  AbsorptionExtravascular,
}

func mustLasting(t *testing.T, dose float64, interval time.Duration) *LastingDose {
	t.Helper()
	d, err := NewLastingDose(dose, unit.Milligram, oralFar, 0, interval)
	if err != nil {
		t.Fatalf("NewLastingDose failed: %v", err)
	}
	return d
}

func TestLastingDoseValidation(t *testing.T) {
	if _, err := NewLastingDose(-1, unit.Milligram, oralFar, 0, 12*time.Hour); !errors.Is(err, ErrInvalidDosage) {
		t.Errorf("negative dose: got %v, want ErrInvalidDosage", err)
	}
	if _, err := NewLastingDose(100, unit.Milligram, oralFar, 0, 0); !errors.Is(err, ErrInvalidDosage) {
		t.Errorf("zero interval: got %v, want ErrInvalidDosage", err)
	}
	if _, err := NewLastingDose(100, unit.Milligram, oralFar, -time.Minute, 12*time.Hour); !errors.Is(err, ErrInvalidDosage) {
		t.Errorf("negative infusion time: got %v, want ErrInvalidDosage", err)
	}
	if _, err := NewLastingDose(100, unit.Unit("bogus"), oralFar, 0, 12*time.Hour); !errors.Is(err, ErrInvalidDosage) {
		t.Errorf("unknown unit: got %v, want ErrInvalidDosage", err)
	}
}

func TestInfusionZeroDurationTolerated(t *testing.T) {
	far := FormulationAndRoute{Formulation: "solution", Route: "iv", Absorption: AbsorptionInfusion}
	if _, err := NewLastingDose(100, unit.Milligram, far, 0, 12*time.Hour); err != nil {
		t.Errorf("zero infusion time should be tolerated: %v", err)
	}
}

func TestDailyDoseSameDayBoundary(t *testing.T) {
	tod, _ := timeline.NewTimeOfDay(8, 30, 0)
	d, err := NewDailyDose(200, unit.Milligram, oralFar, 0, tod)
	if err != nil {
		t.Fatalf("NewDailyDose failed: %v", err)
	}

	// Reference exactly at the time of day: same day, not the next.
	ref := time.Date(2017, 7, 16, 8, 30, 0, 0, time.UTC)
	if got := d.FirstIntakeOnOrAfter(ref); !got.Equal(ref) {
		t.Errorf("first intake = %v, want %v", got, ref)
	}

	// One second past: next day.
	late := ref.Add(time.Second)
	want := ref.AddDate(0, 0, 1)
	if got := d.FirstIntakeOnOrAfter(late); !got.Equal(want) {
		t.Errorf("first intake = %v, want %v", got, want)
	}
}

func TestWeeklyDoseFirstIntake(t *testing.T) {
	tod, _ := timeline.NewTimeOfDay(8, 30, 0)
	d, err := NewWeeklyDose(300, unit.Milligram, oralFar, 0, tod, time.Tuesday)
	if err != nil {
		t.Fatalf("NewWeeklyDose failed: %v", err)
	}

	// Sunday 2017-07-16 01:15 -> the following Tuesday 2017-07-18 08:30.
	ref := time.Date(2017, 7, 16, 1, 15, 0, 0, time.UTC)
	want := time.Date(2017, 7, 18, 8, 30, 0, 0, time.UTC)
	if got := d.FirstIntakeOnOrAfter(ref); !got.Equal(want) {
		t.Errorf("first intake = %v, want %v", got, want)
	}

	// Same Tuesday but the time of day already passed: a full week later.
	ref = time.Date(2017, 7, 18, 9, 0, 0, 0, time.UTC)
	want = time.Date(2017, 7, 25, 8, 30, 0, 0, time.UTC)
	if got := d.FirstIntakeOnOrAfter(ref); !got.Equal(want) {
		t.Errorf("first intake = %v, want %v", got, want)
	}

	if _, err := NewWeeklyDose(300, unit.Milligram, oralFar, 0, tod, time.Weekday(7)); !errors.Is(err, ErrInvalidDosage) {
		t.Errorf("invalid weekday: got %v, want ErrInvalidDosage", err)
	}
}

func TestRepeatAndSequenceSteps(t *testing.T) {
	inner := mustLasting(t, 100, 12*time.Hour)

	rep, err := NewDosageRepeat(inner, 5)
	if err != nil {
		t.Fatalf("NewDosageRepeat failed: %v", err)
	}
	if got, want := rep.TimeStep(), 60*time.Hour; got != want {
		t.Errorf("repeat step = %v, want %v", got, want)
	}

	seq, err := NewDosageSequence(mustLasting(t, 100, 12*time.Hour), mustLasting(t, 50, 24*time.Hour))
	if err != nil {
		t.Fatalf("NewDosageSequence failed: %v", err)
	}
	if got, want := seq.TimeStep(), 36*time.Hour; got != want {
		t.Errorf("sequence step = %v, want %v", got, want)
	}

	par, err := NewParallelDosageSequence(
		[]BoundedDosage{mustLasting(t, 100, 12*time.Hour), mustLasting(t, 50, 6*time.Hour)},
		[]time.Duration{0, 10 * time.Hour},
	)
	if err != nil {
		t.Fatalf("NewParallelDosageSequence failed: %v", err)
	}
	if got, want := par.TimeStep(), 16*time.Hour; got != want {
		t.Errorf("parallel step = %v, want %v", got, want)
	}

	if _, err := NewDosageRepeat(inner, 0); !errors.Is(err, ErrInvalidDosage) {
		t.Errorf("zero repeat count: got %v, want ErrInvalidDosage", err)
	}
	if _, err := NewDosageSequence(); !errors.Is(err, ErrInvalidDosage) {
		t.Errorf("empty sequence: got %v, want ErrInvalidDosage", err)
	}
}

func TestSteadyStateLattice(t *testing.T) {
	inner := mustLasting(t, 400, 36*time.Hour)
	anchor := time.Date(2017, 6, 4, 8, 30, 0, 0, time.UTC)
	ss, err := NewDosageSteadyState(inner, anchor)
	if err != nil {
		t.Fatalf("NewDosageSteadyState failed: %v", err)
	}

	// Reference before the anchor: the lattice extends backwards.
	ref := time.Date(2017, 6, 1, 8, 30, 0, 0, time.UTC)
	if got := ss.FirstIntakeOnOrAfter(ref); !got.Equal(ref) {
		t.Errorf("first intake = %v, want %v", got, ref)
	}

	// Reference between lattice points: the next point, never an earlier one.
	ref = time.Date(2017, 6, 1, 9, 0, 0, 0, time.UTC)
	want := time.Date(2017, 6, 2, 20, 30, 0, 0, time.UTC)
	if got := ss.FirstIntakeOnOrAfter(ref); !got.Equal(want) {
		t.Errorf("first intake = %v, want %v", got, want)
	}

	// Reference after the anchor.
	ref = anchor.Add(time.Hour)
	want = anchor.Add(36 * time.Hour)
	if got := ss.FirstIntakeOnOrAfter(ref); !got.Equal(want) {
		t.Errorf("first intake = %v, want %v", got, want)
	}
}

func TestTimeRangeValidation(t *testing.T) {
	d := mustLasting(t, 100, 12*time.Hour)
	start := time.Date(2017, 6, 1, 8, 0, 0, 0, time.UTC)

	if _, err := NewTimeRange(time.Time{}, time.Time{}, d); !errors.Is(err, ErrInvalidDosage) {
		t.Errorf("missing start: got %v, want ErrInvalidDosage", err)
	}
	if _, err := NewTimeRange(start, start, d); !errors.Is(err, ErrInvalidDosage) {
		t.Errorf("end equal to start: got %v, want ErrInvalidDosage", err)
	}
	if _, err := NewTimeRange(start, start.Add(24*time.Hour), d); err != nil {
		t.Errorf("valid range rejected: %v", err)
	}

	// A steady state range may omit its start date.
	ss, err := NewDosageSteadyState(d, start)
	if err != nil {
		t.Fatalf("NewDosageSteadyState failed: %v", err)
	}
	if _, err := NewTimeRange(time.Time{}, time.Time{}, ss); err != nil {
		t.Errorf("steady state without start rejected: %v", err)
	}
}

func TestRangeOverlap(t *testing.T) {
	d := mustLasting(t, 100, 12*time.Hour)
	day := 24 * time.Hour
	t0 := time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC)

	mk := func(start, end time.Time) *TimeRange {
		r, err := NewTimeRange(start, end, d)
		if err != nil {
			t.Fatalf("NewTimeRange failed: %v", err)
		}
		return r
	}

	a := mk(t0, t0.Add(2*day))
	b := mk(t0.Add(2*day), t0.Add(4*day))
	if Overlaps(a, b) {
		t.Error("ranges sharing only a boundary instant must not overlap")
	}

	c := mk(t0.Add(day), t0.Add(3*day))
	if !Overlaps(a, c) {
		t.Error("intersecting ranges must overlap")
	}

	open := mk(t0.Add(3*day), time.Time{})
	if !Overlaps(open, b) {
		t.Error("open-ended range must overlap a later bounded range")
	}
	if Overlaps(open, a) {
		t.Error("open-ended range must not overlap an earlier disjoint range")
	}
}

func TestHistorySortedInsert(t *testing.T) {
	d := mustLasting(t, 100, 12*time.Hour)
	day := 24 * time.Hour
	t0 := time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC)

	h := NewHistory()
	if !h.Empty() {
		t.Fatal("new history should be empty")
	}

	second, _ := NewTimeRange(t0.Add(2*day), t0.Add(3*day), d)
	first, _ := NewTimeRange(t0, t0.Add(day), d)
	if err := h.AddTimeRange(second); err != nil {
		t.Fatalf("AddTimeRange failed: %v", err)
	}
	if err := h.AddTimeRange(first); err != nil {
		t.Fatalf("AddTimeRange failed: %v", err)
	}

	if got := h.StartOfTreatment(); !got.Equal(t0) {
		t.Errorf("start of treatment = %v, want %v", got, t0)
	}
	ranges := h.Ranges()
	if len(ranges) != 2 || !ranges[0].Start().Equal(t0) {
		t.Errorf("history not sorted by start date: %v", ranges)
	}

	overlapping, _ := NewTimeRange(t0.Add(12*time.Hour), t0.Add(2*day), d)
	if err := h.AddTimeRange(overlapping); !errors.Is(err, ErrInvalidDosage) {
		t.Errorf("overlapping insert: got %v, want ErrInvalidDosage", err)
	}
}

func TestStartOfTreatmentSkipsSteadyState(t *testing.T) {
	d := mustLasting(t, 100, 12*time.Hour)
	t0 := time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC)

	ss, err := NewDosageSteadyState(d.CloneBounded(), t0.Add(-12*time.Hour))
	if err != nil {
		t.Fatalf("NewDosageSteadyState failed: %v", err)
	}
	ssRange, err := NewTimeRange(time.Time{}, t0, ss)
	if err != nil {
		t.Fatalf("NewTimeRange failed: %v", err)
	}
	concrete, _ := NewTimeRange(t0, t0.Add(24*time.Hour), d)

	h := NewHistory()
	if err := h.AddTimeRange(ssRange); err != nil {
		t.Fatalf("AddTimeRange failed: %v", err)
	}
	if err := h.AddTimeRange(concrete); err != nil {
		t.Fatalf("AddTimeRange failed: %v", err)
	}

	if got := h.StartOfTreatment(); !got.Equal(t0) {
		t.Errorf("start of treatment = %v, want %v", got, t0)
	}

	empty := NewHistory()
	if !empty.StartOfTreatment().IsZero() {
		t.Error("empty history should have zero start of treatment")
	}
}

func TestHistoryClone(t *testing.T) {
	d := mustLasting(t, 100, 12*time.Hour)
	t0 := time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC)
	r, _ := NewTimeRange(t0, t0.Add(24*time.Hour), d)

	h := NewHistory()
	if err := h.AddTimeRange(r); err != nil {
		t.Fatalf("AddTimeRange failed: %v", err)
	}

	c := h.Clone()
	if len(c.Ranges()) != 1 {
		t.Fatalf("clone lost ranges: %d", len(c.Ranges()))
	}
	if c.Ranges()[0] == h.Ranges()[0] {
		t.Error("clone must deep-copy time ranges")
	}
	if c.Ranges()[0].Dosage() == h.Ranges()[0].Dosage() {
		t.Error("clone must deep-copy owned dosages")
	}
}
