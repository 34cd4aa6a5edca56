package intake

import (
	"errors"
	"testing"
	"time"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/dosage"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/unit"
)

var oralFar = dosage.FormulationAndRoute{
	Formulation: "tablet",
	Route:       "oral",
	Absorption:  dosage.AbsorptionExtravascular,
}

var ivFar = dosage.FormulationAndRoute{
	Formulation: "solution",
	Route:       "iv",
	Absorption:  dosage.AbsorptionBolus,
}

func lasting(t *testing.T, dose float64, interval time.Duration) *dosage.LastingDose {
	t.Helper()
	d, err := dosage.NewLastingDose(dose, unit.Milligram, oralFar, 0, interval)
	if err != nil {
		t.Fatalf("NewLastingDose failed: %v", err)
	}
	return d
}

func historyOf(t *testing.T, ranges ...*dosage.TimeRange) *dosage.History {
	t.Helper()
	h := dosage.NewHistory()
	for _, r := range ranges {
		if err := h.AddTimeRange(r); err != nil {
			t.Fatalf("AddTimeRange failed: %v", err)
		}
	}
	return h
}

func TestRepeatCount(t *testing.T) {
	start := time.Date(2017, 6, 1, 8, 30, 0, 0, time.UTC)
	rep, err := dosage.NewDosageRepeat(lasting(t, 100, 12*time.Hour), 5)
	if err != nil {
		t.Fatalf("NewDosageRepeat failed: %v", err)
	}
	r, err := dosage.NewTimeRange(start, time.Time{}, rep)
	if err != nil {
		t.Fatalf("NewTimeRange failed: %v", err)
	}

	var series Series
	err = Extract(historyOf(t, r), start, start.Add(10*24*time.Hour), 2, unit.Milligram, &series, EndOfCycle)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := []time.Time{
		start,
		start.Add(12 * time.Hour),
		start.Add(24 * time.Hour),
		start.Add(36 * time.Hour),
		start.Add(48 * time.Hour),
	}
	if len(series) != len(want) {
		t.Fatalf("got %d intakes, want %d", len(series), len(want))
	}
	for i, ev := range series {
		if !ev.Time.Equal(want[i]) {
			t.Errorf("intake %d at %v, want %v", i, ev.Time, want[i])
		}
		if ev.Interval != 12*time.Hour {
			t.Errorf("intake %d interval %v, want 12h", i, ev.Interval)
		}
		if ev.Offset != ev.Time.Sub(start) {
			t.Errorf("intake %d offset %v, want %v", i, ev.Offset, ev.Time.Sub(start))
		}
	}
}

func TestSteadyStateAnchoring(t *testing.T) {
	queryStart := time.Date(2017, 6, 1, 8, 30, 0, 0, time.UTC)
	queryEnd := time.Date(2017, 6, 6, 0, 0, 0, 0, time.UTC)

	// A 36h steady state anchored three days into the window...
	anchor := time.Date(2017, 6, 4, 8, 30, 0, 0, time.UTC)
	ss, err := dosage.NewDosageSteadyState(lasting(t, 400, 36*time.Hour), anchor)
	if err != nil {
		t.Fatalf("NewDosageSteadyState failed: %v", err)
	}
	ssRange, err := dosage.NewTimeRange(time.Time{}, time.Time{}, ss)
	if err != nil {
		t.Fatalf("NewTimeRange failed: %v", err)
	}

	var ssSeries Series
	if err := Extract(historyOf(t, ssRange), queryStart, queryEnd, 1, unit.Milligram, &ssSeries, EndOfCycle); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// ...must reproduce the lattice of an equivalent loop started at the
	// window start.
	loop, err := dosage.NewDosageLoop(lasting(t, 400, 36*time.Hour))
	if err != nil {
		t.Fatalf("NewDosageLoop failed: %v", err)
	}
	loopRange, err := dosage.NewTimeRange(queryStart, time.Time{}, loop)
	if err != nil {
		t.Fatalf("NewTimeRange failed: %v", err)
	}

	var loopSeries Series
	if err := Extract(historyOf(t, loopRange), queryStart, queryEnd, 1, unit.Milligram, &loopSeries, EndOfCycle); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(ssSeries) == 0 || len(ssSeries) != len(loopSeries) {
		t.Fatalf("got %d steady state intakes vs %d loop intakes", len(ssSeries), len(loopSeries))
	}
	for i := range ssSeries {
		if !ssSeries[i].Time.Equal(loopSeries[i].Time) {
			t.Errorf("intake %d: steady state %v, loop %v", i, ssSeries[i].Time, loopSeries[i].Time)
		}
	}
	if first := ssSeries[0].Time; !first.Equal(queryStart) {
		t.Errorf("first steady state intake %v, want %v", first, queryStart)
	}
}

func TestOrderingAndContainment(t *testing.T) {
	start := time.Date(2017, 6, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	branchA := lasting(t, 100, 24*time.Hour)
	branchB, err := dosage.NewLastingDose(50, unit.Milligram, ivFar, 0, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewLastingDose failed: %v", err)
	}
	par, err := dosage.NewParallelDosageSequence(
		[]dosage.BoundedDosage{branchA, branchB},
		[]time.Duration{0, time.Hour},
	)
	if err != nil {
		t.Fatalf("NewParallelDosageSequence failed: %v", err)
	}
	loop, err := dosage.NewDosageLoop(par)
	if err != nil {
		t.Fatalf("NewDosageLoop failed: %v", err)
	}
	r, err := dosage.NewTimeRange(start, time.Time{}, loop)
	if err != nil {
		t.Fatalf("NewTimeRange failed: %v", err)
	}

	var series Series
	if err := Extract(historyOf(t, r), start, end, 1, unit.Milligram, &series, EndOfCycle); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(series) == 0 {
		t.Fatal("no intakes extracted")
	}
	for i, ev := range series {
		if ev.Time.Before(start) || !ev.Time.Before(end) {
			t.Errorf("intake %d at %v outside [%v, %v)", i, ev.Time, start, end)
		}
		if i > 0 && series[i].Time.Before(series[i-1].Time) {
			t.Errorf("series not ordered at %d: %v after %v", i, series[i].Time, series[i-1].Time)
		}
	}
}

func TestNonDestructiveAppend(t *testing.T) {
	start := time.Date(2017, 6, 1, 8, 30, 0, 0, time.UTC)
	rep, _ := dosage.NewDosageRepeat(lasting(t, 100, 12*time.Hour), 5)
	r, _ := dosage.NewTimeRange(start, time.Time{}, rep)
	h := historyOf(t, r)

	var series Series
	if err := Extract(h, start, start.Add(10*24*time.Hour), 1, unit.Milligram, &series, EndOfCycle); err != nil {
		t.Fatalf("first Extract failed: %v", err)
	}
	first := len(series)
	if err := Extract(h, start, start.Add(10*24*time.Hour), 1, unit.Milligram, &series, EndOfCycle); err != nil {
		t.Fatalf("second Extract failed: %v", err)
	}
	if len(series) != 2*first {
		t.Errorf("series length %d after second call, want %d", len(series), 2*first)
	}
}

func TestUnitRoundTrip(t *testing.T) {
	start := time.Date(2017, 6, 1, 8, 30, 0, 0, time.UTC)
	rep, _ := dosage.NewDosageRepeat(lasting(t, 200, 12*time.Hour), 4)
	r, _ := dosage.NewTimeRange(start, time.Time{}, rep)
	h := historyOf(t, r)
	end := start.Add(10 * 24 * time.Hour)

	var mg, ug Series
	if err := Extract(h, start, end, 1, unit.Milligram, &mg, EndOfCycle); err != nil {
		t.Fatalf("Extract mg failed: %v", err)
	}
	if err := Extract(h, start, end, 1, unit.Microgram, &ug, EndOfCycle); err != nil {
		t.Fatalf("Extract ug failed: %v", err)
	}

	if len(mg) != len(ug) {
		t.Fatalf("series lengths differ: %d vs %d", len(mg), len(ug))
	}
	for i := range mg {
		if ug[i].Dose != mg[i].Dose*1000 {
			t.Errorf("intake %d: %g ug vs %g mg, want exact x1000", i, ug[i].Dose, mg[i].Dose)
		}
	}
}

func TestScheduleEditOverride(t *testing.T) {
	start := time.Date(2017, 6, 1, 8, 30, 0, 0, time.UTC)
	end := time.Date(2017, 6, 4, 0, 0, 0, 0, time.UTC)

	loop, _ := dosage.NewDosageLoop(lasting(t, 100, 12*time.Hour))
	r, err := dosage.NewTimeRange(start, end, loop)
	if err != nil {
		t.Fatalf("NewTimeRange failed: %v", err)
	}

	// Replace the 2017-06-02 08:30 tablet with an IV dose half an hour later.
	skipped := time.Date(2017, 6, 2, 8, 30, 0, 0, time.UTC)
	replacement := time.Date(2017, 6, 2, 9, 0, 0, 0, time.UTC)
	r.AddSkip(dosage.PlannedIntake{
		Time: skipped, Dose: 100, DoseUnit: unit.Milligram, Far: oralFar, Interval: 12 * time.Hour,
	})
	r.AddIntake(dosage.PlannedIntake{
		Time: replacement, Dose: 150, DoseUnit: unit.Milligram, Far: ivFar, Interval: 12 * time.Hour,
	})

	var series Series
	if err := Extract(historyOf(t, r), start, end, 1, unit.Milligram, &series, EndOfCycle); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := []time.Time{
		start,
		start.Add(12 * time.Hour),
		replacement,
		start.Add(36 * time.Hour),
		start.Add(48 * time.Hour),
		start.Add(60 * time.Hour),
	}
	if len(series) != len(want) {
		t.Fatalf("got %d intakes, want %d", len(series), len(want))
	}
	for i, ev := range series {
		if !ev.Time.Equal(want[i]) {
			t.Errorf("intake %d at %v, want %v", i, ev.Time, want[i])
		}
		if ev.Time.Equal(skipped) {
			t.Errorf("skipped intake still present at %v", ev.Time)
		}
	}
	if series[2].Dose != 150 || series[2].Far != ivFar {
		t.Errorf("replacement intake = %+v, want 150 mg iv", series[2])
	}
}

func TestInvertedWindowFails(t *testing.T) {
	start := time.Date(2017, 6, 1, 8, 30, 0, 0, time.UTC)
	rep, _ := dosage.NewDosageRepeat(lasting(t, 100, 12*time.Hour), 5)
	r, _ := dosage.NewTimeRange(start, time.Time{}, rep)
	h := historyOf(t, r)

	var series Series
	err := Extract(h, start.Add(48*time.Hour), start, 1, unit.Milligram, &series, EndOfCycle)
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("got %v, want ErrInvalidWindow", err)
	}
	if len(series) != 0 {
		t.Errorf("series populated on failure: %d entries", len(series))
	}

	if err := Extract(h, start, start, 1, unit.Milligram, &series, EndOfCycle); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("degenerate window: got %v, want ErrInvalidWindow", err)
	}
}

func TestExtractionOptionPoints(t *testing.T) {
	start := time.Date(2017, 6, 1, 8, 0, 0, 0, time.UTC)
	// Window cuts the second 12h cycle after 6 hours.
	end := start.Add(18 * time.Hour)

	loop, _ := dosage.NewDosageLoop(lasting(t, 100, 12*time.Hour))
	mkHistory := func() *dosage.History {
		r, _ := dosage.NewTimeRange(start, time.Time{}, loop)
		return historyOf(t, r)
	}

	extract := func(opt ExtractionOption) Series {
		var s Series
		if err := Extract(mkHistory(), start, end, 1, unit.Milligram, &s, opt); err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if len(s) != 2 {
			t.Fatalf("got %d intakes, want 2", len(s))
		}
		return s
	}

	// ForceCycle: full 12h span on both intakes.
	forced := extract(ForceCycle)
	if forced[0].PointsCount != 13 || forced[1].PointsCount != 13 {
		t.Errorf("ForceCycle points = %d, %d, want 13, 13", forced[0].PointsCount, forced[1].PointsCount)
	}

	// EndOfDate: the second intake is capped at the 6h left in the window.
	byDate := extract(EndOfDate)
	if byDate[0].PointsCount != 13 || byDate[1].PointsCount != 7 {
		t.Errorf("EndOfDate points = %d, %d, want 13, 7", byDate[0].PointsCount, byDate[1].PointsCount)
	}

	// EndOfCycle: same cap, except the very last intake keeps its full cycle.
	byCycle := extract(EndOfCycle)
	if byCycle[0].PointsCount != 13 || byCycle[1].PointsCount != 13 {
		t.Errorf("EndOfCycle points = %d, %d, want 13, 13", byCycle[0].PointsCount, byCycle[1].PointsCount)
	}
}
