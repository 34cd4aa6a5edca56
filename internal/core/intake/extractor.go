package intake

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/dosage"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/unit"
)

// ErrInvalidWindow is returned when the caller supplies an inverted or
// degenerate query window. The output series is left untouched.
var ErrInvalidWindow = errors.New("intake extraction: invalid time window")

// ExtractionOption controls how the point count of each emitted intake is
// capped against the query window.
type ExtractionOption int

const (
	// EndOfCycle caps each intake's point span by the time remaining to the
	// next range boundary, except the very last intake which keeps its full
	// nominal interval.
	EndOfCycle ExtractionOption = iota
	// EndOfDate always caps the point span by the time remaining to the end
	// of the query window.
	EndOfDate
	// ForceCycle always uses the full nominal interval.
	ForceCycle
)

// Extract flattens the history into out, bounded by [start, end). A zero end
// means "now". Doses are converted to toUnit; pointsPerHour sets the target
// concentration density per intake cycle. The emitted events are appended:
// prior content of out is never discarded.
func Extract(h *dosage.History, start, end time.Time, pointsPerHour float64, toUnit unit.Unit, out *Series, opt ExtractionOption) error {
	if start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrInvalidWindow)
	}
	if end.IsZero() {
		end = time.Now()
	}
	if !end.After(start) {
		return fmt.Errorf("%w: start %s not before end %s", ErrInvalidWindow, start, end)
	}
	if pointsPerHour <= 0 {
		return fmt.Errorf("%w: non-positive density %g", ErrInvalidWindow, pointsPerHour)
	}

	x := extractor{queryStart: start, queryEnd: end, pointsPerHour: pointsPerHour, option: opt}

	var produced []Event
	for _, r := range h.Ranges() {
		events, err := x.extractRange(r)
		if err != nil {
			return err
		}
		produced = append(produced, events...)
	}

	// Convert doses once the full schedule is known; the last intake overall
	// keeps its nominal interval under EndOfCycle.
	for i := range produced {
		d, err := unit.Convert(produced[i].Dose, produced[i].DoseUnit, toUnit)
		if err != nil {
			return fmt.Errorf("intake extraction: %w", err)
		}
		produced[i].Dose = d
		produced[i].DoseUnit = toUnit
		if opt == EndOfCycle && i == len(produced)-1 {
			produced[i].PointsCount = x.points(produced[i].Interval)
		}
	}

	*out = append(*out, produced...)
	return nil
}

// extractor carries the per-call extraction policy.
type extractor struct {
	queryStart    time.Time
	queryEnd      time.Time
	pointsPerHour float64
	option        ExtractionOption
}

// extractRange emits the intakes of one time range, clipped to the query
// window, with schedule edits applied and points assigned.
func (x *extractor) extractRange(r *dosage.TimeRange) ([]Event, error) {
	rangeStart := r.Start()
	if rangeStart.IsZero() {
		rangeStart = x.queryStart
	}

	// The tighter of the range window and the query window wins.
	bound := x.queryEnd
	if !r.OpenEnded() && r.End().Before(bound) {
		bound = r.End()
	}
	winStart := x.queryStart
	if rangeStart.After(winStart) {
		winStart = rangeStart
	}
	if !winStart.Before(bound) {
		return nil, nil
	}

	var events []Event
	switch d := r.Dosage().(type) {
	case *dosage.DosageSteadyState:
		// The anchored lattice may start before the nominal range start;
		// output is still clipped to the window, not the anchor.
		anchor := d.FirstIntakeOnOrAfter(winStart)
		x.extractLoop(d.Inner(), anchor, winStart, bound, &events)
	case *dosage.DosageLoop:
		x.extractLoop(d.Inner(), rangeStart, winStart, bound, &events)
	case dosage.BoundedDosage:
		x.extractBounded(d, rangeStart, winStart, bound, &events)
	default:
		return nil, fmt.Errorf("intake extraction: unknown dosage variant %T", d)
	}

	events = applyEdits(events, r, x, winStart, bound)

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})
	return events, nil
}

// extractLoop repeats a bounded dosage from anchor, advancing by its time
// step, until the next computed intake falls at or past the bound.
// Termination is guaranteed by monotonic advancement past a finite bound.
func (x *extractor) extractLoop(inner dosage.BoundedDosage, anchor, winStart, bound time.Time, out *[]Event) {
	step := inner.TimeStep()
	if step <= 0 {
		return
	}
	// Skip whole cycles preceding the window.
	if behind := winStart.Sub(anchor); behind > step {
		anchor = anchor.Add((behind / step) * step)
	}
	for {
		next := inner.FirstIntakeOnOrAfter(anchor)
		if !next.Before(bound) {
			return
		}
		x.extractBounded(inner, anchor, winStart, bound, out)
		anchor = anchor.Add(step)
	}
}

// extractBounded visits one bounded dosage anchored at anchor, emitting the
// intakes that fall inside [winStart, bound).
func (x *extractor) extractBounded(d dosage.BoundedDosage, anchor, winStart, bound time.Time, out *[]Event) {
	switch d := d.(type) {
	case *dosage.LastingDose:
		x.emitSingle(d.SingleDose, d.FirstIntakeOnOrAfter(anchor), d.Interval(), winStart, bound, out)
	case *dosage.DailyDose:
		x.emitSingle(d.SingleDose, d.FirstIntakeOnOrAfter(anchor), d.TimeStep(), winStart, bound, out)
	case *dosage.WeeklyDose:
		x.emitSingle(d.SingleDose, d.FirstIntakeOnOrAfter(anchor), d.TimeStep(), winStart, bound, out)
	case *dosage.DosageRepeat:
		cursor := anchor
		step := d.Inner().TimeStep()
		for i := 0; i < d.NbTimes(); i++ {
			x.extractBounded(d.Inner(), cursor, winStart, bound, out)
			cursor = cursor.Add(step)
		}
	case *dosage.DosageSequence:
		cursor := anchor
		for _, item := range d.Items() {
			x.extractBounded(item, cursor, winStart, bound, out)
			cursor = cursor.Add(item.TimeStep())
		}
	case *dosage.ParallelDosageSequence:
		// Branches are anchored to the same sequence start, each shifted by
		// its own offset; their interleaved output is restored to time order
		// by a stable sort.
		var merged []Event
		for i, item := range d.Items() {
			x.extractBounded(item, anchor.Add(d.Offsets()[i]), winStart, bound, &merged)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Time.Before(merged[j].Time)
		})
		*out = append(*out, merged...)
	}
}

// emitSingle emits one intake if it falls inside the window.
func (x *extractor) emitSingle(sd dosage.SingleDose, at time.Time, interval time.Duration, winStart, bound time.Time, out *[]Event) {
	if at.Before(winStart) || !at.Before(bound) {
		return
	}
	*out = append(*out, Event{
		Time:         at,
		Offset:       at.Sub(x.queryStart),
		Dose:         sd.Dose(),
		DoseUnit:     sd.DoseUnit(),
		Interval:     interval,
		Far:          sd.FormulationAndRoute(),
		InfusionTime: sd.InfusionTime(),
		PointsCount:  x.pointsFor(at, interval, bound),
	})
}

// pointsFor derives the point count for one intake from the extraction
// option: the span is the nominal interval, capped by the relevant boundary.
func (x *extractor) pointsFor(at time.Time, interval time.Duration, rangeBound time.Time) int {
	span := interval
	switch x.option {
	case EndOfCycle:
		if remaining := rangeBound.Sub(at); remaining < span {
			span = remaining
		}
	case EndOfDate:
		if remaining := x.queryEnd.Sub(at); remaining < span {
			span = remaining
		}
	}
	return x.points(span)
}

// points converts a time span to a point count at the requested density.
func (x *extractor) points(span time.Duration) int {
	n := int(math.Round(span.Hours()*x.pointsPerHour)) + 1
	if n < 2 {
		n = 2
	}
	return n
}

// applyEdits removes skipped intakes and inserts added ones. Edits may target
// any instant inside the range's window, including ones produced by nested
// branches.
func applyEdits(events []Event, r *dosage.TimeRange, x *extractor, winStart, bound time.Time) []Event {
	for _, skip := range r.Skips() {
		for i, ev := range events {
			if ev.SameDose(skip) {
				events = append(events[:i], events[i+1:]...)
				break
			}
		}
	}
	for _, add := range r.Adds() {
		if add.Time.Before(winStart) || !add.Time.Before(bound) {
			continue
		}
		events = append(events, Event{
			Time:         add.Time,
			Offset:       add.Time.Sub(x.queryStart),
			Dose:         add.Dose,
			DoseUnit:     add.DoseUnit,
			Interval:     add.Interval,
			Far:          add.Far,
			InfusionTime: add.InfusionTime,
			PointsCount:  x.pointsFor(add.Time, add.Interval, bound),
		})
	}
	return events
}
