package dosage

import (
	"errors"
	"fmt"
	"time"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/timeline"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/unit"
)

// ErrInvalidDosage is wrapped by every constructor-time validation failure.
var ErrInvalidDosage = errors.New("invalid dosage")

// Dosage is the closed set of dosage variants. Every variant answers the two
// queries the intake extractor needs: the duration spanned by one full
// repetition and the first intake instant at or after a reference.
//
// The set is sealed: only types in this package implement it, so the
// extractor can switch exhaustively over the variants.
type Dosage interface {
	// TimeStep is the duration spanned by one full repetition.
	TimeStep() time.Duration
	// FirstIntakeOnOrAfter returns the first intake instant at or after ref.
	FirstIntakeOnOrAfter(ref time.Time) time.Time
	// FormulationAndRoutes lists the formulation/route triples used below
	// this node, in first-use order.
	FormulationAndRoutes() []FormulationAndRoute
	// Clone deep-copies the dosage tree.
	Clone() Dosage

	sealed()
}

// BoundedDosage is a dosage with a finite, computable time step. Loops and
// steady states are constructible only from bounded dosages, which rules out
// loop-in-loop nesting by construction.
type BoundedDosage interface {
	Dosage
	// CloneBounded deep-copies the dosage, preserving boundedness.
	CloneBounded() BoundedDosage
}

// SingleDose carries the administration payload shared by the concrete
// single-dose kinds: quantity, unit, formulation/route and infusion time.
type SingleDose struct {
	dose         float64
	doseUnit     unit.Unit
	far          FormulationAndRoute
	infusionTime time.Duration
}

func newSingleDose(dose float64, doseUnit unit.Unit, far FormulationAndRoute, infusionTime time.Duration) (SingleDose, error) {
	if dose < 0 {
		return SingleDose{}, fmt.Errorf("%w: negative dose %g", ErrInvalidDosage, dose)
	}
	if !unit.Valid(doseUnit) {
		return SingleDose{}, fmt.Errorf("%w: unknown dose unit %q", ErrInvalidDosage, doseUnit)
	}
	if err := far.Validate(); err != nil {
		return SingleDose{}, fmt.Errorf("%w: %v", ErrInvalidDosage, err)
	}
	// Zero infusion time is tolerated even for the infusion model.
	if infusionTime < 0 {
		return SingleDose{}, fmt.Errorf("%w: negative infusion time %s", ErrInvalidDosage, infusionTime)
	}
	return SingleDose{dose: dose, doseUnit: doseUnit, far: far, infusionTime: infusionTime}, nil
}

// Dose returns the dose quantity.
func (s SingleDose) Dose() float64 { return s.dose }

// DoseUnit returns the unit the dose is expressed in.
func (s SingleDose) DoseUnit() unit.Unit { return s.doseUnit }

// FormulationAndRoute returns the formulation/route triple.
func (s SingleDose) FormulationAndRoute() FormulationAndRoute { return s.far }

// InfusionTime returns the infusion duration, zero for non-infusion routes.
func (s SingleDose) InfusionTime() time.Duration { return s.infusionTime }

// FormulationAndRoutes implements Dosage.
func (s SingleDose) FormulationAndRoutes() []FormulationAndRoute {
	return []FormulationAndRoute{s.far}
}

// LastingDose repeats a single dose at a fixed interval, starting immediately
// at the anchoring instant.
type LastingDose struct {
	SingleDose
	interval time.Duration
}

// NewLastingDose creates a LastingDose. The interval must be strictly
// positive.
func NewLastingDose(dose float64, doseUnit unit.Unit, far FormulationAndRoute, infusionTime, interval time.Duration) (*LastingDose, error) {
	sd, err := newSingleDose(dose, doseUnit, far, infusionTime)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: non-positive interval %s", ErrInvalidDosage, interval)
	}
	return &LastingDose{SingleDose: sd, interval: interval}, nil
}

// Interval returns the fixed repetition interval.
func (d *LastingDose) Interval() time.Duration { return d.interval }

// TimeStep implements Dosage.
func (d *LastingDose) TimeStep() time.Duration { return d.interval }

// FirstIntakeOnOrAfter implements Dosage: a lasting dose starts at the
// reference itself.
func (d *LastingDose) FirstIntakeOnOrAfter(ref time.Time) time.Time { return ref }

// Clone implements Dosage.
func (d *LastingDose) Clone() Dosage { return d.CloneBounded() }

// CloneBounded implements BoundedDosage.
func (d *LastingDose) CloneBounded() BoundedDosage {
	c := *d
	return &c
}

func (d *LastingDose) sealed() {}

// DailyDose administers a single dose every day at a fixed time of day.
type DailyDose struct {
	SingleDose
	timeOfDay timeline.TimeOfDay
}

// NewDailyDose creates a DailyDose.
func NewDailyDose(dose float64, doseUnit unit.Unit, far FormulationAndRoute, infusionTime time.Duration, tod timeline.TimeOfDay) (*DailyDose, error) {
	sd, err := newSingleDose(dose, doseUnit, far, infusionTime)
	if err != nil {
		return nil, err
	}
	return &DailyDose{SingleDose: sd, timeOfDay: tod}, nil
}

// TimeOfDay returns the administration time of day.
func (d *DailyDose) TimeOfDay() timeline.TimeOfDay { return d.timeOfDay }

// TimeStep implements Dosage.
func (d *DailyDose) TimeStep() time.Duration { return 24 * time.Hour }

// FirstIntakeOnOrAfter implements Dosage: the next occurrence of the time of
// day, on the same day when it has not yet passed.
func (d *DailyDose) FirstIntakeOnOrAfter(ref time.Time) time.Time {
	return d.timeOfDay.NextOccurrence(ref)
}

// Clone implements Dosage.
func (d *DailyDose) Clone() Dosage { return d.CloneBounded() }

// CloneBounded implements BoundedDosage.
func (d *DailyDose) CloneBounded() BoundedDosage {
	c := *d
	return &c
}

func (d *DailyDose) sealed() {}

// WeeklyDose administers a single dose every week on a fixed day of week at a
// fixed time of day.
type WeeklyDose struct {
	DailyDose
	dayOfWeek time.Weekday
}

// NewWeeklyDose creates a WeeklyDose. The day of week must be a valid 0-6
// encoding.
func NewWeeklyDose(dose float64, doseUnit unit.Unit, far FormulationAndRoute, infusionTime time.Duration, tod timeline.TimeOfDay, day time.Weekday) (*WeeklyDose, error) {
	dd, err := NewDailyDose(dose, doseUnit, far, infusionTime, tod)
	if err != nil {
		return nil, err
	}
	if day < time.Sunday || day > time.Saturday {
		return nil, fmt.Errorf("%w: day of week out of range: %d", ErrInvalidDosage, day)
	}
	return &WeeklyDose{DailyDose: *dd, dayOfWeek: day}, nil
}

// DayOfWeek returns the administration day of week.
func (d *WeeklyDose) DayOfWeek() time.Weekday { return d.dayOfWeek }

// TimeStep implements Dosage.
func (d *WeeklyDose) TimeStep() time.Duration { return 7 * 24 * time.Hour }

// FirstIntakeOnOrAfter implements Dosage: the next occurrence of the
// (day of week, time of day) pair at or after ref.
func (d *WeeklyDose) FirstIntakeOnOrAfter(ref time.Time) time.Time {
	return d.timeOfDay.NextWeekdayOccurrence(ref, d.dayOfWeek)
}

// Clone implements Dosage.
func (d *WeeklyDose) Clone() Dosage { return d.CloneBounded() }

// CloneBounded implements BoundedDosage.
func (d *WeeklyDose) CloneBounded() BoundedDosage {
	c := *d
	return &c
}

func (d *WeeklyDose) sealed() {}

// DosageRepeat plays a bounded dosage back-to-back a fixed number of times.
type DosageRepeat struct {
	inner   BoundedDosage
	nbTimes int
}

// NewDosageRepeat creates a DosageRepeat. The count must be at least one.
func NewDosageRepeat(inner BoundedDosage, nbTimes int) (*DosageRepeat, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: nil inner dosage", ErrInvalidDosage)
	}
	if nbTimes < 1 {
		return nil, fmt.Errorf("%w: repeat count %d", ErrInvalidDosage, nbTimes)
	}
	return &DosageRepeat{inner: inner, nbTimes: nbTimes}, nil
}

// Inner returns the repeated dosage.
func (d *DosageRepeat) Inner() BoundedDosage { return d.inner }

// NbTimes returns the repetition count.
func (d *DosageRepeat) NbTimes() int { return d.nbTimes }

// TimeStep implements Dosage.
func (d *DosageRepeat) TimeStep() time.Duration {
	return time.Duration(d.nbTimes) * d.inner.TimeStep()
}

// FirstIntakeOnOrAfter implements Dosage.
func (d *DosageRepeat) FirstIntakeOnOrAfter(ref time.Time) time.Time {
	return d.inner.FirstIntakeOnOrAfter(ref)
}

// FormulationAndRoutes implements Dosage.
func (d *DosageRepeat) FormulationAndRoutes() []FormulationAndRoute {
	return d.inner.FormulationAndRoutes()
}

// Clone implements Dosage.
func (d *DosageRepeat) Clone() Dosage { return d.CloneBounded() }

// CloneBounded implements BoundedDosage.
func (d *DosageRepeat) CloneBounded() BoundedDosage {
	return &DosageRepeat{inner: d.inner.CloneBounded(), nbTimes: d.nbTimes}
}

func (d *DosageRepeat) sealed() {}

// DosageSequence plays an ordered list of bounded dosages back-to-back.
type DosageSequence struct {
	items []BoundedDosage
}

// NewDosageSequence creates a DosageSequence from at least one element.
func NewDosageSequence(items ...BoundedDosage) (*DosageSequence, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty sequence", ErrInvalidDosage)
	}
	for i, it := range items {
		if it == nil {
			return nil, fmt.Errorf("%w: nil sequence element %d", ErrInvalidDosage, i)
		}
	}
	return &DosageSequence{items: append([]BoundedDosage(nil), items...)}, nil
}

// Items returns the sequence elements in play order.
func (d *DosageSequence) Items() []BoundedDosage { return d.items }

// TimeStep implements Dosage: the sum of the inner steps.
func (d *DosageSequence) TimeStep() time.Duration {
	var total time.Duration
	for _, it := range d.items {
		total += it.TimeStep()
	}
	return total
}

// FirstIntakeOnOrAfter implements Dosage.
func (d *DosageSequence) FirstIntakeOnOrAfter(ref time.Time) time.Time {
	return d.items[0].FirstIntakeOnOrAfter(ref)
}

// FormulationAndRoutes implements Dosage.
func (d *DosageSequence) FormulationAndRoutes() []FormulationAndRoute {
	return collectRoutes(d.items)
}

// Clone implements Dosage.
func (d *DosageSequence) Clone() Dosage { return d.CloneBounded() }

// CloneBounded implements BoundedDosage.
func (d *DosageSequence) CloneBounded() BoundedDosage {
	items := make([]BoundedDosage, len(d.items))
	for i, it := range d.items {
		items[i] = it.CloneBounded()
	}
	return &DosageSequence{items: items}
}

func (d *DosageSequence) sealed() {}

// ParallelDosageSequence plays bounded dosages in parallel, each shifted by
// its own offset from the same sequence start.
type ParallelDosageSequence struct {
	items   []BoundedDosage
	offsets []time.Duration
}

// NewParallelDosageSequence creates a ParallelDosageSequence from paired
// dosages and offsets.
func NewParallelDosageSequence(items []BoundedDosage, offsets []time.Duration) (*ParallelDosageSequence, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty parallel sequence", ErrInvalidDosage)
	}
	if len(items) != len(offsets) {
		return nil, fmt.Errorf("%w: %d dosages but %d offsets", ErrInvalidDosage, len(items), len(offsets))
	}
	for i, it := range items {
		if it == nil {
			return nil, fmt.Errorf("%w: nil parallel element %d", ErrInvalidDosage, i)
		}
		if offsets[i] < 0 {
			return nil, fmt.Errorf("%w: negative offset %s", ErrInvalidDosage, offsets[i])
		}
	}
	return &ParallelDosageSequence{
		items:   append([]BoundedDosage(nil), items...),
		offsets: append([]time.Duration(nil), offsets...),
	}, nil
}

// Items returns the parallel branches.
func (d *ParallelDosageSequence) Items() []BoundedDosage { return d.items }

// Offsets returns each branch's shift from the sequence start.
func (d *ParallelDosageSequence) Offsets() []time.Duration { return d.offsets }

// TimeStep implements Dosage: the maximum of offset + inner step over all
// branches.
func (d *ParallelDosageSequence) TimeStep() time.Duration {
	var max time.Duration
	for i, it := range d.items {
		if span := d.offsets[i] + it.TimeStep(); span > max {
			max = span
		}
	}
	return max
}

// FirstIntakeOnOrAfter implements Dosage: offsets are relative to the
// sequence start, so the first intake is the reference itself.
func (d *ParallelDosageSequence) FirstIntakeOnOrAfter(ref time.Time) time.Time { return ref }

// FormulationAndRoutes implements Dosage.
func (d *ParallelDosageSequence) FormulationAndRoutes() []FormulationAndRoute {
	return collectRoutes(d.items)
}

// Clone implements Dosage.
func (d *ParallelDosageSequence) Clone() Dosage { return d.CloneBounded() }

// CloneBounded implements BoundedDosage.
func (d *ParallelDosageSequence) CloneBounded() BoundedDosage {
	items := make([]BoundedDosage, len(d.items))
	for i, it := range d.items {
		items[i] = it.CloneBounded()
	}
	return &ParallelDosageSequence{
		items:   items,
		offsets: append([]time.Duration(nil), d.offsets...),
	}
}

func (d *ParallelDosageSequence) sealed() {}

// DosageLoop repeats a bounded dosage indefinitely from the start of the
// containing time range.
type DosageLoop struct {
	inner BoundedDosage
}

// NewDosageLoop creates a DosageLoop. Accepting only bounded dosages makes a
// loop inside a loop unrepresentable.
func NewDosageLoop(inner BoundedDosage) (*DosageLoop, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: nil inner dosage", ErrInvalidDosage)
	}
	return &DosageLoop{inner: inner}, nil
}

// Inner returns the looped dosage.
func (d *DosageLoop) Inner() BoundedDosage { return d.inner }

// TimeStep implements Dosage: the step of one repetition.
func (d *DosageLoop) TimeStep() time.Duration { return d.inner.TimeStep() }

// FirstIntakeOnOrAfter implements Dosage.
func (d *DosageLoop) FirstIntakeOnOrAfter(ref time.Time) time.Time {
	return d.inner.FirstIntakeOnOrAfter(ref)
}

// FormulationAndRoutes implements Dosage.
func (d *DosageLoop) FormulationAndRoutes() []FormulationAndRoute {
	return d.inner.FormulationAndRoutes()
}

// Clone implements Dosage.
func (d *DosageLoop) Clone() Dosage {
	return &DosageLoop{inner: d.inner.CloneBounded()}
}

func (d *DosageLoop) sealed() {}

// DosageSteadyState is a loop phase-locked to a known dose time. The anchor
// need not be the first or last actual dose: any instant on the periodic
// lattice is valid.
type DosageSteadyState struct {
	DosageLoop
	lastDoseTime time.Time
}

// NewDosageSteadyState creates a DosageSteadyState anchored at lastDoseTime.
func NewDosageSteadyState(inner BoundedDosage, lastDoseTime time.Time) (*DosageSteadyState, error) {
	loop, err := NewDosageLoop(inner)
	if err != nil {
		return nil, err
	}
	if lastDoseTime.IsZero() {
		return nil, fmt.Errorf("%w: steady state requires an anchor dose time", ErrInvalidDosage)
	}
	return &DosageSteadyState{DosageLoop: *loop, lastDoseTime: lastDoseTime}, nil
}

// LastDoseTime returns the lattice anchor.
func (d *DosageSteadyState) LastDoseTime() time.Time { return d.lastDoseTime }

// FirstIntakeOnOrAfter implements Dosage: the lattice point nearest to, but
// not before, the reference, found by floor-dividing the signed gap between
// reference and anchor by the inner time step.
func (d *DosageSteadyState) FirstIntakeOnOrAfter(ref time.Time) time.Time {
	step := d.TimeStep()
	if step <= 0 {
		return ref
	}
	gap := ref.Sub(d.lastDoseTime)
	k := gap / step
	if gap%step != 0 && gap < 0 {
		k--
	}
	candidate := d.lastDoseTime.Add(k * step)
	if candidate.Before(ref) {
		candidate = candidate.Add(step)
	}
	return candidate
}

// Clone implements Dosage.
func (d *DosageSteadyState) Clone() Dosage {
	return &DosageSteadyState{
		DosageLoop:   DosageLoop{inner: d.inner.CloneBounded()},
		lastDoseTime: d.lastDoseTime,
	}
}

func (d *DosageSteadyState) sealed() {}

func collectRoutes(items []BoundedDosage) []FormulationAndRoute {
	var routes []FormulationAndRoute
	seen := make(map[FormulationAndRoute]bool)
	for _, it := range items {
		for _, r := range it.FormulationAndRoutes() {
			if !seen[r] {
				seen[r] = true
				routes = append(routes, r)
			}
		}
	}
	return routes
}
