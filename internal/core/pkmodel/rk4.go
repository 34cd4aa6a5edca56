package pkmodel

import (
	"fmt"
	"math"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/intake"
)

// DefaultStepHours is the internal integration step: one minute.
const DefaultStepHours = 1.0 / 60.0

// CycleResult is the concentration trajectory of one intake interval plus
// the state carried into the next interval.
type CycleResult struct {
	// Times are the output instants in hours since the intake.
	Times []float64
	// Concentrations holds one row per compartment; only the first row is
	// filled unless all compartments were requested.
	Concentrations [][]float64
	// Residuals is the full compartment state at the end of the interval.
	Residuals []float64
}

// IntervalCalculator computes concentrations across one dosing interval.
// Instances keep no per-call scratch state, so a single value is safe to
// share across goroutines; callers that want strict per-worker isolation can
// still instantiate one per worker.
type IntervalCalculator interface {
	// Compartments is the state vector size.
	Compartments() int
	// CalculatePoints integrates one full interval, reporting concentrations
	// at the intake's pertinent times and the end-of-interval residuals.
	CalculatePoints(ev intake.Event, params ParameterSet, inResiduals []float64, allCompartments bool) (*CycleResult, error)
	// CalculateSinglePoint reports the first-compartment concentration at
	// one instant (hours since the intake) plus the end-of-interval
	// residuals. A zero-length interval forces zero residuals.
	CalculateSinglePoint(ev intake.Event, params ParameterSet, inResiduals []float64, atTime float64) (float64, []float64, error)
}

// PertinentTimes decides the in-interval instants that require output.
type PertinentTimes interface {
	// Times returns the output instants in hours since the intake, sorted
	// ascending, ending at the interval length.
	Times(ev intake.Event) []float64
}

// UniformPertinentTimes spreads the intake's point count evenly over its
// interval.
type UniformPertinentTimes struct{}

// Times implements PertinentTimes.
func (UniformPertinentTimes) Times(ev intake.Event) []float64 {
	n := ev.PointsCount
	if n < 2 {
		n = 2
	}
	interval := ev.Interval.Hours()
	times := make([]float64, n)
	for i := range times {
		times[i] = interval * float64(i) / float64(n-1)
	}
	return times
}

// RK4Calculator integrates a compartmental model with the classical
// fixed-step 4-stage Runge-Kutta scheme, shrinking the step locally so that
// every pertinent time is hit exactly.
type RK4Calculator struct {
	model Model
	times PertinentTimes
	h     float64
}

// NewRK4Calculator creates a calculator for the given model with the default
// internal step and uniform pertinent times.
func NewRK4Calculator(model Model) *RK4Calculator {
	return &RK4Calculator{model: model, times: UniformPertinentTimes{}, h: DefaultStepHours}
}

// WithStep overrides the internal step size in hours.
func (c *RK4Calculator) WithStep(h float64) *RK4Calculator {
	if h > 0 {
		c.h = h
	}
	return c
}

// WithPertinentTimes overrides the pertinent-times strategy.
func (c *RK4Calculator) WithPertinentTimes(p PertinentTimes) *RK4Calculator {
	if p != nil {
		c.times = p
	}
	return c
}

// Compartments implements IntervalCalculator.
func (c *RK4Calculator) Compartments() int { return c.model.Compartments() }

// CalculatePoints implements IntervalCalculator.
func (c *RK4Calculator) CalculatePoints(ev intake.Event, params ParameterSet, inResiduals []float64, allCompartments bool) (*CycleResult, error) {
	if ev.Interval <= 0 {
		return nil, fmt.Errorf("%w: non-positive interval %s", ErrBadParameters, ev.Interval)
	}
	times := c.times.Times(ev)
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: no pertinent times", ErrBadParameters)
	}

	y, deriv, err := c.prepare(ev, params, inResiduals)
	if err != nil {
		return nil, err
	}

	nComp := c.model.Compartments()
	rows := 1
	if allCompartments {
		rows = nComp
	}
	result := &CycleResult{
		Times:          times,
		Concentrations: make([][]float64, rows),
		Residuals:      make([]float64, nComp),
	}
	for i := range result.Concentrations {
		result.Concentrations[i] = make([]float64, len(times))
	}

	t := 0.0
	for i, pt := range times {
		if err := c.advance(deriv, &t, pt, y); err != nil {
			return nil, err
		}
		for row := 0; row < rows; row++ {
			result.Concentrations[row][i] = y[row]
		}
	}

	copy(result.Residuals, y)
	if err := checkResiduals(result.Residuals); err != nil {
		return nil, err
	}
	return result, nil
}

// CalculateSinglePoint implements IntervalCalculator.
func (c *RK4Calculator) CalculateSinglePoint(ev intake.Event, params ParameterSet, inResiduals []float64, atTime float64) (float64, []float64, error) {
	if atTime < 0 {
		return 0, nil, fmt.Errorf("%w: negative time %g", ErrBadParameters, atTime)
	}

	y, deriv, err := c.prepare(ev, params, inResiduals)
	if err != nil {
		return 0, nil, err
	}

	interval := ev.Interval.Hours()
	residuals := make([]float64, c.model.Compartments())

	// A zero-length residual interval carries nothing into the next cycle.
	if interval <= 0 {
		conc := y[0]
		if atTime > 0 {
			t := 0.0
			if err := c.advance(deriv, &t, atTime, y); err != nil {
				return 0, nil, err
			}
			conc = y[0]
		}
		return conc, residuals, nil
	}

	t := 0.0
	target := atTime
	if target > interval {
		target = interval
	}
	if err := c.advance(deriv, &t, target, y); err != nil {
		return 0, nil, err
	}
	conc := y[0]

	if err := c.advance(deriv, &t, interval, y); err != nil {
		return 0, nil, err
	}
	copy(residuals, y)
	if err := checkResiduals(residuals); err != nil {
		return 0, nil, err
	}
	return conc, residuals, nil
}

// prepare validates inputs and builds the initial state from the residuals
// and the administered dose.
func (c *RK4Calculator) prepare(ev intake.Event, params ParameterSet, inResiduals []float64) ([]float64, Derivative, error) {
	nComp := c.model.Compartments()
	if inResiduals != nil && len(inResiduals) != nComp {
		return nil, nil, fmt.Errorf("%w: %d residuals for %d compartments", ErrBadParameters, len(inResiduals), nComp)
	}

	deriv, err := c.model.Prepare(ev, params)
	if err != nil {
		return nil, nil, err
	}

	y := make([]float64, nComp)
	copy(y, inResiduals)
	deriv.Init(y)
	return y, deriv, nil
}

// advance integrates the state from *t to target, landing exactly on target
// by shrinking the final step.
func (c *RK4Calculator) advance(deriv Derivative, t *float64, target float64, y []float64) error {
	n := len(y)
	k1 := make([]float64, n)
	k2 := make([]float64, n)
	k3 := make([]float64, n)
	k4 := make([]float64, n)
	tmp := make([]float64, n)

	for *t < target {
		h := c.h
		if *t+h > target {
			h = target - *t
		}
		if err := c.step(deriv, *t, h, y, k1, k2, k3, k4, tmp); err != nil {
			return err
		}
		*t += h
	}
	return nil
}

// step performs one classical RK4 update:
// k1 = h·f(t, y), k2 = h·f(t+h/2, y+k1/2), k3 = h·f(t+h/2, y+k2/2),
// k4 = h·f(t+h, y+k3), y += k1/6 + k2/3 + k3/3 + k4/6.
func (c *RK4Calculator) step(deriv Derivative, t, h float64, y, k1, k2, k3, k4, tmp []float64) error {
	if err := deriv.Derive(t, y, k1); err != nil {
		return err
	}
	for i := range y {
		k1[i] *= h
		tmp[i] = y[i] + k1[i]/2
	}
	if err := deriv.Derive(t+h/2, tmp, k2); err != nil {
		return err
	}
	for i := range y {
		k2[i] *= h
		tmp[i] = y[i] + k2[i]/2
	}
	if err := deriv.Derive(t+h/2, tmp, k3); err != nil {
		return err
	}
	for i := range y {
		k3[i] *= h
		tmp[i] = y[i] + k3[i]
	}
	if err := deriv.Derive(t+h, tmp, k4); err != nil {
		return err
	}
	for i := range y {
		y[i] += k1[i]/6 + k2[i]/3 + k3[i]/3 + k4[i]/6
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return fmt.Errorf("%w: non-finite state in compartment %d at t=%g", ErrBadConcentration, i, t+h)
		}
	}
	return nil
}

// checkResiduals enforces the non-negativity postcondition. A negative
// residual indicates a modeling or numerical defect and is surfaced, never
// clamped.
func checkResiduals(residuals []float64) error {
	for i, r := range residuals {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return fmt.Errorf("%w: non-finite residual in compartment %d", ErrBadConcentration, i)
		}
		if r < 0 {
			return fmt.Errorf("%w: negative residual %g in compartment %d", ErrBadConcentration, r, i)
		}
	}
	return nil
}
