// Package pkmodel provides the compartmental pharmacokinetic models and the
// fixed-step RK4 engine that integrates one intake interval into a
// concentration trajectory and end-of-interval residuals.
package pkmodel

import (
	"errors"
	"fmt"
	"math"
)

// ErrBadParameters reports a precondition violation on the model inputs:
// a required parameter is missing, non-finite, or violates its positivity
// constraint. No integration work happens after this error.
var ErrBadParameters = errors.New("pkmodel: bad parameters")

// ErrBadConcentration reports a postcondition violation on the integration
// output: a negative or non-finite residual, or a numerical failure inside
// the model derivative.
var ErrBadConcentration = errors.New("pkmodel: bad concentration")

// ParameterSet holds the named parameter values of one parameter-set event,
// e.g. volume, clearance, and rate constants.
type ParameterSet struct {
	values map[string]float64
}

// NewParameterSet copies the given values into a parameter set.
func NewParameterSet(values map[string]float64) ParameterSet {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return ParameterSet{values: copied}
}

// Value returns the named parameter, failing when absent.
func (p ParameterSet) Value(id string) (float64, error) {
	v, ok := p.values[id]
	if !ok {
		return 0, fmt.Errorf("%w: missing parameter %q", ErrBadParameters, id)
	}
	return v, nil
}

// OptionalValue returns the named parameter, or zero when absent.
func (p ParameterSet) OptionalValue(id string) float64 {
	return p.values[id]
}

// With returns a copy of the set with one value replaced.
func (p ParameterSet) With(id string, v float64) ParameterSet {
	c := NewParameterSet(p.values)
	c.values[id] = v
	return c
}

// positive extracts a parameter that must be present, finite and strictly
// positive.
func (p ParameterSet) positive(id string) (float64, error) {
	v, err := p.Value(id)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: parameter %q is not finite", ErrBadParameters, id)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: parameter %q must be positive, got %g", ErrBadParameters, id, v)
	}
	return v, nil
}
