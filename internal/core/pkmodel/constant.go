package pkmodel

import (
	"fmt"
	"math"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/intake"
)

// Test parameter identifiers of the constant-elimination calculator.
const (
	ParamTestAdditive       = "TestA"
	ParamTestMultiplicative = "TestM"
)

// ConstantEliminationBolus is a closed-form test calculator: the
// concentration over the whole interval is (residual + dose + TestA) · TestM
// with no elimination. It rejects parameter sets lacking its test
// parameters, which makes it the standard probe for calculator/parameter
// mismatches.
type ConstantEliminationBolus struct{}

// NewConstantEliminationBolus creates the test calculator.
func NewConstantEliminationBolus() *ConstantEliminationBolus {
	return &ConstantEliminationBolus{}
}

// Compartments implements IntervalCalculator.
func (*ConstantEliminationBolus) Compartments() int { return 1 }

func (*ConstantEliminationBolus) concentration(ev intake.Event, params ParameterSet, inResiduals []float64) (float64, error) {
	add, err := params.Value(ParamTestAdditive)
	if err != nil {
		return 0, err
	}
	mul, err := params.Value(ParamTestMultiplicative)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(add) || math.IsNaN(mul) {
		return 0, fmt.Errorf("%w: non-finite test parameters", ErrBadParameters)
	}
	residual := 0.0
	if len(inResiduals) > 0 {
		residual = inResiduals[0]
	}
	conc := (residual + ev.Dose + add) * mul
	if conc < 0 {
		return 0, fmt.Errorf("%w: negative concentration %g", ErrBadConcentration, conc)
	}
	return conc, nil
}

// CalculatePoints implements IntervalCalculator.
func (c *ConstantEliminationBolus) CalculatePoints(ev intake.Event, params ParameterSet, inResiduals []float64, allCompartments bool) (*CycleResult, error) {
	conc, err := c.concentration(ev, params, inResiduals)
	if err != nil {
		return nil, err
	}
	times := UniformPertinentTimes{}.Times(ev)
	row := make([]float64, len(times))
	for i := range row {
		row[i] = conc
	}
	return &CycleResult{
		Times:          times,
		Concentrations: [][]float64{row},
		Residuals:      []float64{conc},
	}, nil
}

// CalculateSinglePoint implements IntervalCalculator.
func (c *ConstantEliminationBolus) CalculateSinglePoint(ev intake.Event, params ParameterSet, inResiduals []float64, atTime float64) (float64, []float64, error) {
	conc, err := c.concentration(ev, params, inResiduals)
	if err != nil {
		return 0, nil, err
	}
	if ev.Interval <= 0 {
		return conc, []float64{0}, nil
	}
	return conc, []float64{conc}, nil
}
