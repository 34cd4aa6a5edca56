// Package estimation searches the eta space for the maximum a posteriori
// individual parameters, minimizing a negative log posterior objective.
package estimation

import (
	"fmt"

	"gonum.org/v1/gonum/optimize"
)

// Objective is any negative log posterior over an eta vector.
type Objective interface {
	NegativeLogLikelihood(etas []float64) float64
}

// Result is the outcome of one estimation run.
type Result struct {
	// Etas is the minimizing eta vector.
	Etas []float64
	// Value is the objective at the minimum.
	Value float64
	// Evaluations is the number of objective evaluations spent.
	Evaluations int
}

// Options tune the search.
type Options struct {
	// MaxEvaluations bounds the objective evaluations. Zero means 10000.
	MaxEvaluations int
	// Start is the initial eta vector. Nil starts at the population mode,
	// the zero vector.
	Start []float64
}

// Estimate minimizes the objective over dim etas with a derivative-free
// simplex search. The objective is expected to saturate, not fail, on bad
// parameter regions, so every evaluation returns a finite ordering.
func Estimate(obj Objective, dim int, opts Options) (Result, error) {
	if dim <= 0 {
		return Result{}, fmt.Errorf("estimation: non-positive dimension %d", dim)
	}
	start := opts.Start
	if start == nil {
		start = make([]float64, dim)
	}
	if len(start) != dim {
		return Result{}, fmt.Errorf("estimation: start vector has %d etas, want %d", len(start), dim)
	}
	maxEval := opts.MaxEvaluations
	if maxEval <= 0 {
		maxEval = 10000
	}

	problem := optimize.Problem{
		Func: obj.NegativeLogLikelihood,
	}
	settings := &optimize.Settings{
		FuncEvaluations: maxEval,
	}

	res, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if err != nil {
		return Result{}, fmt.Errorf("estimation: %w", err)
	}

	return Result{
		Etas:        res.X,
		Value:       res.F,
		Evaluations: res.Stats.FuncEvaluations,
	}, nil
}
