// Package likelihood scores candidate individual PK parameters (etas)
// against observed concentration samples: the negative log of the Bayesian
// posterior density, up to an additive constant, combining a multivariate
// normal prior with per-sample residual-error terms.
package likelihood

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/intake"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/pkmodel"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/residual"
)

const log2Pi = 1.8378770664093453

// Sample is one observed concentration. A nil weight counts as the default
// weight of one; an explicit zero removes the sample from the objective
// without dropping it from the series. Samples sharing a timestamp are
// scored independently.
type Sample struct {
	Time   time.Time
	Value  float64
	Weight *float64
}

// Weighted returns a sample carrying an explicit weight.
func Weighted(at time.Time, value, weight float64) Sample {
	return Sample{Time: at, Value: value, Weight: &weight}
}

func (s Sample) weight() float64 {
	if s.Weight == nil {
		return 1
	}
	return *s.Weight
}

// ParamsFunc maps a vector of random effects to the concrete parameter set
// the calculator runs with. The mapping (typical values, error model of each
// parameter) is owned by the drug-model layer.
type ParamsFunc func(etas []float64) pkmodel.ParameterSet

// Likelihood evaluates the negative log posterior for one analyte.
type Likelihood struct {
	dim       int
	chol      mat.Cholesky
	logDet    float64
	sigmas    []float64
	resModel  residual.Model
	samples   []Sample
	series    intake.Series
	calc      pkmodel.IntervalCalculator
	paramsFor ParamsFunc
}

// New creates a likelihood. Omega is the inter-individual covariance matrix
// over the etas and must be symmetric positive definite.
func New(omega *mat.SymDense, resModel residual.Model, samples []Sample, series intake.Series, calc pkmodel.IntervalCalculator, paramsFor ParamsFunc) (*Likelihood, error) {
	if omega == nil || omega.SymmetricDim() == 0 {
		return nil, errors.New("likelihood: omega is required")
	}
	if resModel == nil || calc == nil || paramsFor == nil {
		return nil, errors.New("likelihood: residual model, calculator and parameter mapping are required")
	}

	l := &Likelihood{
		dim:       omega.SymmetricDim(),
		resModel:  resModel,
		samples:   append([]Sample(nil), samples...),
		series:    series,
		calc:      calc,
		paramsFor: paramsFor,
	}
	if ok := l.chol.Factorize(omega); !ok {
		return nil, errors.New("likelihood: omega is not positive definite")
	}
	l.logDet = l.chol.LogDet()
	l.sigmas = make([]float64, l.dim)
	for i := 0; i < l.dim; i++ {
		l.sigmas[i] = math.Sqrt(omega.At(i, i))
	}
	return l, nil
}

// Dim returns the eta dimension.
func (l *Likelihood) Dim() int { return l.dim }

// NegativeLogLikelihood evaluates the objective at etas. Concentration
// prediction failures saturate to math.MaxFloat64 so gradient-free
// optimizers treat the point as infinitely bad without crashing. An eta
// vector of the wrong length is a caller defect and panics.
func (l *Likelihood) NegativeLogLikelihood(etas []float64) float64 {
	l.mustMatchDim(etas)

	total := l.prior(etas)

	if len(l.samples) == 0 {
		return total
	}

	params := l.paramsFor(etas)
	predictions, err := Predict(l.series, l.calc, params, sampleTimes(l.samples))
	if err != nil {
		return math.MaxFloat64
	}

	for i, s := range l.samples {
		total -= s.weight() * l.resModel.SampleLogLikelihood(predictions[i], s.Value)
	}
	return total
}

// prior is the quadratic form 0.5·(η'Ω⁻¹η + k·ln2π + ln det Ω).
func (l *Likelihood) prior(etas []float64) float64 {
	eta := mat.NewVecDense(l.dim, append([]float64(nil), etas...))
	var solved mat.VecDense
	if err := l.chol.SolveVecTo(&solved, eta); err != nil {
		return math.MaxFloat64
	}
	quad := mat.Dot(eta, &solved)
	return 0.5 * (quad + float64(l.dim)*log2Pi + l.logDet)
}

// Gradient returns the finite-difference gradient of the objective, each
// component clamped into the bound range derived from the inverse normal CDF
// at the tail probability applied to that eta's marginal standard deviation.
// A non-positive tail uses the default 0.001.
func (l *Likelihood) Gradient(etas []float64, tail float64) []float64 {
	l.mustMatchDim(etas)
	if tail <= 0 || tail >= 0.5 {
		tail = 0.001
	}

	const h = 1e-5
	grad := make([]float64, l.dim)
	probe := append([]float64(nil), etas...)
	for i := range grad {
		orig := probe[i]
		probe[i] = orig + h
		upper := l.NegativeLogLikelihood(probe)
		probe[i] = orig - h
		lower := l.NegativeLogLikelihood(probe)
		probe[i] = orig
		grad[i] = (upper - lower) / (2 * h)

		bound := quantile(1-tail) * l.sigmas[i]
		if grad[i] > bound {
			grad[i] = bound
		}
		if grad[i] < -bound {
			grad[i] = -bound
		}
	}
	return grad
}

func (l *Likelihood) mustMatchDim(etas []float64) {
	if len(etas) != l.dim {
		panic(fmt.Sprintf("likelihood: %d etas for omega dimension %d", len(etas), l.dim))
	}
}

func sampleTimes(samples []Sample) []time.Time {
	times := make([]time.Time, len(samples))
	for i, s := range samples {
		times[i] = s.Time
	}
	return times
}

// Predict computes the concentration at each requested instant by walking
// the intake series in order, carrying the compartment residuals from each
// interval into the next. Instants before the first intake predict zero;
// instants beyond an intake's interval take the interval-end concentration
// of the nearest preceding intake.
func Predict(series intake.Series, calc pkmodel.IntervalCalculator, params pkmodel.ParameterSet, times []time.Time) ([]float64, error) {
	predictions := make([]float64, len(times))
	if len(series) == 0 {
		return predictions, nil
	}

	residuals := make([]float64, calc.Compartments())
	for idx, ev := range series {
		intervalEnd := ev.Time.Add(ev.Interval)
		for i, at := range times {
			if at.Before(ev.Time) {
				continue
			}
			if idx < len(series)-1 && !at.Before(series[idx+1].Time) {
				continue
			}
			offset := at.Sub(ev.Time).Hours()
			conc, _, err := calc.CalculateSinglePoint(ev, params, residuals, offset)
			if err != nil {
				return nil, err
			}
			predictions[i] = conc
		}

		_, next, err := calc.CalculateSinglePoint(ev, params, residuals, intervalEnd.Sub(ev.Time).Hours())
		if err != nil {
			return nil, err
		}
		residuals = next
	}
	return predictions, nil
}

// quantile is the standard normal inverse CDF.
func quantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}
