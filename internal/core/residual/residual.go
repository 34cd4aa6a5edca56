// Package residual provides the residual-error models scoring a predicted
// concentration against an observed value.
package residual

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Model contributes one sample's log-density to a likelihood.
type Model interface {
	// SampleLogLikelihood returns the log-density of observing observed when
	// the model predicts predicted.
	SampleLogLikelihood(predicted, observed float64) float64
}

// Additive models a constant-standard-deviation error: obs ~ N(pred, sigma).
type Additive struct {
	Sigma float64
}

// NewAdditive creates an additive error model.
func NewAdditive(sigma float64) (*Additive, error) {
	if sigma <= 0 {
		return nil, fmt.Errorf("residual: non-positive sigma %g", sigma)
	}
	return &Additive{Sigma: sigma}, nil
}

// SampleLogLikelihood implements Model.
func (m *Additive) SampleLogLikelihood(predicted, observed float64) float64 {
	return distuv.Normal{Mu: predicted, Sigma: m.Sigma}.LogProb(observed)
}

// Proportional models an error scaling with the prediction:
// obs ~ N(pred, sigma·pred).
type Proportional struct {
	Sigma float64
}

// NewProportional creates a proportional error model.
func NewProportional(sigma float64) (*Proportional, error) {
	if sigma <= 0 {
		return nil, fmt.Errorf("residual: non-positive sigma %g", sigma)
	}
	return &Proportional{Sigma: sigma}, nil
}

// SampleLogLikelihood implements Model.
func (m *Proportional) SampleLogLikelihood(predicted, observed float64) float64 {
	sd := m.Sigma * math.Abs(predicted)
	if sd == 0 {
		return math.Inf(-1)
	}
	return distuv.Normal{Mu: predicted, Sigma: sd}.LogProb(observed)
}

// Mixed combines an additive floor with a proportional component:
// obs ~ N(pred, sqrt(sigmaA² + (sigmaP·pred)²)).
type Mixed struct {
	SigmaAdditive     float64
	SigmaProportional float64
}

// NewMixed creates a mixed error model.
func NewMixed(sigmaAdditive, sigmaProportional float64) (*Mixed, error) {
	if sigmaAdditive <= 0 || sigmaProportional < 0 {
		return nil, fmt.Errorf("residual: invalid sigmas %g, %g", sigmaAdditive, sigmaProportional)
	}
	return &Mixed{SigmaAdditive: sigmaAdditive, SigmaProportional: sigmaProportional}, nil
}

// SampleLogLikelihood implements Model.
func (m *Mixed) SampleLogLikelihood(predicted, observed float64) float64 {
	sd := math.Sqrt(m.SigmaAdditive*m.SigmaAdditive + m.SigmaProportional*m.SigmaProportional*predicted*predicted)
	return distuv.Normal{Mu: predicted, Sigma: sd}.LogProb(observed)
}

// Exponential models a log-normal error: log(obs) ~ N(log(pred), sigma).
type Exponential struct {
	Sigma float64
}

// NewExponential creates an exponential error model.
func NewExponential(sigma float64) (*Exponential, error) {
	if sigma <= 0 {
		return nil, fmt.Errorf("residual: non-positive sigma %g", sigma)
	}
	return &Exponential{Sigma: sigma}, nil
}

// SampleLogLikelihood implements Model.
func (m *Exponential) SampleLogLikelihood(predicted, observed float64) float64 {
	if predicted <= 0 || observed <= 0 {
		return math.Inf(-1)
	}
	return distuv.Normal{Mu: math.Log(predicted), Sigma: m.Sigma}.LogProb(math.Log(observed))
}
