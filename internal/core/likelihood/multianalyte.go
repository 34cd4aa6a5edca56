package likelihood

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/intake"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/pkmodel"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/residual"
)

// Analyte pairs one measured substance's samples with its residual-error
// model and concentration calculator. A legitimately empty sample list
// contributes zero terms.
type Analyte struct {
	ResModel residual.Model
	Samples  []Sample
	Calc     pkmodel.IntervalCalculator
}

// MultiAnalyte evaluates the negative log posterior jointly over several
// analytes sharing one eta vector and one prior.
type MultiAnalyte struct {
	dim       int
	chol      mat.Cholesky
	logDet    float64
	analytes  []Analyte
	series    intake.Series
	paramsFor ParamsFunc
}

// NewMultiAnalyte creates a joint likelihood over the analytes.
func NewMultiAnalyte(omega *mat.SymDense, analytes []Analyte, series intake.Series, paramsFor ParamsFunc) (*MultiAnalyte, error) {
	if omega == nil || omega.SymmetricDim() == 0 {
		return nil, errors.New("likelihood: omega is required")
	}
	if len(analytes) == 0 {
		return nil, errors.New("likelihood: at least one analyte is required")
	}
	if paramsFor == nil {
		return nil, errors.New("likelihood: parameter mapping is required")
	}
	for _, a := range analytes {
		if a.ResModel == nil || a.Calc == nil {
			return nil, errors.New("likelihood: every analyte needs a residual model and a calculator")
		}
	}

	m := &MultiAnalyte{
		dim:       omega.SymmetricDim(),
		analytes:  analytes,
		series:    series,
		paramsFor: paramsFor,
	}
	if ok := m.chol.Factorize(omega); !ok {
		return nil, errors.New("likelihood: omega is not positive definite")
	}
	m.logDet = m.chol.LogDet()
	return m, nil
}

// NegativeLogLikelihood evaluates the joint objective at etas, saturating to
// math.MaxFloat64 on any analyte's prediction failure.
func (m *MultiAnalyte) NegativeLogLikelihood(etas []float64) float64 {
	if len(etas) != m.dim {
		panic("likelihood: eta vector length mismatch with omega dimension")
	}

	eta := mat.NewVecDense(m.dim, append([]float64(nil), etas...))
	var solved mat.VecDense
	if err := m.chol.SolveVecTo(&solved, eta); err != nil {
		return math.MaxFloat64
	}
	total := 0.5 * (mat.Dot(eta, &solved) + float64(m.dim)*log2Pi + m.logDet)

	params := m.paramsFor(etas)
	for _, a := range m.analytes {
		if len(a.Samples) == 0 {
			continue
		}
		predictions, err := Predict(m.series, a.Calc, params, sampleTimes(a.Samples))
		if err != nil {
			return math.MaxFloat64
		}
		for i, s := range a.Samples {
			total -= s.weight() * a.ResModel.SampleLogLikelihood(predictions[i], s.Value)
		}
	}
	return total
}
