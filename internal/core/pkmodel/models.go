package pkmodel

import (
	"fmt"
	"math"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/intake"
)

// Canonical parameter identifiers used by the macro-parameterized models.
const (
	ParamVolume       = "V"
	ParamClearance    = "CL"
	ParamAbsorption   = "Ka"
	ParamBioavail     = "F"
	ParamPeriphVolume = "V2"
	ParamInterComp    = "Q"
	ParamVmax         = "Vm"
	ParamKm           = "Km"
)

// Model describes one compartmental PK model. Prepare validates the
// parameters against an intake and returns the derivative ready for
// integration; validation failures are ErrBadParameters.
type Model interface {
	// Name identifies the model.
	Name() string
	// Compartments is the fixed size of the state vector.
	Compartments() int
	// Prepare checks the inputs and binds them into a derivative.
	Prepare(ev intake.Event, params ParameterSet) (Derivative, error)
}

// Derivative is a prepared right-hand side of the compartmental ODE system.
// Time is in hours since the intake; concentrations pair with the model's
// compartment layout.
type Derivative interface {
	// Init folds the administered dose into the initial state. The state
	// already carries the residuals from the previous interval.
	Init(y []float64)
	// Derive writes dy/dt for state y at time t. A numerical failure (e.g.
	// a singular saturable term) is returned as an error, never panicked.
	Derive(t float64, y, dy []float64) error
}

// OneCompartmentBolus is the one-compartment intravascular bolus model with
// macro parameters V and CL. State: [central concentration].
type OneCompartmentBolus struct{}

// Name implements Model.
func (OneCompartmentBolus) Name() string { return "linear.1comp.bolus.macro" }

// Compartments implements Model.
func (OneCompartmentBolus) Compartments() int { return 1 }

// Prepare implements Model.
func (OneCompartmentBolus) Prepare(ev intake.Event, params ParameterSet) (Derivative, error) {
	v, err := params.positive(ParamVolume)
	if err != nil {
		return nil, err
	}
	cl, err := params.positive(ParamClearance)
	if err != nil {
		return nil, err
	}
	if ev.Dose < 0 {
		return nil, fmt.Errorf("%w: negative dose %g", ErrBadParameters, ev.Dose)
	}
	return &bolusDeriv{ke: cl / v, doseConc: ev.Dose / v}, nil
}

type bolusDeriv struct {
	ke       float64
	doseConc float64
}

func (d *bolusDeriv) Init(y []float64) { y[0] += d.doseConc }

func (d *bolusDeriv) Derive(_ float64, y, dy []float64) error {
	dy[0] = -d.ke * y[0]
	return nil
}

// OneCompartmentExtra is the one-compartment extravascular model with macro
// parameters V, CL, Ka and F. State: [depot amount, central concentration].
type OneCompartmentExtra struct{}

// Name implements Model.
func (OneCompartmentExtra) Name() string { return "linear.1comp.extra.macro" }

// Compartments implements Model.
func (OneCompartmentExtra) Compartments() int { return 2 }

// Prepare implements Model.
func (OneCompartmentExtra) Prepare(ev intake.Event, params ParameterSet) (Derivative, error) {
	v, err := params.positive(ParamVolume)
	if err != nil {
		return nil, err
	}
	cl, err := params.positive(ParamClearance)
	if err != nil {
		return nil, err
	}
	ka, err := params.positive(ParamAbsorption)
	if err != nil {
		return nil, err
	}
	f, err := params.positive(ParamBioavail)
	if err != nil {
		return nil, err
	}
	if ev.Dose < 0 {
		return nil, fmt.Errorf("%w: negative dose %g", ErrBadParameters, ev.Dose)
	}
	return &extraDeriv{ke: cl / v, ka: ka, v: v, depotDose: f * ev.Dose}, nil
}

type extraDeriv struct {
	ke        float64
	ka        float64
	v         float64
	depotDose float64
}

func (d *extraDeriv) Init(y []float64) { y[0] += d.depotDose }

func (d *extraDeriv) Derive(_ float64, y, dy []float64) error {
	dy[0] = -d.ka * y[0]
	dy[1] = d.ka*y[0]/d.v - d.ke*y[1]
	return nil
}

// OneCompartmentInfusion is the one-compartment constant-rate infusion model
// with macro parameters V and CL. The infusion-rate term is gated by
// t <= infusion time. State: [central concentration].
type OneCompartmentInfusion struct{}

// Name implements Model.
func (OneCompartmentInfusion) Name() string { return "linear.1comp.infusion.macro" }

// Compartments implements Model.
func (OneCompartmentInfusion) Compartments() int { return 1 }

// Prepare implements Model.
func (OneCompartmentInfusion) Prepare(ev intake.Event, params ParameterSet) (Derivative, error) {
	v, err := params.positive(ParamVolume)
	if err != nil {
		return nil, err
	}
	cl, err := params.positive(ParamClearance)
	if err != nil {
		return nil, err
	}
	if ev.Dose < 0 {
		return nil, fmt.Errorf("%w: negative dose %g", ErrBadParameters, ev.Dose)
	}
	if ev.InfusionTime < 0 {
		return nil, fmt.Errorf("%w: negative infusion time %s", ErrBadParameters, ev.InfusionTime)
	}
	tinf := ev.InfusionTime.Hours()
	d := &infusionDeriv{ke: cl / v, tinf: tinf}
	if tinf > 0 {
		d.rateConc = ev.Dose / tinf / v
	} else {
		// A zero infusion time degenerates to a bolus.
		d.bolusConc = ev.Dose / v
	}
	return d, nil
}

type infusionDeriv struct {
	ke        float64
	tinf      float64
	rateConc  float64
	bolusConc float64
}

func (d *infusionDeriv) Init(y []float64) { y[0] += d.bolusConc }

func (d *infusionDeriv) Derive(t float64, y, dy []float64) error {
	dy[0] = -d.ke * y[0]
	if t <= d.tinf {
		dy[0] += d.rateConc
	}
	return nil
}

// TwoCompartmentBolus is the two-compartment intravascular bolus model with
// macro parameters V, V2, CL and Q. State: [central concentration,
// peripheral concentration].
type TwoCompartmentBolus struct{}

// Name implements Model.
func (TwoCompartmentBolus) Name() string { return "linear.2comp.bolus.macro" }

// Compartments implements Model.
func (TwoCompartmentBolus) Compartments() int { return 2 }

// Prepare implements Model.
func (TwoCompartmentBolus) Prepare(ev intake.Event, params ParameterSet) (Derivative, error) {
	v1, err := params.positive(ParamVolume)
	if err != nil {
		return nil, err
	}
	v2, err := params.positive(ParamPeriphVolume)
	if err != nil {
		return nil, err
	}
	cl, err := params.positive(ParamClearance)
	if err != nil {
		return nil, err
	}
	q, err := params.positive(ParamInterComp)
	if err != nil {
		return nil, err
	}
	if ev.Dose < 0 {
		return nil, fmt.Errorf("%w: negative dose %g", ErrBadParameters, ev.Dose)
	}
	return &twoCompDeriv{v1: v1, v2: v2, cl: cl, q: q, doseConc: ev.Dose / v1}, nil
}

type twoCompDeriv struct {
	v1, v2, cl, q float64
	doseConc      float64
}

func (d *twoCompDeriv) Init(y []float64) { y[0] += d.doseConc }

func (d *twoCompDeriv) Derive(_ float64, y, dy []float64) error {
	dy[0] = (-d.cl*y[0] - d.q*y[0] + d.q*y[1]) / d.v1
	dy[1] = (d.q*y[0] - d.q*y[1]) / d.v2
	return nil
}

// MichaelisMenten is the one-compartment bolus model with saturable
// elimination, parameters V, Vm and Km. State: [central concentration].
type MichaelisMenten struct{}

// Name implements Model.
func (MichaelisMenten) Name() string { return "michaelismenten.1comp.bolus" }

// Compartments implements Model.
func (MichaelisMenten) Compartments() int { return 1 }

// Prepare implements Model.
func (MichaelisMenten) Prepare(ev intake.Event, params ParameterSet) (Derivative, error) {
	v, err := params.positive(ParamVolume)
	if err != nil {
		return nil, err
	}
	vm, err := params.positive(ParamVmax)
	if err != nil {
		return nil, err
	}
	km, err := params.positive(ParamKm)
	if err != nil {
		return nil, err
	}
	if ev.Dose < 0 {
		return nil, fmt.Errorf("%w: negative dose %g", ErrBadParameters, ev.Dose)
	}
	return &mmDeriv{v: v, vm: vm, km: km, doseConc: ev.Dose / v}, nil
}

type mmDeriv struct {
	v, vm, km float64
	doseConc  float64
}

func (d *mmDeriv) Init(y []float64) { y[0] += d.doseConc }

func (d *mmDeriv) Derive(_ float64, y, dy []float64) error {
	denom := d.km + y[0]
	if denom <= 0 || math.IsNaN(denom) {
		return fmt.Errorf("%w: singular saturable term, Km+C = %g", ErrBadConcentration, denom)
	}
	dy[0] = -d.vm * y[0] / (d.v * denom)
	return nil
}
