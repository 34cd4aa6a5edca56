package treatment

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/dosage"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/likelihood"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/pkmodel"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/residual"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/timeline"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/unit"
)

// BuildHistory converts a wire history into the validated dosage model.
func BuildHistory(spec HistorySpec) (*dosage.History, error) {
	h := dosage.NewHistory()
	for i, rs := range spec.TimeRanges {
		d, err := BuildDosage(rs.Dosage)
		if err != nil {
			return nil, fmt.Errorf("time range %d: %w", i, err)
		}
		r, err := dosage.NewTimeRange(rs.Start, rs.End, d)
		if err != nil {
			return nil, fmt.Errorf("time range %d: %w", i, err)
		}
		for _, s := range rs.Skips {
			pi, err := buildPlannedIntake(s)
			if err != nil {
				return nil, fmt.Errorf("time range %d skip: %w", i, err)
			}
			r.AddSkip(pi)
		}
		for _, a := range rs.Adds {
			pi, err := buildPlannedIntake(a)
			if err != nil {
				return nil, fmt.Errorf("time range %d add: %w", i, err)
			}
			r.AddIntake(pi)
		}
		if err := h.AddTimeRange(r); err != nil {
			return nil, fmt.Errorf("time range %d: %w", i, err)
		}
	}
	return h, nil
}

// BuildDosage converts one wire dosage node, recursively.
func BuildDosage(spec DosageSpec) (dosage.Dosage, error) {
	switch spec.Type {
	case TypeLasting:
		far, err := buildFar(spec)
		if err != nil {
			return nil, err
		}
		return dosage.NewLastingDose(spec.Dose, unit.Unit(spec.Unit), far, spec.InfusionTime.Std(), spec.Interval.Std())

	case TypeDaily:
		far, err := buildFar(spec)
		if err != nil {
			return nil, err
		}
		tod, err := ParseTimeOfDay(spec.TimeOfDay)
		if err != nil {
			return nil, err
		}
		return dosage.NewDailyDose(spec.Dose, unit.Unit(spec.Unit), far, spec.InfusionTime.Std(), tod)

	case TypeWeekly:
		far, err := buildFar(spec)
		if err != nil {
			return nil, err
		}
		tod, err := ParseTimeOfDay(spec.TimeOfDay)
		if err != nil {
			return nil, err
		}
		if spec.Weekday == nil {
			return nil, fmt.Errorf("weekly dose: weekday is required")
		}
		return dosage.NewWeeklyDose(spec.Dose, unit.Unit(spec.Unit), far, spec.InfusionTime.Std(), tod, time.Weekday(*spec.Weekday))

	case TypeRepeat:
		inner, err := buildBounded(spec.Inner, "repeat")
		if err != nil {
			return nil, err
		}
		return dosage.NewDosageRepeat(inner, spec.Count)

	case TypeSequence:
		items, err := buildBoundedItems(spec.Items, "sequence")
		if err != nil {
			return nil, err
		}
		return dosage.NewDosageSequence(items...)

	case TypeParallel:
		items, err := buildBoundedItems(spec.Items, "parallel sequence")
		if err != nil {
			return nil, err
		}
		offsets := make([]time.Duration, len(spec.Offsets))
		for i, o := range spec.Offsets {
			offsets[i] = o.Std()
		}
		return dosage.NewParallelDosageSequence(items, offsets)

	case TypeLoop:
		inner, err := buildBounded(spec.Inner, "loop")
		if err != nil {
			return nil, err
		}
		return dosage.NewDosageLoop(inner)

	case TypeSteadyState:
		inner, err := buildBounded(spec.Inner, "steady state")
		if err != nil {
			return nil, err
		}
		return dosage.NewDosageSteadyState(inner, spec.LastDoseTime)

	default:
		return nil, fmt.Errorf("unknown dosage type %q", spec.Type)
	}
}

func buildBounded(spec *DosageSpec, kind string) (dosage.BoundedDosage, error) {
	if spec == nil {
		return nil, fmt.Errorf("%s: inner dosage is required", kind)
	}
	d, err := BuildDosage(*spec)
	if err != nil {
		return nil, err
	}
	bounded, ok := d.(dosage.BoundedDosage)
	if !ok {
		return nil, fmt.Errorf("%s: inner dosage %q is unbounded", kind, spec.Type)
	}
	return bounded, nil
}

func buildBoundedItems(specs []DosageSpec, kind string) ([]dosage.BoundedDosage, error) {
	items := make([]dosage.BoundedDosage, len(specs))
	for i := range specs {
		item, err := buildBounded(&specs[i], kind)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items[i] = item
	}
	return items, nil
}

func buildFar(spec DosageSpec) (dosage.FormulationAndRoute, error) {
	far := dosage.FormulationAndRoute{
		Formulation: spec.Formulation,
		Route:       spec.Route,
		Absorption:  dosage.AbsorptionModel(spec.Absorption),
	}
	if err := far.Validate(); err != nil {
		return dosage.FormulationAndRoute{}, err
	}
	return far, nil
}

func buildPlannedIntake(spec PlannedIntakeSpec) (dosage.PlannedIntake, error) {
	far := dosage.FormulationAndRoute{
		Formulation: spec.Formulation,
		Route:       spec.Route,
		Absorption:  dosage.AbsorptionModel(spec.Absorption),
	}
	if err := far.Validate(); err != nil {
		return dosage.PlannedIntake{}, err
	}
	if !unit.Valid(unit.Unit(spec.Unit)) {
		return dosage.PlannedIntake{}, fmt.Errorf("unknown unit %q", spec.Unit)
	}
	return dosage.PlannedIntake{
		Time:         spec.Time,
		Dose:         spec.Dose,
		DoseUnit:     unit.Unit(spec.Unit),
		Far:          far,
		InfusionTime: spec.InfusionTime.Std(),
		Interval:     spec.Interval.Std(),
	}, nil
}

// ParseTimeOfDay parses "HH:MM:SS" or "HH:MM".
func ParseTimeOfDay(s string) (timeline.TimeOfDay, error) {
	var hour, minute, second int
	switch n, _ := fmt.Sscanf(s, "%d:%d:%d", &hour, &minute, &second); n {
	case 2, 3:
		return timeline.NewTimeOfDay(hour, minute, second)
	default:
		return timeline.TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
}

// ModelByName resolves a wire model identifier to its implementation.
func ModelByName(name string) (pkmodel.Model, error) {
	switch name {
	case pkmodel.OneCompartmentBolus{}.Name():
		return pkmodel.OneCompartmentBolus{}, nil
	case pkmodel.OneCompartmentExtra{}.Name():
		return pkmodel.OneCompartmentExtra{}, nil
	case pkmodel.OneCompartmentInfusion{}.Name():
		return pkmodel.OneCompartmentInfusion{}, nil
	case pkmodel.TwoCompartmentBolus{}.Name():
		return pkmodel.TwoCompartmentBolus{}, nil
	case pkmodel.MichaelisMenten{}.Name():
		return pkmodel.MichaelisMenten{}, nil
	default:
		return nil, fmt.Errorf("unknown model %q", name)
	}
}

// BuildResidualModel resolves the request's residual-error model.
func BuildResidualModel(req EstimationRequest) (residual.Model, error) {
	switch req.ResidualModel {
	case "additive":
		return residual.NewAdditive(req.Sigma)
	case "proportional":
		return residual.NewProportional(req.Sigma)
	case "mixed":
		return residual.NewMixed(req.Sigma, req.SigmaProp)
	case "exponential":
		return residual.NewExponential(req.Sigma)
	default:
		return nil, fmt.Errorf("unknown residual model %q", req.ResidualModel)
	}
}

// BuildOmega converts the row-major covariance into a symmetric matrix.
func BuildOmega(rows [][]float64) (*mat.SymDense, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("omega is empty")
	}
	omega := mat.NewSymDense(n, nil)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("omega row %d has %d columns, want %d", i, len(row), n)
		}
		for j := i; j < n; j++ {
			if math.Abs(row[j]-rows[j][i]) > 1e-12 {
				return nil, fmt.Errorf("omega is not symmetric at (%d,%d)", i, j)
			}
			omega.SetSym(i, j, row[j])
		}
	}
	return omega, nil
}

// ParameterNames returns the eta ordering for a typical-value map: sorted
// parameter names, so requests evaluate the same way on every worker.
func ParameterNames(typical map[string]float64) []string {
	names := make([]string, 0, len(typical))
	for name := range typical {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParamsFor maps etas onto the typical values with a log-normal individual
// model: parameter i is typical_i times exp(eta_i), in sorted name order.
func ParamsFor(typical map[string]float64) likelihood.ParamsFunc {
	names := ParameterNames(typical)
	return func(etas []float64) pkmodel.ParameterSet {
		values := make(map[string]float64, len(names))
		for i, name := range names {
			values[name] = typical[name] * math.Exp(etas[i])
		}
		return pkmodel.NewParameterSet(values)
	}
}
