// Package dosage models treatments as a recursive dosage tree: what to
// give, how often, and over which time ranges. The tree answers two queries
// needed to flatten it into concrete intakes: the periodic time step of one
// repetition, and the first intake instant at or after a reference instant.
package dosage

import "fmt"

// AbsorptionModel identifies how an administered dose enters the system.
type AbsorptionModel string

const (
	// AbsorptionBolus is an instantaneous intravascular administration.
	AbsorptionBolus AbsorptionModel = "bolus"
	// AbsorptionInfusion is an intravascular administration at a constant
	// rate over the infusion time.
	AbsorptionInfusion AbsorptionModel = "infusion"
	// AbsorptionExtravascular is a first-order absorption from a depot
	// compartment (oral, subcutaneous, ...).
	AbsorptionExtravascular AbsorptionModel = "extravascular"
)

// FormulationAndRoute is the pharmaceutical form, administration route and
// absorption model triple carried by every single dose.
type FormulationAndRoute struct {
	Formulation string
	Route       string
	Absorption  AbsorptionModel
}

// Validate checks the absorption model is one of the known values.
func (f FormulationAndRoute) Validate() error {
	switch f.Absorption {
	case AbsorptionBolus, AbsorptionInfusion, AbsorptionExtravascular:
		return nil
	default:
		return fmt.Errorf("unknown absorption model %q", f.Absorption)
	}
}
