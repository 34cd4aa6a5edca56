// Package intake flattens a dosage history into a time-ordered series of
// concrete intake events bounded by a query window.
package intake

import (
	"time"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/dosage"
	"github.com/sotalya/tucuxi-core-sub004/internal/core/unit"
)

// Event is one resolved administration: an absolute instant, the dose
// actually given, the nominal interval until the next intake, and the number
// of sample points requested for this intake's cycle. Events are produced
// only by the extractor and are plain immutable values afterwards.
type Event struct {
	// Time is the absolute administration instant.
	Time time.Time
	// Offset is the duration from the query window start to Time.
	Offset time.Duration
	// Dose is the administered quantity, expressed in DoseUnit.
	Dose float64
	// DoseUnit tags the dose value.
	DoseUnit unit.Unit
	// Interval is the nominal duration until the next scheduled intake.
	Interval time.Duration
	// Far is the formulation, route and absorption model triple.
	Far dosage.FormulationAndRoute
	// InfusionTime is the infusion duration, zero for non-infusion routes.
	InfusionTime time.Duration
	// PointsCount is the number of concentration points requested over this
	// intake's cycle.
	PointsCount int
}

// Series is a flat, time-ordered list of intake events.
type Series []Event

// SameDose reports whether the event administers the planned intake: same
// instant, same formulation/route, and the same quantity once expressed in
// the event's unit.
func (e Event) SameDose(p dosage.PlannedIntake) bool {
	if !e.Time.Equal(p.Time) || e.Far != p.Far {
		return false
	}
	d, err := unit.Convert(p.Dose, p.DoseUnit, e.DoseUnit)
	if err != nil {
		return false
	}
	return d == e.Dose
}
