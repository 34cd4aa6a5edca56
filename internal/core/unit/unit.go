// Package unit provides dose and concentration unit tags and conversion.
package unit

import (
	"fmt"
	"math"
)

// Unit tags every dose and concentration value.
type Unit string

// Mass units for doses and mass-per-volume units for concentrations.
const (
	Gram      Unit = "g"
	Milligram Unit = "mg"
	Microgram Unit = "ug"

	GramPerLiter      Unit = "g/l"
	MilligramPerLiter Unit = "mg/l"
	MicrogramPerLiter Unit = "ug/l"
)

// units maps each unit to its dimension and decimal exponent relative to the
// dimension's base. Conversion multiplies by an exact power of ten, so
// round-trips like mg to ug stay float-exact.
var units = map[Unit]struct {
	dimension string
	exp       int
}{
	Gram:      {"mass", 0},
	Milligram: {"mass", -3},
	Microgram: {"mass", -6},

	GramPerLiter:      {"concentration", 0},
	MilligramPerLiter: {"concentration", -3},
	MicrogramPerLiter: {"concentration", -6},
}

// Convert converts value from one unit to another within the same dimension.
func Convert(value float64, from, to Unit) (float64, error) {
	if from == to {
		return value, nil
	}
	f, ok := units[from]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", from)
	}
	t, ok := units[to]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", to)
	}
	if f.dimension != t.dimension {
		return 0, fmt.Errorf("cannot convert %q to %q", from, to)
	}
	return value * math.Pow10(f.exp-t.exp), nil
}

// Valid reports whether the unit is known.
func Valid(u Unit) bool {
	_, ok := units[u]
	return ok
}
