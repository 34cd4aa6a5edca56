// Package treatment defines the wire representation of a patient treatment:
// the recursive dosage description, observed concentration samples and the
// estimation messages exchanged between the API and the workers.
package treatment

import (
	"encoding/json"
	"fmt"
	"time"
)

// Dosage node type discriminators.
const (
	TypeLasting     = "lasting"
	TypeDaily       = "daily"
	TypeWeekly      = "weekly"
	TypeRepeat      = "repeat"
	TypeSequence    = "sequence"
	TypeParallel    = "parallel"
	TypeLoop        = "loop"
	TypeSteadyState = "steadyState"
)

// DosageSpec is one node of the recursive dosage description. Type selects
// which fields apply; nested nodes reuse the same shape.
type DosageSpec struct {
	Type string `json:"type"`

	// Single-dose fields (lasting, daily, weekly).
	Dose         float64  `json:"dose,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	Formulation  string   `json:"formulation,omitempty"`
	Route        string   `json:"route,omitempty"`
	Absorption   string   `json:"absorption,omitempty"`
	InfusionTime Duration `json:"infusionTime,omitempty"`

	// Lasting.
	Interval Duration `json:"interval,omitempty"`

	// Daily and weekly.
	TimeOfDay string `json:"timeOfDay,omitempty"`
	// Weekly: 0 is Sunday.
	Weekday *int `json:"weekday,omitempty"`

	// Repeat.
	Count int `json:"count,omitempty"`

	// Repeat, loop, steady state.
	Inner *DosageSpec `json:"inner,omitempty"`

	// Sequence and parallel.
	Items []DosageSpec `json:"items,omitempty"`
	// Parallel only, paired with Items.
	Offsets []Duration `json:"offsets,omitempty"`

	// Steady state.
	LastDoseTime time.Time `json:"lastDoseTime,omitempty"`
}

// PlannedIntakeSpec is one schedule edit target: an intake identified by its
// instant, dose and formulation.
type PlannedIntakeSpec struct {
	Time         time.Time `json:"time"`
	Dose         float64   `json:"dose"`
	Unit         string    `json:"unit"`
	Formulation  string    `json:"formulation,omitempty"`
	Route        string    `json:"route,omitempty"`
	Absorption   string    `json:"absorption"`
	InfusionTime Duration  `json:"infusionTime,omitempty"`
	Interval     Duration  `json:"interval,omitempty"`
}

// TimeRangeSpec is one dosage over one period, with optional schedule edits.
type TimeRangeSpec struct {
	Start  time.Time           `json:"start,omitempty"`
	End    time.Time           `json:"end,omitempty"`
	Dosage DosageSpec          `json:"dosage"`
	Skips  []PlannedIntakeSpec `json:"skips,omitempty"`
	Adds   []PlannedIntakeSpec `json:"adds,omitempty"`
}

// HistorySpec is a full dosage history: non-overlapping time ranges.
type HistorySpec struct {
	TimeRanges []TimeRangeSpec `json:"timeRanges"`
}

// SampleSpec is one observed concentration. An omitted weight means the
// default weight of one; an explicit zero excludes the sample from the
// objective.
type SampleSpec struct {
	Time   time.Time `json:"time"`
	Value  float64   `json:"value"`
	Unit   string    `json:"unit,omitempty"`
	Weight *float64  `json:"weight,omitempty"`
}

// PredictionRequest asks for a concentration trajectory over a window.
type PredictionRequest struct {
	History       HistorySpec        `json:"history"`
	Start         time.Time          `json:"start"`
	End           time.Time          `json:"end"`
	PointsPerHour float64            `json:"pointsPerHour,omitempty"`
	DoseUnit      string             `json:"doseUnit,omitempty"`
	Model         string             `json:"model"`
	Parameters    map[string]float64 `json:"parameters"`
}

// EstimationRequest asks a worker to estimate individual parameters from
// samples. It is the payload of the estimation request topic and of the
// queued estimation rows.
type EstimationRequest struct {
	ID            string             `json:"id"`
	TreatmentID   string             `json:"treatmentId"`
	History       HistorySpec        `json:"history"`
	Samples       []SampleSpec       `json:"samples"`
	Start         time.Time          `json:"start"`
	End           time.Time          `json:"end"`
	Model         string             `json:"model"`
	TypicalValues map[string]float64 `json:"typicalValues"`
	// Omega is the inter-individual covariance, row major.
	Omega [][]float64 `json:"omega"`
	// ResidualModel is additive, proportional, mixed or exponential.
	ResidualModel string    `json:"residualModel"`
	Sigma         float64   `json:"sigma"`
	SigmaProp     float64   `json:"sigmaProp,omitempty"`
	RequestedAt   time.Time `json:"requestedAt"`
}

// EstimationResult is the outcome of one estimation, published on the result
// topic and persisted.
type EstimationResult struct {
	ID             string             `json:"id"`
	TreatmentID    string             `json:"treatmentId"`
	Etas           []float64          `json:"etas"`
	Parameters     map[string]float64 `json:"parameters"`
	ObjectiveValue float64            `json:"objectiveValue"`
	Evaluations    int                `json:"evaluations"`
	CompletedAt    time.Time          `json:"completedAt"`
	Error          string             `json:"error,omitempty"`
}

// Duration marshals as a Go duration string ("12h", "30m") instead of
// nanosecond counts.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler. Accepts a duration string or a
// number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(v))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
