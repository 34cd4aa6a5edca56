package treatment

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/sotalya/tucuxi-core-sub004/internal/core/dosage"
)

func TestDosageSpecRoundTrip(t *testing.T) {
	spec := DosageSpec{
		Type: TypeLoop,
		Inner: &DosageSpec{
			Type:        TypeLasting,
			Dose:        250,
			Unit:        "mg",
			Formulation: "oralSolution",
			Route:       "oral",
			Absorption:  "extravascular",
			Interval:    Duration(8 * time.Hour),
		},
	}

	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded DosageSpec
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Inner == nil || decoded.Inner.Interval != Duration(8*time.Hour) {
		t.Fatalf("interval not preserved: %+v", decoded.Inner)
	}
	if decoded.Inner.Dose != 250 || decoded.Inner.Absorption != "extravascular" {
		t.Errorf("inner dose lost fields: %+v", decoded.Inner)
	}
}

func TestDurationAcceptsStringsAndNanoseconds(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"12h"`), &d); err != nil {
		t.Fatalf("string form: %v", err)
	}
	if d.Std() != 12*time.Hour {
		t.Errorf("got %v, want 12h", d.Std())
	}

	if err := json.Unmarshal([]byte(`3600000000000`), &d); err != nil {
		t.Fatalf("numeric form: %v", err)
	}
	if d.Std() != time.Hour {
		t.Errorf("got %v, want 1h", d.Std())
	}

	if err := json.Unmarshal([]byte(`"not a duration"`), &d); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestBuildDosageRejectsUnknownType(t *testing.T) {
	if _, err := BuildDosage(DosageSpec{Type: "bogus"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestBuildDosageRejectsUnboundedInner(t *testing.T) {
	spec := DosageSpec{
		Type: TypeLoop,
		Inner: &DosageSpec{
			Type: TypeLoop,
			Inner: &DosageSpec{
				Type:       TypeLasting,
				Dose:       100,
				Unit:       "mg",
				Absorption: "bolus",
				Interval:   Duration(12 * time.Hour),
			},
		},
	}
	if _, err := BuildDosage(spec); err == nil {
		t.Error("expected error for loop inside loop")
	}
}

func TestBuildDosageWeekly(t *testing.T) {
	monday := 1
	spec := DosageSpec{
		Type:       TypeWeekly,
		Dose:       500,
		Unit:       "mg",
		Absorption: "bolus",
		TimeOfDay:  "09:30",
		Weekday:    &monday,
	}
	d, err := BuildDosage(spec)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, ok := d.(dosage.BoundedDosage); !ok {
		t.Error("weekly dose should be bounded")
	}

	spec.Weekday = nil
	if _, err := BuildDosage(spec); err == nil {
		t.Error("expected error for missing weekday")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"08:30:15", false},
		{"23:59", false},
		{"25:00", true},
		{"noonish", true},
	}
	for _, tc := range cases {
		_, err := ParseTimeOfDay(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseTimeOfDay(%q): err = %v", tc.in, err)
		}
	}
}

func TestBuildOmegaValidation(t *testing.T) {
	if _, err := BuildOmega(nil); err == nil {
		t.Error("expected error for empty omega")
	}
	if _, err := BuildOmega([][]float64{{1, 0}, {0}}); err == nil {
		t.Error("expected error for ragged omega")
	}
	if _, err := BuildOmega([][]float64{{1, 0.5}, {0.2, 1}}); err == nil {
		t.Error("expected error for asymmetric omega")
	}

	omega, err := BuildOmega([][]float64{{0.09, 0.01}, {0.01, 0.04}})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if got := omega.At(1, 0); got != 0.01 {
		t.Errorf("omega(1,0) = %g, want 0.01", got)
	}
}

func TestParamsForSortedLogNormal(t *testing.T) {
	typical := map[string]float64{"V": 70, "CL": 4}
	names := ParameterNames(typical)
	if names[0] != "CL" || names[1] != "V" {
		t.Fatalf("unexpected ordering %v", names)
	}

	params := ParamsFor(typical)([]float64{math.Log(2), 0})
	cl, err := params.Value("CL")
	if err != nil {
		t.Fatalf("CL: %v", err)
	}
	if math.Abs(cl-8) > 1e-12 {
		t.Errorf("CL = %g, want 8", cl)
	}
	v, err := params.Value("V")
	if err != nil {
		t.Fatalf("V: %v", err)
	}
	if v != 70 {
		t.Errorf("V = %g, want 70", v)
	}
}

func TestBuildHistoryRejectsOverlap(t *testing.T) {
	lasting := DosageSpec{
		Type:       TypeLasting,
		Dose:       100,
		Unit:       "mg",
		Absorption: "bolus",
		Interval:   Duration(12 * time.Hour),
	}
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	spec := HistorySpec{TimeRanges: []TimeRangeSpec{
		{Start: base, End: base.Add(48 * time.Hour), Dosage: lasting},
		{Start: base.Add(24 * time.Hour), End: base.Add(72 * time.Hour), Dosage: lasting},
	}}
	if _, err := BuildHistory(spec); err == nil {
		t.Error("expected error for overlapping ranges")
	}
}
