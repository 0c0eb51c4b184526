package rules

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func rangeRule(min, max *float64) (*RuleDefinition, RangeParams) {
	p := RangeParams{Min: min, Max: max}
	return &RuleDefinition{
		RuleName:        "test_range",
		Severity:        SeverityError,
		MessageTemplate: "Out of range.",
		Params:          p,
	}, p
}

func TestCheckRange(t *testing.T) {
	cases := []struct {
		name     string
		min, max *float64
		value    *float64
		wantFail bool
	}{
		{"below minimum", fptr(800), fptr(1100), fptr(799.999), true},
		{"at minimum", fptr(800), fptr(1100), fptr(800), false},
		{"inside", fptr(800), fptr(1100), fptr(950), false},
		{"at maximum", fptr(800), fptr(1100), fptr(1100), false},
		{"above maximum", fptr(800), fptr(1100), fptr(1100.001), true},
		{"open minimum", nil, fptr(1100), fptr(-1e9), false},
		{"open maximum", fptr(800), nil, fptr(1e9), false},
		{"missing value skipped", fptr(800), fptr(1100), nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule, p := rangeRule(tc.min, tc.max)
			rec := &NormalizedRecord{ID: uuid.New(), Indicator: "Energy Use", Value: tc.value}
			res := checkRange(rec, rule, p)
			if (res != nil) != tc.wantFail {
				t.Fatalf("checkRange() = %v, want failure %t", res, tc.wantFail)
			}
			if res != nil && res.RecordID != rec.ID {
				t.Errorf("RecordID = %v, want %v", res.RecordID, rec.ID)
			}
		})
	}
}

func TestCheckRangeResultFields(t *testing.T) {
	rule, p := rangeRule(fptr(800), fptr(1100))
	rec := &NormalizedRecord{ID: uuid.New(), Value: fptr(1500)}

	res := checkRange(rec, rule, p)
	if res == nil {
		t.Fatal("checkRange() = nil, want failure")
	}
	if !strings.Contains(res.Message, "1500") ||
		!strings.Contains(res.Message, "800") || !strings.Contains(res.Message, "1100") {
		t.Errorf("Message = %q, want the actual value and both bounds named", res.Message)
	}
	if res.ActualValue == nil || *res.ActualValue != 1500 {
		t.Errorf("ActualValue = %v, want 1500", res.ActualValue)
	}
	if res.Expected.Low == nil || *res.Expected.Low != 800 || res.Expected.High == nil || *res.Expected.High != 1100 {
		t.Errorf("Expected = %+v, want [800, 1100]", res.Expected)
	}
}

func TestCheckCategory(t *testing.T) {
	rule := &RuleDefinition{RuleName: "test_category", Severity: SeverityWarning, MessageTemplate: "Bad category."}
	p := CategoryParams{AllowedValues: []string{"Measured", "Calculated", "Estimated"}}

	cases := []struct {
		name     string
		category string
		wantFail bool
	}{
		{"exact match", "Measured", false},
		{"case-insensitive match", "measured", false},
		{"upper-case match", "ESTIMATED", false},
		{"not in list", "Guessed", true},
		{"missing metadata", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &NormalizedRecord{ID: uuid.New()}
			if tc.category != "" {
				rec.Metadata = map[string]string{"source_category": tc.category}
			}
			res := checkCategory(rec, rule, p)
			if (res != nil) != tc.wantFail {
				t.Fatalf("checkCategory(%q) = %v, want failure %t", tc.category, res, tc.wantFail)
			}
		})
	}
}

func TestCheckPattern(t *testing.T) {
	rule := &RuleDefinition{RuleName: "test_pattern", Severity: SeverityWarning, MessageTemplate: "Bad unit."}
	p := PatternParams{AllowedPatterns: []string{"kg CO2", "t CO2"}}

	cases := []struct {
		name     string
		unit     string
		wantFail bool
	}{
		{"contains pattern", "kg CO2/t clinker", false},
		{"case-insensitive", "KG co2e", false},
		{"second pattern", "t CO2e/year", false},
		{"no pattern", "MWh", true},
		{"empty unit", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &NormalizedRecord{ID: uuid.New(), Unit: tc.unit}
			res := checkPattern(rec, rule, p)
			if (res != nil) != tc.wantFail {
				t.Fatalf("checkPattern(%q) = %v, want failure %t", tc.unit, res, tc.wantFail)
			}
		})
	}
}

func TestCheckNull(t *testing.T) {
	rule := &RuleDefinition{RuleName: "test_null", Severity: SeverityError, MessageTemplate: "Missing fields."}
	p := NullCheckParams{RequiredFields: []string{"value", "unit", "facility_id", "source_category"}}

	complete := &NormalizedRecord{
		ID:         uuid.New(),
		Value:      fptr(1),
		Unit:       "kg",
		FacilityID: "plant-1",
		Metadata:   map[string]string{"source_category": "Measured"},
	}
	if res := checkNull(complete, rule, p); res != nil {
		t.Fatalf("checkNull(complete) = %v, want nil", res)
	}

	partial := &NormalizedRecord{ID: uuid.New(), Value: fptr(1), FacilityID: "plant-1"}
	res := checkNull(partial, rule, p)
	if res == nil {
		t.Fatal("checkNull(partial) = nil, want failure")
	}
	if !strings.Contains(res.Message, "unit") || !strings.Contains(res.Message, "source_category") {
		t.Errorf("Message = %q, want the missing fields named", res.Message)
	}
}

func TestCheckPrecision(t *testing.T) {
	rule := &RuleDefinition{RuleName: "test_precision", Severity: SeverityWarning, MessageTemplate: "Too precise."}
	p := PrecisionParams{MaxDecimalPlaces: 2}

	cases := []struct {
		name     string
		value    *float64
		wantFail bool
	}{
		{"integer", fptr(100), false},
		{"at limit", fptr(1.25), false},
		{"over limit", fptr(1.256), true},
		{"missing value skipped", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &NormalizedRecord{ID: uuid.New(), Value: tc.value}
			res := checkPrecision(rec, rule, p)
			if (res != nil) != tc.wantFail {
				t.Fatalf("checkPrecision() = %v, want failure %t", res, tc.wantFail)
			}
		})
	}
}

func TestDecimalPlaces(t *testing.T) {
	cases := []struct {
		value float64
		want  int
	}{
		{100, 0},
		{0.5, 1},
		{1.25, 2},
		{-3.125, 3},
		{1e6, 0},
	}
	for _, tc := range cases {
		if got := decimalPlaces(tc.value); got != tc.want {
			t.Errorf("decimalPlaces(%g) = %d, want %d", tc.value, got, tc.want)
		}
	}
}
