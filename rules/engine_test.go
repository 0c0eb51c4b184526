package rules

import (
	"testing"

	"github.com/google/uuid"
)

// cementRecord builds a record that passes every rule of testCatalog
// except any the caller breaks afterwards.
func cementRecord(value float64) *NormalizedRecord {
	return &NormalizedRecord{
		ID:              uuid.New(),
		Indicator:       "Scope 1 Emissions Intensity",
		Value:           fptr(value),
		Unit:            "kg CO2/t clinker",
		FacilityID:      "plant-1",
		ReportingPeriod: "2024",
		Metadata:        map[string]string{"source_category": "Measured"},
	}
}

func TestValidateRecordRangeViolation(t *testing.T) {
	engine := NewEngine(mustLoad(t, testCatalog))

	results := engine.ValidateRecord(cementRecord(1500), "cement")
	if len(results) != 1 {
		t.Fatalf("got %d results, want exactly 1: %+v", len(results), results)
	}
	res := results[0]
	if res.RuleName != "cement_emission_range" {
		t.Errorf("RuleName = %q, want cement_emission_range", res.RuleName)
	}
	if res.Severity != SeverityError {
		t.Errorf("Severity = %q, want error", res.Severity)
	}
	if res.Citation == "" {
		t.Error("Citation is empty, want the rule's citation carried over")
	}
	if len(res.SuggestedFixes) != 1 {
		t.Errorf("SuggestedFixes = %v, want the rule's fix carried over", res.SuggestedFixes)
	}
}

func TestValidateRecordPassingProducesNothing(t *testing.T) {
	engine := NewEngine(mustLoad(t, testCatalog))

	if results := engine.ValidateRecord(cementRecord(950), "cement"); len(results) != 0 {
		t.Fatalf("got %d results for a clean record, want 0: %+v", len(results), results)
	}
}

func TestValidateRecordUnknownIndustry(t *testing.T) {
	engine := NewEngine(mustLoad(t, testCatalog))

	rec := cementRecord(950)
	rec.Unit = ""

	results := engine.ValidateRecord(rec, "aviation")
	if len(results) != 1 {
		t.Fatalf("got %d results, want just the cross-industry null check: %+v", len(results), results)
	}
	if results[0].RuleName != "required_fields" {
		t.Errorf("RuleName = %q, want required_fields", results[0].RuleName)
	}
}

func TestValidateRecordDeterministicOrder(t *testing.T) {
	engine := NewEngine(mustLoad(t, testCatalog))

	rec := cementRecord(1500)
	rec.Unit = "MWh"
	rec.Metadata["source_category"] = "Guessed"

	want := []string{"cement_emission_range", "cement_unit_pattern", "cement_source_category"}
	for call := 0; call < 2; call++ {
		results := engine.ValidateRecord(rec, "cement")
		if len(results) != len(want) {
			t.Fatalf("call %d: got %d results, want %d", call, len(results), len(want))
		}
		for i, res := range results {
			if res.RuleName != want[i] {
				t.Errorf("call %d: results[%d] = %q, want %q", call, i, res.RuleName, want[i])
			}
		}
	}
}

func TestValidateBatchAppendsBatchResults(t *testing.T) {
	engine := NewEngine(mustLoad(t, testCatalog))

	outlier := cementRecord(1500)
	records := []*NormalizedRecord{outlier, cementRecord(900), cementRecord(950)}

	results := engine.ValidateBatch(records, "cement")
	if len(results) != 2 {
		t.Fatalf("got %d results, want range error then outlier warning: %+v", len(results), results)
	}
	if results[0].RuleName != "cement_emission_range" || results[0].RecordID != outlier.ID {
		t.Errorf("results[0] = %q on %v, want cement_emission_range on the extreme record",
			results[0].RuleName, results[0].RecordID)
	}
	if results[1].RuleName != "indicator_outlier" || results[1].RecordID != outlier.ID {
		t.Errorf("results[1] = %q on %v, want indicator_outlier on the extreme record",
			results[1].RuleName, results[1].RecordID)
	}
}
