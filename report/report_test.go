package report

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/openesg/validate/rules"
)

func result(ruleName string, severity rules.Severity, recordID uuid.UUID) *rules.ValidationResult {
	return &rules.ValidationResult{
		ID:       uuid.New(),
		RecordID: recordID,
		RuleName: ruleName,
		Severity: severity,
	}
}

func TestBuildSummaryCounts(t *testing.T) {
	recA, recB, recC := uuid.New(), uuid.New(), uuid.New()
	results := []*rules.ValidationResult{
		result("range_rule", rules.SeverityError, recA),
		result("range_rule", rules.SeverityError, recB),
		result("unit_rule", rules.SeverityWarning, recB),
		result("unit_rule", rules.SeverityWarning, recC),
	}

	rep := Build(uuid.New(), 10, results)
	s := rep.Summary

	if s.TotalRecords != 10 || s.ValidRecords != 8 {
		t.Errorf("summary = %+v, want 8 of 10 valid", s)
	}
	if s.RecordsWithErrors != 2 || s.RecordsWithWarnings != 2 {
		t.Errorf("summary = %+v, want 2 error records and 2 warning records", s)
	}
	if s.ValidationPassRate != 80 {
		t.Errorf("ValidationPassRate = %g, want 80", s.ValidationPassRate)
	}
	if s.ErrorBreakdown["range_rule"] != 2 || s.WarningBreakdown["unit_rule"] != 2 {
		t.Errorf("breakdowns = %v / %v, want 2 each", s.ErrorBreakdown, s.WarningBreakdown)
	}

	if len(rep.Errors) != 2 || len(rep.Warnings) != 2 {
		t.Errorf("split = %d errors, %d warnings, want 2 each", len(rep.Errors), len(rep.Warnings))
	}
	if rep.ChartsData.PassRate.Passed != 8 || rep.ChartsData.PassRate.Failed != 2 {
		t.Errorf("pass rate chart = %+v, want 8/2", rep.ChartsData.PassRate)
	}
	if rep.ChartsData.SeverityBreakdown["error"] != 2 || rep.ChartsData.SeverityBreakdown["warning"] != 2 {
		t.Errorf("severity breakdown = %v, want 2 each", rep.ChartsData.SeverityBreakdown)
	}
}

func TestBuildReviewedErrorsCountAsValid(t *testing.T) {
	rec := uuid.New()
	reviewed := result("range_rule", rules.SeverityError, rec)
	reviewed.Reviewed = true

	rep := Build(uuid.New(), 5, []*rules.ValidationResult{reviewed})
	if rep.Summary.ValidRecords != 5 || rep.Summary.ValidationPassRate != 100 {
		t.Errorf("summary = %+v, want a reviewed error not to invalidate its record", rep.Summary)
	}
	// The error still shows in the breakdown as history.
	if rep.Summary.RecordsWithErrors != 1 {
		t.Errorf("RecordsWithErrors = %d, want 1", rep.Summary.RecordsWithErrors)
	}
}

func TestBuildEmptyRecordSet(t *testing.T) {
	rep := Build(uuid.New(), 0, nil)
	if rep.Summary.ValidationPassRate != 100 {
		t.Errorf("ValidationPassRate = %g, want 100 for an empty set", rep.Summary.ValidationPassRate)
	}
}

func TestRecommendations(t *testing.T) {
	t.Run("critical below half", func(t *testing.T) {
		var results []*rules.ValidationResult
		for i := 0; i < 6; i++ {
			results = append(results, result("range_rule", rules.SeverityError, uuid.New()))
		}
		rep := Build(uuid.New(), 10, results)
		if len(rep.Recommendations) == 0 || !strings.HasPrefix(rep.Recommendations[0], "Critical:") {
			t.Errorf("recommendations = %v, want a leading critical note", rep.Recommendations)
		}
	})

	t.Run("names most frequent error", func(t *testing.T) {
		results := []*rules.ValidationResult{
			result("frequent_rule", rules.SeverityError, uuid.New()),
			result("frequent_rule", rules.SeverityError, uuid.New()),
			result("rare_rule", rules.SeverityError, uuid.New()),
		}
		rep := Build(uuid.New(), 10, results)
		found := false
		for _, rec := range rep.Recommendations {
			if strings.Contains(rec, "frequent_rule") {
				found = true
			}
		}
		if !found {
			t.Errorf("recommendations = %v, want the most frequent rule named", rep.Recommendations)
		}
	})

	t.Run("clean set", func(t *testing.T) {
		rep := Build(uuid.New(), 10, nil)
		if len(rep.Recommendations) != 1 || !strings.Contains(rep.Recommendations[0], "ready for report generation") {
			t.Errorf("recommendations = %v, want only the all-passed note", rep.Recommendations)
		}
	})

	t.Run("warnings only", func(t *testing.T) {
		rep := Build(uuid.New(), 10, []*rules.ValidationResult{
			result("unit_rule", rules.SeverityWarning, uuid.New()),
		})
		if len(rep.Recommendations) != 1 || !strings.Contains(rep.Recommendations[0], "only warnings") {
			t.Errorf("recommendations = %v, want only the warnings note", rep.Recommendations)
		}
	})
}

func TestMostFrequentDeterministicTieBreak(t *testing.T) {
	breakdown := map[string]int{"b_rule": 3, "a_rule": 3, "c_rule": 1}
	for i := 0; i < 10; i++ {
		if rule, count := mostFrequent(breakdown); rule != "a_rule" || count != 3 {
			t.Fatalf("mostFrequent() = %q/%d, want a_rule/3", rule, count)
		}
	}
}

func TestBuildStatistics(t *testing.T) {
	results := []*rules.ValidationResult{
		result("range_rule", rules.SeverityError, uuid.New()),
		result("range_rule", rules.SeverityError, uuid.New()),
		result("unit_rule", rules.SeverityWarning, uuid.New()),
	}
	stats := BuildStatistics(results)
	if stats.TotalFindings != 3 || stats.Errors != 2 || stats.Warnings != 1 {
		t.Errorf("stats = %+v, want 3 findings, 2 errors, 1 warning", stats)
	}
	if stats.RulesCount != 2 || len(stats.RulesFired) != 2 || stats.RulesFired[0] != "range_rule" {
		t.Errorf("rules fired = %v, want [range_rule unit_rule]", stats.RulesFired)
	}
}
