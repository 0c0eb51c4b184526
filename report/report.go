// Package report aggregates validation results into summaries, chart
// payloads, and heuristic recommendations.
package report

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openesg/validate/rules"
)

// Summary holds the headline statistics of a validation run. A record
// counts as valid when it has no unresolved (unreviewed) error;
// warnings never affect validity.
type Summary struct {
	TotalRecords        int            `json:"total_records"`
	ValidRecords        int            `json:"valid_records"`
	RecordsWithErrors   int            `json:"records_with_errors"`
	RecordsWithWarnings int            `json:"records_with_warnings"`
	ValidationPassRate  float64        `json:"validation_pass_rate"`
	ErrorBreakdown      map[string]int `json:"error_breakdown"`
	WarningBreakdown    map[string]int `json:"warning_breakdown"`
}

// PassRateChart feeds the pass/fail donut.
type PassRateChart struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// ChartsData carries the pre-aggregated series the frontend renders.
type ChartsData struct {
	ErrorDistribution   map[string]int `json:"error_distribution"`
	WarningDistribution map[string]int `json:"warning_distribution"`
	PassRate            PassRateChart  `json:"pass_rate"`
	SeverityBreakdown   map[string]int `json:"severity_breakdown"`
}

// Report is the full validation report for one record set.
type Report struct {
	RecordSetID     uuid.UUID                 `json:"record_set_id"`
	Summary         Summary                   `json:"summary"`
	Errors          []*rules.ValidationResult `json:"errors"`
	Warnings        []*rules.ValidationResult `json:"warnings"`
	Recommendations []string                  `json:"recommendations"`
	ChartsData      ChartsData                `json:"charts_data"`
	GeneratedAt     time.Time                 `json:"generated_at"`
}

// Statistics summarizes raw finding counts for the stats endpoint.
type Statistics struct {
	TotalFindings int      `json:"total_findings"`
	Errors        int      `json:"errors"`
	Warnings      int      `json:"warnings"`
	RulesFired    []string `json:"rules_fired"`
	RulesCount    int      `json:"rules_count"`
}

// Build assembles the report for one record set from its current
// results and the total number of records validated.
func Build(recordSetID uuid.UUID, totalRecords int, results []*rules.ValidationResult) *Report {
	summary := buildSummary(totalRecords, results)

	var errs, warns []*rules.ValidationResult
	for _, res := range results {
		if res.Severity == rules.SeverityError {
			errs = append(errs, res)
		} else {
			warns = append(warns, res)
		}
	}

	return &Report{
		RecordSetID:     recordSetID,
		Summary:         summary,
		Errors:          errs,
		Warnings:        warns,
		Recommendations: recommendations(summary),
		ChartsData: ChartsData{
			ErrorDistribution:   summary.ErrorBreakdown,
			WarningDistribution: summary.WarningBreakdown,
			PassRate: PassRateChart{
				Passed: summary.ValidRecords,
				Failed: summary.TotalRecords - summary.ValidRecords,
			},
			SeverityBreakdown: map[string]int{
				string(rules.SeverityError):   len(errs),
				string(rules.SeverityWarning): len(warns),
			},
		},
		GeneratedAt: time.Now().UTC(),
	}
}

// BuildStatistics computes the raw counts for a record set.
func BuildStatistics(results []*rules.ValidationResult) Statistics {
	stats := Statistics{TotalFindings: len(results)}
	seen := make(map[string]struct{})
	for _, res := range results {
		if res.Severity == rules.SeverityError {
			stats.Errors++
		} else {
			stats.Warnings++
		}
		if _, ok := seen[res.RuleName]; !ok {
			seen[res.RuleName] = struct{}{}
			stats.RulesFired = append(stats.RulesFired, res.RuleName)
		}
	}
	stats.RulesCount = len(stats.RulesFired)
	return stats
}

func buildSummary(totalRecords int, results []*rules.ValidationResult) Summary {
	recordsWithErrors := make(map[uuid.UUID]struct{})
	recordsWithUnresolved := make(map[uuid.UUID]struct{})
	recordsWithWarnings := make(map[uuid.UUID]struct{})
	errorBreakdown := make(map[string]int)
	warningBreakdown := make(map[string]int)

	for _, res := range results {
		if res.Severity == rules.SeverityError {
			recordsWithErrors[res.RecordID] = struct{}{}
			errorBreakdown[res.RuleName]++
			if !res.Reviewed {
				recordsWithUnresolved[res.RecordID] = struct{}{}
			}
		} else {
			recordsWithWarnings[res.RecordID] = struct{}{}
			warningBreakdown[res.RuleName]++
		}
	}

	valid := totalRecords - len(recordsWithUnresolved)
	passRate := 100.0
	if totalRecords > 0 {
		passRate = float64(valid) / float64(totalRecords) * 100
	}

	return Summary{
		TotalRecords:        totalRecords,
		ValidRecords:        valid,
		RecordsWithErrors:   len(recordsWithErrors),
		RecordsWithWarnings: len(recordsWithWarnings),
		ValidationPassRate:  passRate,
		ErrorBreakdown:      errorBreakdown,
		WarningBreakdown:    warningBreakdown,
	}
}

// recommendations derives advice from fixed thresholds over the
// summary: a critical note past 50% failing, a targeted note naming
// the most frequent rule, and a pass note when nothing failed.
func recommendations(s Summary) []string {
	var out []string

	if s.ValidationPassRate < 50 {
		out = append(out, "Critical: over half of the records have validation errors. Review data collection and entry processes before continuing.")
	}

	if rule, count := mostFrequent(s.ErrorBreakdown); rule != "" {
		out = append(out, fmt.Sprintf("Most common error: %q (%d occurrences). Fixing this rule first clears the most findings.", rule, count))
	}

	switch {
	case s.RecordsWithErrors == 0 && s.RecordsWithWarnings == 0:
		out = append(out, "All records passed validation. Data is ready for report generation.")
	case s.RecordsWithErrors == 0:
		out = append(out, "No errors found, only warnings. Review warnings for potential data quality improvements.")
	}

	return out
}

// mostFrequent returns the rule with the highest count, breaking ties
// by rule name so the output is deterministic.
func mostFrequent(breakdown map[string]int) (string, int) {
	var best string
	bestCount := 0
	for rule, count := range breakdown {
		if count > bestCount || (count == bestCount && rule < best) {
			best = rule
			bestCount = count
		}
	}
	return best, bestCount
}
