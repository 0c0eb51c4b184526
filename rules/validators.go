package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Single-record validators. Each returns nil when the check passes and
// a ValidationResult describing the failure otherwise. A nil numeric
// value is never a range/precision failure; requiring presence is the
// null check's job.

func checkRange(rec *NormalizedRecord, rule *RuleDefinition, p RangeParams) *ValidationResult {
	if rec.Value == nil {
		return nil
	}
	v := *rec.Value

	if (p.Min != nil && v < *p.Min) || (p.Max != nil && v > *p.Max) {
		res := newFailure(rec.ID, rule)
		res.Message = fmt.Sprintf("%s Value %g is out of range; %s.",
			rule.MessageTemplate, v, rangeExpectation(p))
		res.ActualValue = &v
		res.Expected = Expected{Low: p.Min, High: p.Max}
		return res
	}
	return nil
}

func rangeExpectation(p RangeParams) string {
	switch {
	case p.Min != nil && p.Max != nil:
		return fmt.Sprintf("expected between %g and %g", *p.Min, *p.Max)
	case p.Min != nil:
		return fmt.Sprintf("expected at least %g", *p.Min)
	default:
		return fmt.Sprintf("expected at most %g", *p.Max)
	}
}

// checkCategory tests the record's source category against the
// allow-list. Matching is case-insensitive exact membership.
func checkCategory(rec *NormalizedRecord, rule *RuleDefinition, p CategoryParams) *ValidationResult {
	value := rec.Metadata["source_category"]
	for _, allowed := range p.AllowedValues {
		if strings.EqualFold(value, allowed) {
			return nil
		}
	}
	res := newFailure(rec.ID, rule)
	res.Message = fmt.Sprintf("%s Found %q, expected one of: %s.",
		rule.MessageTemplate, value, strings.Join(p.AllowedValues, ", "))
	res.Expected = Expected{Values: p.AllowedValues}
	return res
}

// checkPattern tests the record's unit against the allowed patterns.
// A pattern matches when the unit contains it, case-insensitively.
func checkPattern(rec *NormalizedRecord, rule *RuleDefinition, p PatternParams) *ValidationResult {
	unit := strings.ToLower(rec.Unit)
	for _, pattern := range p.AllowedPatterns {
		if strings.Contains(unit, strings.ToLower(pattern)) {
			return nil
		}
	}
	res := newFailure(rec.ID, rule)
	res.Message = fmt.Sprintf("%s Found %q, expected pattern from: %s.",
		rule.MessageTemplate, rec.Unit, strings.Join(p.AllowedPatterns, ", "))
	res.Expected = Expected{Values: p.AllowedPatterns}
	return res
}

func checkNull(rec *NormalizedRecord, rule *RuleDefinition, p NullCheckParams) *ValidationResult {
	var missing []string
	for _, field := range p.RequiredFields {
		if !fieldPresent(rec, field) {
			missing = append(missing, field)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	res := newFailure(rec.ID, rule)
	res.Message = fmt.Sprintf("%s Missing fields: %s.", rule.MessageTemplate, strings.Join(missing, ", "))
	res.Expected = Expected{Values: p.RequiredFields}
	return res
}

func checkPrecision(rec *NormalizedRecord, rule *RuleDefinition, p PrecisionParams) *ValidationResult {
	if rec.Value == nil {
		return nil
	}
	places := decimalPlaces(*rec.Value)
	if places <= p.MaxDecimalPlaces {
		return nil
	}
	res := newFailure(rec.ID, rule)
	res.Message = fmt.Sprintf("%s Value has %d decimal places, expected at most %d.",
		rule.MessageTemplate, places, p.MaxDecimalPlaces)
	res.ActualValue = rec.Value
	return res
}

// fieldPresent reports whether a named field carries a non-empty value.
// Record fields are addressed by their wire names; any other name is
// looked up in the metadata map.
func fieldPresent(rec *NormalizedRecord, field string) bool {
	switch field {
	case "value":
		return rec.Value != nil
	case "unit":
		return rec.Unit != ""
	case "indicator":
		return rec.Indicator != ""
	case "original_value":
		return rec.OriginalValue != nil
	case "original_unit":
		return rec.OriginalUnit != ""
	case "facility_id":
		return rec.FacilityID != ""
	case "reporting_period":
		return rec.ReportingPeriod != ""
	default:
		return rec.Metadata[field] != ""
	}
}

// decimalPlaces counts fractional digits of the shortest decimal
// rendering that round-trips the value.
func decimalPlaces(v float64) int {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// newFailure seeds a result with the fields every failing check shares.
func newFailure(recordID uuid.UUID, rule *RuleDefinition) *ValidationResult {
	return &ValidationResult{
		ID:             uuid.New(),
		RecordID:       recordID,
		RuleName:       rule.RuleName,
		Severity:       rule.Severity,
		Citation:       rule.Citation,
		SuggestedFixes: rule.SuggestedFixes,
		CreatedAt:      time.Now().UTC(),
	}
}
