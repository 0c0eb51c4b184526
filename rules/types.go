package rules

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
)

// Severity classifies how a failed check affects export readiness.
// Errors block export until reviewed; warnings never do.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Validation type names as they appear in rule catalogs.
const (
	TypeRange      = "range"
	TypeCategory   = "category_check"
	TypePattern    = "pattern_match"
	TypeNullCheck  = "null_check"
	TypePrecision  = "precision_check"
	TypeOutlier    = "outlier"
	TypeSumCheck   = "temporal_consistency"
	TypeCrossField = "cross_field"
)

// RuleParams is the closed set of per-variant parameter payloads.
// Catalog decoding is the only place a validation_type string is
// inspected; everywhere else dispatch is a type switch over this set.
type RuleParams interface {
	validationType() string
}

// RangeParams bounds a numeric value inclusively. A nil bound is open.
type RangeParams struct {
	Min *float64
	Max *float64
}

// CategoryParams restricts a categorical field to an allow-list.
// Membership is case-insensitive exact match.
type CategoryParams struct {
	AllowedValues []string
}

// PatternParams restricts a string field (typically the unit) to values
// containing at least one of the allowed patterns, case-insensitively.
type PatternParams struct {
	AllowedPatterns []string
}

// NullCheckParams requires the named record fields to be present and
// non-empty. Names refer to record fields (value, unit, facility_id,
// reporting_period) or metadata keys.
type NullCheckParams struct {
	RequiredFields []string
}

// PrecisionParams caps the number of decimal places of a value.
type PrecisionParams struct {
	MaxDecimalPlaces int
}

// OutlierParams flags values whose z-score within their indicator group
// exceeds the threshold. Groups with fewer than three records are skipped.
type OutlierParams struct {
	ZScoreThreshold float64
}

// SumCheckParams compares the sum of period values (e.g. twelve months)
// against an annual reference for the same facility and indicator.
// Tolerance is relative to the reference.
type SumCheckParams struct {
	Tolerance float64
}

// CrossFieldParams relates indicators of one facility/period group.
// Relation is a CEL expression over canonical indicator names producing
// the aggregate; when empty, the aggregate is the sum of Fields. Total
// names the reference indicator the aggregate is compared against.
type CrossFieldParams struct {
	Fields    []string
	Total     string
	Relation  string
	Tolerance float64
}

func (RangeParams) validationType() string      { return TypeRange }
func (CategoryParams) validationType() string   { return TypeCategory }
func (PatternParams) validationType() string    { return TypePattern }
func (NullCheckParams) validationType() string  { return TypeNullCheck }
func (PrecisionParams) validationType() string  { return TypePrecision }
func (OutlierParams) validationType() string    { return TypeOutlier }
func (SumCheckParams) validationType() string   { return TypeSumCheck }
func (CrossFieldParams) validationType() string { return TypeCrossField }

// RuleDefinition is one entry of a loaded catalog. Definitions are
// immutable for the lifetime of their RuleStore; reloading a catalog
// means constructing a new store.
type RuleDefinition struct {
	Industry        string
	RuleName        string
	Description     string
	Indicator       string // empty: applies to every indicator in Industry
	Severity        Severity
	Citation        string
	MessageTemplate string
	SuggestedFixes  []string
	Params          RuleParams

	// relation compiled at load time for cross-field rules, nil otherwise
	program cel.Program
}

// NormalizedRecord is a measurement as produced by the upstream
// normalization pipeline. The validation core never mutates it.
type NormalizedRecord struct {
	ID              uuid.UUID
	Indicator       string
	Value           *float64 // absent for qualitative fields
	Unit            string
	OriginalValue   *float64
	OriginalUnit    string
	FacilityID      string
	ReportingPeriod string
	Metadata        map[string]string
}

// Expected describes what a failed check wanted: a numeric range, a
// value set, or both.
type Expected struct {
	Low    *float64 `json:"low,omitempty"`
	High   *float64 `json:"high,omitempty"`
	Values []string `json:"values,omitempty"`
}

// ValidationResult records one failed check. Passing checks produce no
// result. Only the review fields change after creation; everything else
// is append-only audit fact.
type ValidationResult struct {
	ID             uuid.UUID `json:"id"`
	RecordID       uuid.UUID `json:"record_id"`
	RunID          uuid.UUID `json:"run_id"`
	RuleName       string    `json:"rule_name"`
	Severity       Severity  `json:"severity"`
	Message        string    `json:"message"`
	Citation       string    `json:"citation"`
	SuggestedFixes []string  `json:"suggested_fixes"`
	ActualValue    *float64  `json:"actual_value,omitempty"`
	Expected       Expected  `json:"expected"`
	CreatedAt      time.Time `json:"created_at"`

	Reviewed      bool       `json:"reviewed"`
	Reviewer      string     `json:"reviewer,omitempty"`
	ReviewerNotes string     `json:"reviewer_notes,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`

	// Superseded marks results of earlier runs kept as history after a
	// record set was re-validated.
	Superseded bool `json:"superseded"`
}

// CanonicalIndicator maps an indicator display name to the identifier
// form used by cross-field relations ("Scope 1 GHG Emissions" ->
// "scope_1_ghg_emissions").
func CanonicalIndicator(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
