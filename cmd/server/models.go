package main

// API request and response models.

// RecordPayload is the wire form of a normalized record.
type RecordPayload struct {
	ID              string            `json:"id,omitempty"`
	Indicator       string            `json:"indicator"`
	Value           *float64          `json:"value,omitempty"`
	Unit            string            `json:"unit,omitempty"`
	OriginalValue   *float64          `json:"original_value,omitempty"`
	OriginalUnit    string            `json:"original_unit,omitempty"`
	FacilityID      string            `json:"facility_id,omitempty"`
	ReportingPeriod string            `json:"reporting_period,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ValidateRequest asks for a full validation run over a record set.
type ValidateRequest struct {
	RecordSetID string          `json:"record_set_id"`
	Industry    string          `json:"industry"`
	Records     []RecordPayload `json:"records"`
}

// ReviewRequest marks a single validation result as reviewed.
type ReviewRequest struct {
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes"`
}

// SuppressRequest acknowledges a warning so it stops surfacing.
type SuppressRequest struct {
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason"`
}

// BulkReviewRequest reviews several results with shared notes.
type BulkReviewRequest struct {
	ResultIDs []string `json:"result_ids"`
	Reviewer  string   `json:"reviewer"`
	Notes     string   `json:"notes"`
}
