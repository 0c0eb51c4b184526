package review

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openesg/validate/internal/logger"
	"github.com/openesg/validate/rules"
)

// ErrNotWarning is returned when suppression is attempted on an
// error-severity result; errors go through MarkReviewed instead.
var ErrNotWarning = errors.New("only warnings can be suppressed")

// ExportReadiness gates the downstream export decision. Warnings never
// block readiness.
type ExportReadiness struct {
	ReadyForExport   bool `json:"ready_for_export"`
	UnreviewedErrors int  `json:"unreviewed_errors"`
}

// ReviewSummary describes review progress over a record set.
type ReviewSummary struct {
	TotalErrors        int     `json:"total_errors"`
	ReviewedErrors     int     `json:"reviewed_errors"`
	UnreviewedErrors   int     `json:"unreviewed_errors"`
	TotalWarnings      int     `json:"total_warnings"`
	SuppressedWarnings int     `json:"suppressed_warnings"`
	ActiveWarnings     int     `json:"active_warnings"`
	ReadyForExport     bool    `json:"ready_for_export"`
	FinalPassRate      float64 `json:"final_pass_rate"`
}

// Ledger is the review state machine over stored validation results.
// Results enter UNREVIEWED and move to REVIEWED exactly once through an
// explicit review action; re-reviewing is idempotent. Every transition
// is appended to the audit sink.
type Ledger struct {
	store ResultStore
	audit AuditSink
}

func NewLedger(store ResultStore, audit AuditSink) *Ledger {
	return &Ledger{store: store, audit: audit}
}

// SaveRun persists all results of one validation run as a single bulk
// operation, superseding any earlier results for the record set, and
// returns the run id.
func (l *Ledger) SaveRun(recordSetID uuid.UUID, industry string, recordCount int, results []*rules.ValidationResult) (uuid.UUID, error) {
	run := RunInfo{
		RunID:       uuid.New(),
		RecordSetID: recordSetID,
		Industry:    industry,
		RecordCount: recordCount,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.store.SaveRun(run, results); err != nil {
		return uuid.Nil, fmt.Errorf("failed to save validation run: %w", err)
	}

	errorCount, warningCount := 0, 0
	for _, res := range results {
		if res.Severity == rules.SeverityError {
			errorCount++
		} else {
			warningCount++
		}
	}
	l.appendAudit(AuditEvent{
		ID:         uuid.New(),
		EntityType: "record_set",
		EntityID:   recordSetID,
		Action:     ActionValidated,
		Actor:      "validation_engine",
		After: map[string]any{
			"run_id":   run.RunID.String(),
			"results":  len(results),
			"errors":   errorCount,
			"warnings": warningCount,
		},
		CreatedAt: run.CreatedAt,
	})

	return run.RunID, nil
}

// MarkReviewed applies the review transition to a result. Reviewing an
// already reviewed result reapplies reviewer and notes.
func (l *Ledger) MarkReviewed(resultID uuid.UUID, reviewer, notes string) (*rules.ValidationResult, error) {
	return l.review(resultID, reviewer, notes, ActionReviewed, nil)
}

// SuppressWarning acknowledges a warning so it stops surfacing in
// reports. Error-severity results are rejected with ErrNotWarning.
func (l *Ledger) SuppressWarning(resultID uuid.UUID, reviewer, reason string) (*rules.ValidationResult, error) {
	guard := func(res *rules.ValidationResult) error {
		if res.Severity == rules.SeverityError {
			return ErrNotWarning
		}
		return nil
	}
	return l.review(resultID, reviewer, "SUPPRESSED: "+reason, ActionSuppressed, guard)
}

func (l *Ledger) review(resultID uuid.UUID, reviewer, notes, action string, guard func(*rules.ValidationResult) error) (*rules.ValidationResult, error) {
	before, err := l.store.Get(resultID)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		if err := guard(before); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	after, err := l.store.SetReviewed(resultID, reviewer, notes, now)
	if err != nil {
		return nil, err
	}

	l.appendAudit(AuditEvent{
		ID:         uuid.New(),
		EntityType: "validation_result",
		EntityID:   resultID,
		Action:     action,
		Actor:      reviewer,
		Before:     reviewSnapshot(before),
		After:      reviewSnapshot(after),
		CreatedAt:  now,
	})

	return after, nil
}

// BulkReview marks several results reviewed with shared notes,
// skipping unknown ids, and returns how many were reviewed.
func (l *Ledger) BulkReview(resultIDs []uuid.UUID, reviewer, notes string) (int, error) {
	count := 0
	for _, id := range resultIDs {
		_, err := l.MarkReviewed(id, reviewer, notes)
		if errors.Is(err, ErrResultNotFound) {
			continue
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Results returns the current (non-superseded) results of a record set.
func (l *Ledger) Results(recordSetID uuid.UUID) ([]*rules.ValidationResult, error) {
	return l.store.ListByRecordSet(recordSetID)
}

// LatestRun returns the most recent validation run of a record set.
func (l *Ledger) LatestRun(recordSetID uuid.UUID) (*RunInfo, error) {
	return l.store.LatestRun(recordSetID)
}

// ExportReadiness counts unreviewed error-severity results; a record
// set is ready for export exactly when that count is zero.
func (l *Ledger) ExportReadiness(recordSetID uuid.UUID) (ExportReadiness, error) {
	results, err := l.store.ListByRecordSet(recordSetID)
	if err != nil {
		return ExportReadiness{}, err
	}

	unreviewed := 0
	for _, res := range results {
		if res.Severity == rules.SeverityError && !res.Reviewed {
			unreviewed++
		}
	}
	return ExportReadiness{
		ReadyForExport:   unreviewed == 0,
		UnreviewedErrors: unreviewed,
	}, nil
}

// Summary reports review progress. FinalPassRate is the share of
// records with no unreviewed error, so it rises as reviews resolve
// false positives.
func (l *Ledger) Summary(recordSetID uuid.UUID) (ReviewSummary, error) {
	run, err := l.store.LatestRun(recordSetID)
	if err != nil {
		return ReviewSummary{}, err
	}
	results, err := l.store.ListByRecordSet(recordSetID)
	if err != nil {
		return ReviewSummary{}, err
	}

	var s ReviewSummary
	recordsWithUnreviewed := make(map[uuid.UUID]struct{})
	for _, res := range results {
		if res.Severity == rules.SeverityError {
			s.TotalErrors++
			if res.Reviewed {
				s.ReviewedErrors++
			} else {
				s.UnreviewedErrors++
				recordsWithUnreviewed[res.RecordID] = struct{}{}
			}
		} else {
			s.TotalWarnings++
			if res.Reviewed {
				s.SuppressedWarnings++
			} else {
				s.ActiveWarnings++
			}
		}
	}
	s.ReadyForExport = s.UnreviewedErrors == 0

	if run.RecordCount > 0 {
		passing := run.RecordCount - len(recordsWithUnreviewed)
		s.FinalPassRate = float64(passing) / float64(run.RecordCount) * 100
	} else {
		s.FinalPassRate = 100
	}

	return s, nil
}

// appendAudit never fails a review over a broken audit sink; the
// failure is logged and surfaced through the error counter instead.
func (l *Ledger) appendAudit(ev AuditEvent) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Append(ev); err != nil {
		logger.Error("failed to append audit event",
			"action", ev.Action, "entity_id", ev.EntityID.String(), "error", err)
	}
}

func reviewSnapshot(res *rules.ValidationResult) map[string]any {
	return map[string]any{
		"rule_name":      res.RuleName,
		"severity":       string(res.Severity),
		"reviewed":       res.Reviewed,
		"reviewer":       res.Reviewer,
		"reviewer_notes": res.ReviewerNotes,
	}
}
