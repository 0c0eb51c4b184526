package review

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/openesg/validate/rules"
)

// PostgresResultStore implements ResultStore on PostgreSQL. One
// transaction per SaveRun keeps a run atomic: either every result of
// the run is visible or none is. The review update is a single-row
// UPDATE, so concurrent reviews of the same result serialize on the
// row lock.
type PostgresResultStore struct {
	db *sql.DB
}

func NewPostgresResultStore(db *sql.DB) *PostgresResultStore {
	return &PostgresResultStore{db: db}
}

const resultColumns = `
	id, record_set_id, record_id, run_id, rule_name, severity, message,
	citation, suggested_fixes, actual_value, expected_low, expected_high,
	expected_values, superseded, reviewed, reviewer, reviewer_notes,
	reviewed_at, created_at`

func (s *PostgresResultStore) SaveRun(run RunInfo, results []*rules.ValidationResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin save transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO validation_runs (id, record_set_id, industry, record_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.RunID, run.RecordSetID, run.Industry, run.RecordCount, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE validation_results
		SET superseded = true
		WHERE record_set_id = $1 AND superseded = false
	`, run.RecordSetID)
	if err != nil {
		return fmt.Errorf("failed to supersede prior results: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO validation_results (
			id, record_set_id, record_id, run_id, rule_name, severity,
			message, citation, suggested_fixes, actual_value,
			expected_low, expected_high, expected_values, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, res := range results {
		fixes, err := json.Marshal(res.SuggestedFixes)
		if err != nil {
			return fmt.Errorf("failed to encode suggested fixes: %w", err)
		}
		expectedValues, err := json.Marshal(res.Expected.Values)
		if err != nil {
			return fmt.Errorf("failed to encode expected values: %w", err)
		}

		_, err = stmt.Exec(
			res.ID, run.RecordSetID, res.RecordID, run.RunID,
			res.RuleName, string(res.Severity), res.Message, res.Citation,
			fixes, nullFloat(res.ActualValue),
			nullFloat(res.Expected.Low), nullFloat(res.Expected.High),
			expectedValues, res.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert result %s: %w", res.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save transaction: %w", err)
	}
	return nil
}

func (s *PostgresResultStore) Get(id uuid.UUID) (*rules.ValidationResult, error) {
	row := s.db.QueryRow(`
		SELECT `+resultColumns+`
		FROM validation_results
		WHERE id = $1
	`, id)

	res, _, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", id, ErrResultNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return res, nil
}

func (s *PostgresResultStore) ListByRecordSet(recordSetID uuid.UUID) ([]*rules.ValidationResult, error) {
	rows, err := s.db.Query(`
		SELECT `+resultColumns+`
		FROM validation_results
		WHERE record_set_id = $1 AND superseded = false
		ORDER BY created_at ASC, id ASC
	`, recordSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var out []*rules.ValidationResult
	for rows.Next() {
		res, _, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return out, nil
}

func (s *PostgresResultStore) LatestRun(recordSetID uuid.UUID) (*RunInfo, error) {
	var run RunInfo
	err := s.db.QueryRow(`
		SELECT id, record_set_id, industry, record_count, created_at
		FROM validation_runs
		WHERE record_set_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, recordSetID).Scan(&run.RunID, &run.RecordSetID, &run.Industry, &run.RecordCount, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record set %s: %w", recordSetID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return &run, nil
}

func (s *PostgresResultStore) SetReviewed(id uuid.UUID, reviewer, notes string, at time.Time) (*rules.ValidationResult, error) {
	result, err := s.db.Exec(`
		UPDATE validation_results
		SET reviewed = true, reviewer = $2, reviewer_notes = $3, reviewed_at = $4
		WHERE id = $1
	`, id, reviewer, notes, at)
	if err != nil {
		return nil, fmt.Errorf("failed to update review state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("result %s: %w", id, ErrResultNotFound)
	}

	return s.Get(id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*rules.ValidationResult, uuid.UUID, error) {
	var (
		res            rules.ValidationResult
		recordSetID    uuid.UUID
		severity       string
		fixes          []byte
		expectedValues []byte
		actual         sql.NullFloat64
		expectedLow    sql.NullFloat64
		expectedHigh   sql.NullFloat64
		reviewer       sql.NullString
		reviewerNotes  sql.NullString
		reviewedAt     sql.NullTime
	)

	err := row.Scan(
		&res.ID, &recordSetID, &res.RecordID, &res.RunID, &res.RuleName,
		&severity, &res.Message, &res.Citation, &fixes, &actual,
		&expectedLow, &expectedHigh, &expectedValues, &res.Superseded,
		&res.Reviewed, &reviewer, &reviewerNotes, &reviewedAt, &res.CreatedAt,
	)
	if err != nil {
		return nil, uuid.Nil, err
	}

	res.Severity = rules.Severity(severity)
	if len(fixes) > 0 {
		if err := json.Unmarshal(fixes, &res.SuggestedFixes); err != nil {
			return nil, uuid.Nil, fmt.Errorf("failed to decode suggested fixes: %w", err)
		}
	}
	if len(expectedValues) > 0 {
		if err := json.Unmarshal(expectedValues, &res.Expected.Values); err != nil {
			return nil, uuid.Nil, fmt.Errorf("failed to decode expected values: %w", err)
		}
	}
	if actual.Valid {
		res.ActualValue = &actual.Float64
	}
	if expectedLow.Valid {
		res.Expected.Low = &expectedLow.Float64
	}
	if expectedHigh.Valid {
		res.Expected.High = &expectedHigh.Float64
	}
	if reviewer.Valid {
		res.Reviewer = reviewer.String
	}
	if reviewerNotes.Valid {
		res.ReviewerNotes = reviewerNotes.String
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		res.ReviewedAt = &t
	}

	return &res, recordSetID, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
