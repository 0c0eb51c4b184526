package review

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openesg/validate/rules"
)

var (
	// ErrResultNotFound is returned when a result id is unknown.
	ErrResultNotFound = errors.New("validation result not found")
	// ErrRunNotFound is returned when a record set has no saved run.
	ErrRunNotFound = errors.New("validation run not found")
)

// RunInfo identifies one validation run over a record set.
type RunInfo struct {
	RunID       uuid.UUID `json:"run_id"`
	RecordSetID uuid.UUID `json:"record_set_id"`
	Industry    string    `json:"industry"`
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResultStore persists validation outcomes and their review state.
//
// SaveRun is the only bulk write: all results of a run become visible
// together and prior results for the same record set are marked
// superseded, never deleted. SetReviewed is the only mutation of a
// stored result; implementations must serialize concurrent calls on
// the same id.
type ResultStore interface {
	SaveRun(run RunInfo, results []*rules.ValidationResult) error
	Get(id uuid.UUID) (*rules.ValidationResult, error)
	// ListByRecordSet returns the current (non-superseded) results in
	// insertion order.
	ListByRecordSet(recordSetID uuid.UUID) ([]*rules.ValidationResult, error)
	LatestRun(recordSetID uuid.UUID) (*RunInfo, error)
	SetReviewed(id uuid.UUID, reviewer, notes string, at time.Time) (*rules.ValidationResult, error)
}

// InMemoryResultStore keeps results in process memory. Intended for
// tests and single-process deployments.
type InMemoryResultStore struct {
	mu      sync.RWMutex
	results map[uuid.UUID]*storedResult
	order   []uuid.UUID
	runs    map[uuid.UUID][]RunInfo
}

type storedResult struct {
	result      rules.ValidationResult
	recordSetID uuid.UUID
}

func NewInMemoryResultStore() *InMemoryResultStore {
	return &InMemoryResultStore{
		results: make(map[uuid.UUID]*storedResult),
		runs:    make(map[uuid.UUID][]RunInfo),
	}
}

func (s *InMemoryResultStore) SaveRun(run RunInfo, results []*rules.ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		stored := s.results[id]
		if stored.recordSetID == run.RecordSetID {
			stored.result.Superseded = true
		}
	}

	for _, res := range results {
		if res.ID == uuid.Nil {
			return fmt.Errorf("result for rule %s has no id", res.RuleName)
		}
		if _, exists := s.results[res.ID]; exists {
			return fmt.Errorf("result %s already saved", res.ID)
		}
		copied := *res
		copied.RunID = run.RunID
		s.results[res.ID] = &storedResult{result: copied, recordSetID: run.RecordSetID}
		s.order = append(s.order, res.ID)
	}

	s.runs[run.RecordSetID] = append(s.runs[run.RecordSetID], run)
	return nil
}

func (s *InMemoryResultStore) Get(id uuid.UUID) (*rules.ValidationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.results[id]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", id, ErrResultNotFound)
	}
	copied := stored.result
	return &copied, nil
}

func (s *InMemoryResultStore) ListByRecordSet(recordSetID uuid.UUID) ([]*rules.ValidationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*rules.ValidationResult
	for _, id := range s.order {
		stored := s.results[id]
		if stored.recordSetID != recordSetID || stored.result.Superseded {
			continue
		}
		copied := stored.result
		out = append(out, &copied)
	}
	return out, nil
}

func (s *InMemoryResultStore) LatestRun(recordSetID uuid.UUID) (*RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := s.runs[recordSetID]
	if len(runs) == 0 {
		return nil, fmt.Errorf("record set %s: %w", recordSetID, ErrRunNotFound)
	}
	latest := runs[len(runs)-1]
	return &latest, nil
}

// SetReviewed applies the review transition. Reviewing an already
// reviewed result reapplies reviewer and notes rather than failing.
func (s *InMemoryResultStore) SetReviewed(id uuid.UUID, reviewer, notes string, at time.Time) (*rules.ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.results[id]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", id, ErrResultNotFound)
	}
	stored.result.Reviewed = true
	stored.result.Reviewer = reviewer
	stored.result.ReviewerNotes = notes
	stored.result.ReviewedAt = &at

	copied := stored.result
	return &copied, nil
}
