package review

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openesg/validate/rules"
)

func testRun(recordSetID uuid.UUID) RunInfo {
	return RunInfo{
		RunID:       uuid.New(),
		RecordSetID: recordSetID,
		Industry:    "cement",
		RecordCount: 4,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestInMemoryStoreCopiesOnRead(t *testing.T) {
	store := NewInMemoryResultStore()
	recordSet := uuid.New()
	res := newResult(rules.SeverityError)
	if err := store.SaveRun(testRun(recordSet), []*rules.ValidationResult{res}); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := store.Get(res.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.Reviewed = true
	got.Reviewer = "mutated"

	again, _ := store.Get(res.ID)
	if again.Reviewed || again.Reviewer != "" {
		t.Error("mutating a returned result leaked into the store")
	}
}

func TestInMemoryStoreRejectsMissingAndDuplicateIDs(t *testing.T) {
	store := NewInMemoryResultStore()
	recordSet := uuid.New()

	anonymous := newResult(rules.SeverityError)
	anonymous.ID = uuid.Nil
	if err := store.SaveRun(testRun(recordSet), []*rules.ValidationResult{anonymous}); err == nil {
		t.Error("SaveRun() accepted a result without an id")
	}

	res := newResult(rules.SeverityError)
	if err := store.SaveRun(testRun(recordSet), []*rules.ValidationResult{res}); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := store.SaveRun(testRun(recordSet), []*rules.ValidationResult{res}); err == nil {
		t.Error("SaveRun() accepted a duplicate result id")
	}
}

func TestInMemoryStoreLatestRunUnknown(t *testing.T) {
	store := NewInMemoryResultStore()
	if _, err := store.LatestRun(uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("LatestRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestInMemoryStoreSetReviewed(t *testing.T) {
	store := NewInMemoryResultStore()
	recordSet := uuid.New()
	res := newResult(rules.SeverityWarning)
	if err := store.SaveRun(testRun(recordSet), []*rules.ValidationResult{res}); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	at := time.Now().UTC()
	after, err := store.SetReviewed(res.ID, "analyst", "checked", at)
	if err != nil {
		t.Fatalf("SetReviewed() error = %v", err)
	}
	if !after.Reviewed || after.Reviewer != "analyst" || after.ReviewedAt == nil || !after.ReviewedAt.Equal(at) {
		t.Errorf("after = %+v, want the review transition applied", after)
	}

	if _, err := store.SetReviewed(uuid.New(), "analyst", "", at); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("SetReviewed(unknown) error = %v, want ErrResultNotFound", err)
	}
}

func TestInMemoryStoreListScopedToRecordSet(t *testing.T) {
	store := NewInMemoryResultStore()
	setA, setB := uuid.New(), uuid.New()
	resA := newResult(rules.SeverityError)
	resB := newResult(rules.SeverityError)
	if err := store.SaveRun(testRun(setA), []*rules.ValidationResult{resA}); err != nil {
		t.Fatalf("SaveRun(setA) error = %v", err)
	}
	if err := store.SaveRun(testRun(setB), []*rules.ValidationResult{resB}); err != nil {
		t.Fatalf("SaveRun(setB) error = %v", err)
	}

	listA, err := store.ListByRecordSet(setA)
	if err != nil {
		t.Fatalf("ListByRecordSet() error = %v", err)
	}
	if len(listA) != 1 || listA[0].ID != resA.ID {
		t.Errorf("listA = %+v, want only setA's result", listA)
	}
}
