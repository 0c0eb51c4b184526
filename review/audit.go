package review

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEvent is one appended entry of the review audit trail.
type AuditEvent struct {
	ID         uuid.UUID      `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Audit actions recorded by the ledger.
const (
	ActionValidated  = "validated"
	ActionReviewed   = "reviewed"
	ActionSuppressed = "suppressed"
)

// AuditSink receives review-trail events. Append must not mutate the
// event after returning.
type AuditSink interface {
	Append(ev AuditEvent) error
}

// MemoryAuditSink collects events in memory, for tests and single
// process deployments.
type MemoryAuditSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Append(ev AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *MemoryAuditSink) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

// PostgresAuditSink appends events to the audit_log table.
type PostgresAuditSink struct {
	db *sql.DB
}

func NewPostgresAuditSink(db *sql.DB) *PostgresAuditSink {
	return &PostgresAuditSink{db: db}
}

func (s *PostgresAuditSink) Append(ev AuditEvent) error {
	before, err := json.Marshal(ev.Before)
	if err != nil {
		return fmt.Errorf("failed to encode audit before state: %w", err)
	}
	after, err := json.Marshal(ev.After)
	if err != nil {
		return fmt.Errorf("failed to encode audit after state: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO audit_log (id, entity_type, entity_id, action, actor, before, after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.EntityType, ev.EntityID, ev.Action, ev.Actor, before, after, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}
