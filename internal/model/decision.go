package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// DecisionStatus enumerates the decision lifecycle states.
type DecisionStatus string

const (
	DecisionProposed   DecisionStatus = "proposed"
	DecisionApproved   DecisionStatus = "approved"
	DecisionRejected   DecisionStatus = "rejected"
	DecisionSuperseded DecisionStatus = "superseded"
)

// ValidDecisionStatus reports whether s is a known decision status.
func ValidDecisionStatus(s DecisionStatus) bool {
	switch s {
	case DecisionProposed, DecisionApproved, DecisionRejected, DecisionSuperseded:
		return true
	}
	return false
}

// Decision is an architectural choice extracted from conversation, with its
// own lifecycle independent of the raw turns that produced it.
//
// Supersession is modeled as a forest: SupersededBy is the single outgoing
// edge to the decision that replaced this one. The storage layer rejects
// writes that would create a cycle.
type Decision struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"session_id"`
	Topic     string         `json:"topic"`
	Status    DecisionStatus `json:"status"`

	Decision     string   `json:"decision"`
	Rationale    string   `json:"rationale,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`

	// Confidence is the extractor's belief in this decision, 0.0-1.0.
	Confidence float64 `json:"confidence"`

	SupersededBy *uuid.UUID `json:"superseded_by,omitempty"`

	Embedding  *pgvector.Vector `json:"-"`
	EmbeddedAt *time.Time       `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DecisionForIndex carries the fields mirrored into the external search
// index. Populated by the index outbox worker from Postgres.
type DecisionForIndex struct {
	ID         uuid.UUID
	SessionID  uuid.UUID
	ProjectID  uuid.UUID
	Topic      string
	Status     string
	Confidence float64
	Embedding  []float32
	CreatedAt  time.Time
}
