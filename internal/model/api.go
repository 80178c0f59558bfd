package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits. These stop a single oversized field from exhausting
// the embedding pipeline or filling Postgres TEXT columns with
// caller-controlled garbage. Turns above MaxTurnContentLen are still stored
// in full but skipped by the embedding pipeline.
const (
	MaxTopicNameLen   = 200
	MaxTurnContentLen = 32 * 1024 // 32 KB
	MaxDecisionLen    = 16 * 1024
	MaxRationaleLen   = 32 * 1024
	MaxArtifactLen    = 256 * 1024
)

// APIResponse is the standard response envelope for all HTTP responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeCycleDetected = "CYCLE_DETECTED"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// CreateSessionRequest is the request body for POST /v1/sessions.
type CreateSessionRequest struct {
	ProjectID uuid.UUID `json:"project_id"`
}

// AppendTurnRequest is the request body for POST /v1/sessions/{id}/turns.
type AppendTurnRequest struct {
	Role     Role         `json:"role"`
	Content  string       `json:"content"`
	Mode     InputMode    `json:"mode,omitempty"`
	Topic    string       `json:"topic,omitempty"`
	Metadata TurnMetadata `json:"metadata,omitempty"`
}

// Validate checks shape and per-field length limits.
func (r AppendTurnRequest) Validate() error {
	if !ValidRole(r.Role) {
		return fmt.Errorf("role must be one of user, assistant, system (got %q)", r.Role)
	}
	if r.Content == "" {
		return fmt.Errorf("content must not be empty")
	}
	if len(r.Topic) > MaxTopicNameLen {
		return fmt.Errorf("topic exceeds maximum length of %d characters", MaxTopicNameLen)
	}
	if r.Mode != "" && r.Mode != ModeVoice && r.Mode != ModeText {
		return fmt.Errorf("mode must be voice or text (got %q)", r.Mode)
	}
	return nil
}

// CreateDecisionRequest is the request body for POST /v1/sessions/{id}/decisions.
type CreateDecisionRequest struct {
	Topic        string   `json:"topic"`
	Decision     string   `json:"decision"`
	Rationale    string   `json:"rationale,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	Confidence   float64  `json:"confidence"`
}

// Validate checks shape and per-field length limits.
func (r CreateDecisionRequest) Validate() error {
	if r.Topic == "" {
		return fmt.Errorf("topic must not be empty")
	}
	if len(r.Topic) > MaxTopicNameLen {
		return fmt.Errorf("topic exceeds maximum length of %d characters", MaxTopicNameLen)
	}
	if r.Decision == "" {
		return fmt.Errorf("decision must not be empty")
	}
	if len(r.Decision) > MaxDecisionLen {
		return fmt.Errorf("decision exceeds maximum length of %d bytes", MaxDecisionLen)
	}
	if len(r.Rationale) > MaxRationaleLen {
		return fmt.Errorf("rationale exceeds maximum length of %d bytes", MaxRationaleLen)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0.0, 1.0] (got %v)", r.Confidence)
	}
	return nil
}

// UpdateDecisionStatusRequest is the request body for
// PATCH /v1/decisions/{id}/status. SupersededBy is required when Status is
// "superseded" and must reference an existing decision in the same session.
type UpdateDecisionStatusRequest struct {
	Status       DecisionStatus `json:"status"`
	SupersededBy *uuid.UUID     `json:"superseded_by,omitempty"`
}

// Validate checks shape.
func (r UpdateDecisionStatusRequest) Validate() error {
	if !ValidDecisionStatus(r.Status) {
		return fmt.Errorf("status must be one of proposed, approved, rejected, superseded (got %q)", r.Status)
	}
	if r.Status == DecisionSuperseded && r.SupersededBy == nil {
		return fmt.Errorf("superseded_by is required when status is superseded")
	}
	if r.Status != DecisionSuperseded && r.SupersededBy != nil {
		return fmt.Errorf("superseded_by is only valid when status is superseded")
	}
	return nil
}

// CreateArtifactRequest is the request body for POST /v1/sessions/{id}/artifacts.
type CreateArtifactRequest struct {
	Kind    ArtifactKind `json:"kind"`
	Name    string       `json:"name"`
	Topic   string       `json:"topic,omitempty"`
	Content string       `json:"content"`
}

// Validate checks shape and per-field length limits.
func (r CreateArtifactRequest) Validate() error {
	if !ValidArtifactKind(r.Kind) {
		return fmt.Errorf("kind must be one of screen, flow, endpoint, other (got %q)", r.Kind)
	}
	if r.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(r.Content) > MaxArtifactLen {
		return fmt.Errorf("content exceeds maximum length of %d bytes", MaxArtifactLen)
	}
	return nil
}

// SearchRequest is the request body for POST /v1/search. Kinds narrows
// the search to turns, decisions, or artifacts; empty means all three.
type SearchRequest struct {
	Query string `json:"query"`

	// ProjectID switches to cross-session decision recall over the
	// whole project; Kinds is ignored in that mode.
	ProjectID uuid.UUID `json:"project_id,omitempty"`

	SessionID uuid.UUID `json:"session_id,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Kinds     []string  `json:"kinds,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
}

// Validate checks shape.
func (r SearchRequest) Validate() error {
	if r.Query == "" {
		return fmt.Errorf("query must not be empty")
	}
	if r.ProjectID == uuid.Nil && r.SessionID == uuid.Nil {
		return fmt.Errorf("either session_id or project_id is required")
	}
	if r.Limit < 0 || r.Limit > 100 {
		return fmt.Errorf("limit must be in [0, 100] (got %d)", r.Limit)
	}
	if r.Threshold < 0 || r.Threshold >= 1 {
		return fmt.Errorf("threshold must be in [0.0, 1.0) (got %v)", r.Threshold)
	}
	for _, k := range r.Kinds {
		switch k {
		case "turn", "decision", "artifact":
		default:
			return fmt.Errorf("kinds entries must be turn, decision, or artifact (got %q)", k)
		}
	}
	return nil
}

// UpdateSessionStatusRequest is the request body for
// PATCH /v1/sessions/{id}/status.
type UpdateSessionStatusRequest struct {
	Status SessionStatus `json:"status"`
}

// SessionStateResponse is the body of GET /v1/sessions/{id}: the session
// plus every topic's current confidence breakdown.
type SessionStateResponse struct {
	Session Session `json:"session"`
	Topics  []Topic `json:"topics"`
}

// ResumeResponse is the body of GET /v1/sessions/{id}/resume.
type ResumeResponse struct {
	RecapText     string  `json:"recap_text"`
	NextAction    string  `json:"next_action"`
	TopicSnapshot []Topic `json:"topic_snapshot"`
}
