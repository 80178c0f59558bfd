// Package model defines the domain types shared by storage, scoring,
// and the HTTP surface.
package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates the session lifecycle states.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionComplete  SessionStatus = "complete"
	SessionAbandoned SessionStatus = "abandoned"
)

// ValidSessionStatus reports whether s is a known session status.
func ValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionActive, SessionPaused, SessionComplete, SessionAbandoned:
		return true
	}
	return false
}

// Terminal reports whether a status accepts no further writes or
// transitions. Complete and abandoned sessions are frozen.
func (s SessionStatus) Terminal() bool {
	return s == SessionComplete || s == SessionAbandoned
}

// CanTransition reports whether the lifecycle state machine allows
// moving from s to next. Active and paused interconvert; either may
// terminate; terminal states are final.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.Terminal() || s == next {
		return false
	}
	switch s {
	case SessionActive:
		return next == SessionPaused || next == SessionComplete || next == SessionAbandoned
	case SessionPaused:
		return next == SessionActive || next == SessionComplete || next == SessionAbandoned
	}
	return false
}

// Session is one requirements-elicitation conversation.
type Session struct {
	ID        uuid.UUID     `json:"id"`
	ProjectID uuid.UUID     `json:"project_id"`
	Status    SessionStatus `json:"status"`

	// Readiness is the weighted aggregate confidence (0-100) across
	// applicable checklist topics.
	Readiness float64 `json:"readiness"`

	LastTopic string `json:"last_topic,omitempty"`
	TurnCount int    `json:"turn_count"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastTurnAt time.Time `json:"last_turn_at"`
}
