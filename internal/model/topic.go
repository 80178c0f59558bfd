package model

import (
	"time"

	"github.com/google/uuid"
)

// TopicStatus enumerates elicitation progress for one checklist topic.
type TopicStatus string

const (
	TopicIncomplete    TopicStatus = "incomplete"
	TopicPartial       TopicStatus = "partial"
	TopicComplete      TopicStatus = "complete"
	TopicNotApplicable TopicStatus = "not_applicable"
)

// ValidTopicStatus reports whether s is a known topic status.
func ValidTopicStatus(s TopicStatus) bool {
	switch s {
	case TopicIncomplete, TopicPartial, TopicComplete, TopicNotApplicable:
		return true
	}
	return false
}

// Topic tracks elicitation progress and the confidence breakdown for
// one requirements area within a session. Unique per (session, name).
type Topic struct {
	ID        uuid.UUID   `json:"id"`
	SessionID uuid.UUID   `json:"session_id"`
	Name      string      `json:"name"`
	Status    TopicStatus `json:"status"`

	// Confidence is the scored 0-100 confidence; Completion is the
	// completeness sub-score kept alongside for progress display.
	Confidence float64 `json:"confidence"`
	Completion float64 `json:"completion"`

	QuestionsAsked    int `json:"questions_asked"`
	QuestionsAnswered int `json:"questions_answered"`

	// CoveredSubtopics are the required subtopics observed so far;
	// MissingItems is the scorer's human-readable gap list.
	CoveredSubtopics []string `json:"covered_subtopics,omitempty"`
	MissingItems     []string `json:"missing_items,omitempty"`

	LastQuestion string `json:"last_question,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
