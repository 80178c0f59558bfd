package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// InputMode records how a user turn arrived.
type InputMode string

const (
	ModeVoice InputMode = "voice"
	ModeText  InputMode = "text"
)

// TurnMetadata carries transport-level details about a turn.
type TurnMetadata struct {
	LatencyMS int `json:"latency_ms,omitempty"`

	// TranscriptionConfidence is the ASR confidence for voice turns,
	// 0.0-1.0. Zero for text turns.
	TranscriptionConfidence float64 `json:"transcription_confidence,omitempty"`
}

// ConversationTurn is one utterance in a session. Turn numbers are
// assigned by storage, start at 1, and are gapless per session.
type ConversationTurn struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	TurnNumber int       `json:"turn_number"`

	Role     Role         `json:"role"`
	Content  string       `json:"content"`
	Topic    string       `json:"topic,omitempty"`
	Mode     InputMode    `json:"mode,omitempty"`
	Metadata TurnMetadata `json:"metadata,omitempty"`

	Embedding  *pgvector.Vector `json:"-"`
	EmbeddedAt *time.Time       `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}
