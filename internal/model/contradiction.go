package model

import (
	"time"

	"github.com/google/uuid"
)

// Contradiction is a detected semantic conflict between two statements in a
// topic. Persisted with Resolved=false; when the conversational layer
// resolves it (user clarifies), Resolved flips to true and the row is
// excluded from consistency scoring without being deleted — the audit trail
// of what the user contradicted and later clarified is kept.
type Contradiction struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Topic     string    `json:"topic"`

	// StatementA/B are the conflicting statement texts as sent to the
	// detector; IndexA/IndexB are their positions in the detection input.
	IndexA      int    `json:"index_a"`
	IndexB      int    `json:"index_b"`
	StatementA  string `json:"statement_a"`
	StatementB  string `json:"statement_b"`
	Explanation string `json:"explanation,omitempty"`

	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	DetectedAt time.Time  `json:"detected_at"`
}
