package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ArtifactKind identifies the semantic unit an artifact describes.
type ArtifactKind string

const (
	ArtifactScreen   ArtifactKind = "screen"
	ArtifactFlow     ArtifactKind = "flow"
	ArtifactEndpoint ArtifactKind = "endpoint"
	ArtifactOther    ArtifactKind = "other"
)

// ValidArtifactKind reports whether k is a known artifact kind.
func ValidArtifactKind(k ArtifactKind) bool {
	switch k {
	case ArtifactScreen, ArtifactFlow, ArtifactEndpoint, ArtifactOther:
		return true
	}
	return false
}

// Artifact is a derived, embeddable unit extracted from conversation —
// a UI screen, a user flow, an API endpoint spec. Unlike turns and
// decisions (bounded, stored unchunked), an artifact whose serialized
// content exceeds the chunking threshold is split into chunks, each
// tagged back to its parent via ParentID so query results can be
// deduplicated by parent.
type Artifact struct {
	ID        uuid.UUID    `json:"id"`
	SessionID uuid.UUID    `json:"session_id"`
	Topic     string       `json:"topic,omitempty"`
	Kind      ArtifactKind `json:"kind"`
	Name      string       `json:"name"`
	Content   string       `json:"content"`

	// ParentID is set on chunks; nil on root artifacts.
	ParentID   *uuid.UUID `json:"parent_id,omitempty"`
	ChunkIndex int        `json:"chunk_index,omitempty"`

	Embedding  *pgvector.Vector `json:"-"`
	EmbeddedAt *time.Time       `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}
