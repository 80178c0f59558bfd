// Package search provides cross-session decision recall backed by an
// external vector index, with transparent fallback to the pgvector
// indexes in Postgres when the index is unavailable.
package search

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// Result holds a decision ID and its raw similarity score from the
// search index. The caller hydrates full decisions from Postgres, the
// source of truth.
type Result struct {
	DecisionID uuid.UUID
	Score      float32
}

// Filter narrows a cross-session search. Zero values match everything
// within the project.
type Filter struct {
	SessionID uuid.UUID
	Topic     string
}

// Searcher is the interface for vector search indexes.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns decision IDs matching the query vector within a
	// project, best first.
	Search(ctx context.Context, projectID uuid.UUID, embedding []float32, f Filter, limit int) ([]Result, error)

	// Healthy returns nil if the search index is reachable.
	Healthy(ctx context.Context) error
}

// SortResults orders results by score descending and truncates to
// limit. Qdrant already returns sorted results; this normalizes merged
// result sets.
func SortResults(results []Result, limit int) []Result {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
