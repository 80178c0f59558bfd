// Package memory is the durable write/read path for conversation
// history, decisions, and artifacts. Writes commit to Postgres before
// returning; embeddings are computed afterwards by the outbox worker,
// so a slow or down embedding backend never blocks a conversation.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/search"
	"github.com/kioku-ai/kioku/internal/service/embedding"
	"github.com/kioku-ai/kioku/internal/storage"
)

// chunkRunes is the maximum artifact chunk size. Chunks prefer to break
// on paragraph boundaries near the limit.
const chunkRunes = 4000

// minEmbedContent skips embedding for content too short to be a useful
// search target.
const minEmbedContent = 8

// shouldEmbed gates the outbox: content outside the useful size range is
// stored in full but never embedded. Oversized content would be rejected
// by the embedding API and burn its retry budget for nothing.
func shouldEmbed(content string) bool {
	return len(content) >= minEmbedContent && len(content) <= model.MaxTurnContentLen
}

// Store is the memory service.
type Store struct {
	db       *storage.DB
	provider embedding.Provider
	searcher search.Searcher // optional, nil = Postgres only
	logger   *slog.Logger
}

// NewStore creates the memory service.
func NewStore(db *storage.DB, provider embedding.Provider, logger *slog.Logger) *Store {
	return &Store{db: db, provider: provider, logger: logger}
}

// AttachSearcher enables cross-session recall through an external
// vector index. Call before serving traffic.
func (s *Store) AttachSearcher(idx search.Searcher) {
	s.searcher = idx
}

// AppendTurn durably records a turn and queues it for embedding. The
// returned turn carries its assigned number.
func (s *Store) AppendTurn(ctx context.Context, sessionID uuid.UUID, role model.Role, content, topic string, mode model.InputMode, meta model.TurnMetadata) (model.ConversationTurn, error) {
	turn, err := s.db.AppendTurn(ctx, sessionID, role, content, topic, mode, meta)
	if err != nil {
		return model.ConversationTurn{}, err
	}
	s.enqueue(ctx, storage.EmbedTurn, turn.ID, sessionID, content)
	return turn, nil
}

// AddDecision records a decision and queues it for embedding.
func (s *Store) AddDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	d, err := s.db.CreateDecision(ctx, d)
	if err != nil {
		return model.Decision{}, err
	}
	s.enqueue(ctx, storage.EmbedDecision, d.ID, d.SessionID, d.Decision+"\n"+d.Rationale)
	return d, nil
}

// AddArtifact stores an artifact, splitting oversized content into
// chunks under a parent row. Every chunk is queued for embedding; the
// parent of a chunked artifact holds only the name and kind.
func (s *Store) AddArtifact(ctx context.Context, sessionID uuid.UUID, kind model.ArtifactKind, name, topic, content string) (model.Artifact, error) {
	parts := splitChunks(content, chunkRunes)

	parent := model.Artifact{
		ID:        uuid.New(),
		SessionID: sessionID,
		Topic:     topic,
		Kind:      kind,
		Name:      name,
	}
	rows := []model.Artifact{parent}
	if len(parts) == 1 {
		rows[0].Content = content
	} else {
		for i, part := range parts {
			rows = append(rows, model.Artifact{
				ID:         uuid.New(),
				SessionID:  sessionID,
				Topic:      topic,
				Kind:       kind,
				Name:       fmt.Sprintf("%s#%d", name, i),
				Content:    part,
				ParentID:   &parent.ID,
				ChunkIndex: i,
			})
		}
	}

	stored, err := s.db.CreateArtifact(ctx, rows)
	if err != nil {
		return model.Artifact{}, err
	}
	for _, r := range stored {
		if r.Content != "" {
			s.enqueue(ctx, storage.EmbedArtifact, r.ID, sessionID, r.Content)
		}
	}
	return stored[0], nil
}

// Recent returns the last n turns of a session in order.
func (s *Store) Recent(ctx context.Context, sessionID uuid.UUID, n int) ([]model.ConversationTurn, error) {
	if n <= 0 {
		n = 20
	}
	return s.db.RecentTurns(ctx, sessionID, n)
}

// DefaultThreshold is the similarity floor applied when a search does
// not name one. It keeps near-zero matches out of ranked results.
const DefaultThreshold = 0.65

// SearchRequest scopes a semantic search. A non-nil ProjectID switches
// to cross-session decision recall over the whole project. A zero
// Threshold gets DefaultThreshold; a negative one disables the floor.
type SearchRequest struct {
	Query     string
	ProjectID uuid.UUID
	SessionID uuid.UUID
	Topic     string
	Kinds     []storage.EmbedKind
	Limit     int
	Threshold float64
}

func (req SearchRequest) withDefaults() SearchRequest {
	switch {
	case req.Threshold == 0:
		req.Threshold = DefaultThreshold
	case req.Threshold < 0:
		req.Threshold = 0
	}
	return req
}

// Search embeds the query and ranks stored content by cosine
// similarity, merging hits across the requested kinds.
func (s *Store) Search(ctx context.Context, req SearchRequest) ([]storage.SearchHit, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("memory: empty search query")
	}
	req = req.withDefaults()
	vec, err := s.provider.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	if req.ProjectID != uuid.Nil {
		return s.recallProject(ctx, req, vec)
	}

	kinds := req.Kinds
	if len(kinds) == 0 {
		kinds = []storage.EmbedKind{storage.EmbedTurn, storage.EmbedDecision, storage.EmbedArtifact}
	}
	filter := storage.SearchFilter{
		SessionID: req.SessionID,
		Topic:     req.Topic,
		Limit:     req.Limit,
		Threshold: req.Threshold,
	}

	var hits []storage.SearchHit
	for _, kind := range kinds {
		var part []storage.SearchHit
		switch kind {
		case storage.EmbedTurn:
			part, err = s.db.SearchTurns(ctx, vec, filter)
		case storage.EmbedDecision:
			part, err = s.db.SearchDecisions(ctx, vec, filter)
		case storage.EmbedArtifact:
			part, err = s.db.SearchArtifacts(ctx, vec, filter)
		default:
			err = fmt.Errorf("memory: unknown search kind %q", kind)
		}
		if err != nil {
			return nil, err
		}
		hits = append(hits, part...)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	return hits, nil
}

// recallProject searches decisions across every session of a project.
// The external index is tried first; if it is absent, unhealthy, or
// errors, the pgvector indexes in Postgres answer instead so recall
// degrades rather than fails.
func (s *Store) recallProject(ctx context.Context, req SearchRequest, vec pgvector.Vector) ([]storage.SearchHit, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	if s.searcher != nil && s.searcher.Healthy(ctx) == nil {
		hits, err := s.recallFromIndex(ctx, req, vec, limit)
		if err == nil {
			return hits, nil
		}
		s.logger.Warn("memory: index recall failed, falling back to postgres", "error", err)
	}

	return s.db.SearchProjectDecisions(ctx, vec, req.ProjectID, storage.SearchFilter{
		SessionID: req.SessionID,
		Topic:     req.Topic,
		Limit:     limit,
		Threshold: req.Threshold,
	})
}

func (s *Store) recallFromIndex(ctx context.Context, req SearchRequest, vec pgvector.Vector, limit int) ([]storage.SearchHit, error) {
	results, err := s.searcher.Search(ctx, req.ProjectID, vec.Slice(), search.Filter{
		SessionID: req.SessionID,
		Topic:     req.Topic,
	}, limit)
	if err != nil {
		return nil, err
	}
	// Best-first order is a contract with the caller, not with the
	// index backend.
	results = search.SortResults(results, limit)
	if len(results) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.DecisionID
	}
	decisions, err := s.db.DecisionsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]storage.SearchHit, 0, len(results))
	for _, r := range results {
		if req.Threshold > 0 && float64(r.Score) < req.Threshold {
			continue
		}
		d, ok := decisions[r.DecisionID]
		if !ok {
			// Deleted between index lookup and hydration.
			continue
		}
		hits = append(hits, storage.SearchHit{
			Kind:       storage.EmbedDecision,
			ID:         d.ID,
			SessionID:  d.SessionID,
			Topic:      d.Topic,
			Content:    d.Decision,
			Similarity: float64(r.Score),
			CreatedAt:  d.CreatedAt,
		})
	}
	return hits, nil
}

// enqueue is best-effort: a failed enqueue is logged, not surfaced. The
// durable row exists either way and can be re-queued by a later sweep.
func (s *Store) enqueue(ctx context.Context, kind storage.EmbedKind, id, sessionID uuid.UUID, content string) {
	if !shouldEmbed(content) {
		return
	}
	if err := s.db.EnqueueEmbed(ctx, kind, id, sessionID, content); err != nil {
		s.logger.Error("memory: enqueue embed", "kind", kind, "id", id, "error", err)
	}
}

// splitChunks breaks text into pieces of at most limit runes, breaking
// on paragraph then newline boundaries when one exists in the trailing
// quarter of the window.
func splitChunks(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}
		cut := limit
		floor := limit * 3 / 4
		for i := limit - 1; i >= floor; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	return parts
}
