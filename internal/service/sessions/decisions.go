package sessions

import (
	"context"

	"github.com/google/uuid"

	"github.com/kioku-ai/kioku/internal/model"
)

// CreateDecision records a decision, queues it for embedding, and
// rescores its topic (decisions count as statements and feed the next
// detection pass).
func (m *Manager) CreateDecision(ctx context.Context, sessionID uuid.UUID, req model.CreateDecisionRequest) (model.Decision, error) {
	release := m.locks.acquire(sessionID)
	defer release()

	d, err := m.mem.AddDecision(ctx, model.Decision{
		SessionID:    sessionID,
		Topic:        req.Topic,
		Decision:     req.Decision,
		Rationale:    req.Rationale,
		Alternatives: req.Alternatives,
		Confidence:   req.Confidence,
	})
	if err != nil {
		return model.Decision{}, err
	}

	if _, err := m.db.UpsertTopic(ctx, sessionID, req.Topic); err != nil {
		return model.Decision{}, err
	}
	if _, err := m.rescoreTopic(ctx, sessionID, req.Topic); err != nil {
		return model.Decision{}, err
	}
	m.detectAsync(sessionID, req.Topic)
	return d, nil
}

// GetDecision returns one decision.
func (m *Manager) GetDecision(ctx context.Context, id uuid.UUID) (model.Decision, error) {
	return m.db.GetDecision(ctx, id)
}

// ListDecisions returns a session's decisions, newest first.
func (m *Manager) ListDecisions(ctx context.Context, sessionID uuid.UUID) ([]model.Decision, error) {
	return m.db.ListSessionDecisions(ctx, sessionID)
}

// UpdateDecisionStatus transitions a decision and rescores its topic.
// Superseding re-runs scoring because superseded decisions drop out of
// the statement set.
func (m *Manager) UpdateDecisionStatus(ctx context.Context, id uuid.UUID, req model.UpdateDecisionStatusRequest) (model.Decision, error) {
	existing, err := m.db.GetDecision(ctx, id)
	if err != nil {
		return model.Decision{}, err
	}

	release := m.locks.acquire(existing.SessionID)
	defer release()

	d, err := m.db.UpdateDecisionStatus(ctx, id, req.Status, req.SupersededBy)
	if err != nil {
		return model.Decision{}, err
	}
	if _, err := m.rescoreTopic(ctx, d.SessionID, d.Topic); err != nil {
		return model.Decision{}, err
	}
	return d, nil
}
