// Package sessions owns the session lifecycle: creation, the per-turn
// scoring pipeline, status transitions, and the background passes that
// keep confidence and readiness current.
//
// All writes to one session go through a per-session lock, so turn
// numbering, topic rescoring, and readiness updates never interleave
// for the same session. Different sessions proceed in parallel.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kioku-ai/kioku/internal/checklist"
	"github.com/kioku-ai/kioku/internal/contradiction"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/scoring"
	"github.com/kioku-ai/kioku/internal/service/memory"
	"github.com/kioku-ai/kioku/internal/storage"
)

// Manager coordinates session state.
type Manager struct {
	db        *storage.DB
	mem       *memory.Store
	detector  contradiction.Detector
	checklist *checklist.Checklist
	scoreCfg  scoring.Config
	logger    *slog.Logger

	locks *sessionLocks

	// detectWG tracks in-flight async detection passes so Shutdown can
	// wait for them.
	detectWG sync.WaitGroup
}

// NewManager creates the session manager. The detector should already
// be wrapped in contradiction.SafeDetector; detection failures must
// never fail a turn.
func NewManager(db *storage.DB, mem *memory.Store, detector contradiction.Detector, cl *checklist.Checklist, scoreCfg scoring.Config, logger *slog.Logger) *Manager {
	return &Manager{
		db:        db,
		mem:       mem,
		detector:  detector,
		checklist: cl,
		scoreCfg:  scoreCfg,
		logger:    logger,
		locks:     newSessionLocks(),
	}
}

// Create starts a new session and seeds a topic row per checklist
// entry, all incomplete with zero confidence.
func (m *Manager) Create(ctx context.Context, projectID uuid.UUID) (model.Session, error) {
	sess, err := m.db.CreateSession(ctx, projectID)
	if err != nil {
		return model.Session{}, err
	}
	for _, spec := range m.checklist.Topics {
		if _, err := m.db.UpsertTopic(ctx, sess.ID, spec.Name); err != nil {
			return model.Session{}, fmt.Errorf("sessions: seed topic %q: %w", spec.Name, err)
		}
	}
	m.logger.Info("session created", "session_id", sess.ID, "project_id", projectID)
	return sess, nil
}

// Get returns the session and its full topic breakdown.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (model.SessionStateResponse, error) {
	sess, err := m.db.GetSession(ctx, id)
	if err != nil {
		return model.SessionStateResponse{}, err
	}
	topics, err := m.db.ListTopics(ctx, id)
	if err != nil {
		return model.SessionStateResponse{}, err
	}
	return model.SessionStateResponse{Session: sess, Topics: topics}, nil
}

// UpdateStatus applies a lifecycle transition. Completing a session is
// refused until readiness clears the generation threshold; invalid
// transitions surface storage.ErrInvalidTransition.
func (m *Manager) UpdateStatus(ctx context.Context, id uuid.UUID, status model.SessionStatus) (model.Session, error) {
	release := m.locks.acquire(id)
	defer release()

	if status == model.SessionComplete {
		sess, err := m.db.GetSession(ctx, id)
		if err != nil {
			return model.Session{}, err
		}
		if !scoring.ReadyForGeneration(m.scoreCfg, sess.Readiness) {
			return model.Session{}, fmt.Errorf("sessions: readiness %.1f below %.0f: %w",
				sess.Readiness, m.scoreCfg.ReadinessThreshold, storage.ErrInvalidTransition)
		}
	}
	return m.db.UpdateSessionStatus(ctx, id, status)
}

// MarkTopicNotApplicable excludes a topic from readiness and recomputes
// the session's readiness under the remaining weights.
func (m *Manager) MarkTopicNotApplicable(ctx context.Context, sessionID uuid.UUID, topic string) error {
	release := m.locks.acquire(sessionID)
	defer release()

	if err := m.db.MarkTopicNotApplicable(ctx, sessionID, topic); err != nil {
		return err
	}
	return m.refreshReadiness(ctx, sessionID)
}

// ResolveContradiction marks a finding resolved and rescores the topic
// it was counted against.
func (m *Manager) ResolveContradiction(ctx context.Context, sessionID, contradictionID uuid.UUID, topic string) (model.Topic, error) {
	release := m.locks.acquire(sessionID)
	defer release()

	if err := m.db.ResolveContradiction(ctx, contradictionID); err != nil {
		return model.Topic{}, err
	}
	return m.rescoreTopic(ctx, sessionID, topic)
}

// Contradictions lists open findings for a session topic.
func (m *Manager) Contradictions(ctx context.Context, sessionID uuid.UUID, topic string) ([]model.Contradiction, error) {
	return m.db.UnresolvedContradictions(ctx, sessionID, topic)
}

// Shutdown waits for in-flight detection passes, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.detectWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sessions: shutdown: %w", ctx.Err())
	}
}

// RunAbandonmentSweep marks sessions with no turn activity past the
// timeout as abandoned, looping until ctx is cancelled. Call in a
// goroutine.
func (m *Manager) RunAbandonmentSweep(ctx context.Context, timeout, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.db.AbandonInactiveSessions(ctx, time.Now().UTC().Add(-timeout))
			if err != nil {
				m.logger.Error("abandonment sweep failed", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Info("abandoned inactive sessions", "count", n)
			}
		}
	}
}

func (m *Manager) refreshReadiness(ctx context.Context, sessionID uuid.UUID) error {
	topics, err := m.db.ListTopics(ctx, sessionID)
	if err != nil {
		return err
	}
	readiness := scoring.Readiness(m.checklist, topics)
	return m.db.UpdateSessionReadiness(ctx, sessionID, readiness)
}
