package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kioku-ai/kioku/internal/model"
)

// CreateSession inserts a new active session and returns it.
func (db *DB) CreateSession(ctx context.Context, projectID uuid.UUID) (model.Session, error) {
	s := model.Session{
		ID:        uuid.New(),
		ProjectID: projectID,
		Status:    model.SessionActive,
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	s.LastTurnAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO sessions (id, project_id, status, readiness, last_topic, turn_count, created_at, updated_at, last_turn_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.ProjectID, s.Status, s.Readiness, s.LastTopic, s.TurnCount, s.CreatedAt, s.UpdatedAt, s.LastTurnAt,
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: create session: %w", err)
	}
	return s, nil
}

// GetSession retrieves a session by ID.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (model.Session, error) {
	var s model.Session
	err := db.pool.QueryRow(ctx,
		`SELECT id, project_id, status, readiness, last_topic, turn_count, created_at, updated_at, last_turn_at
		 FROM sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.ProjectID, &s.Status, &s.Readiness, &s.LastTopic, &s.TurnCount, &s.CreatedAt, &s.UpdatedAt, &s.LastTurnAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	return s, nil
}

// UpdateSessionStatus transitions a session's status, enforcing the
// lifecycle state machine: terminal states accept no further transitions.
func (db *DB) UpdateSessionStatus(ctx context.Context, id uuid.UUID, next model.SessionStatus) (model.Session, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current model.SessionStatus
	err = tx.QueryRow(ctx, `SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("storage: lock session: %w", err)
	}

	if !current.CanTransition(next) {
		return model.Session{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET status = $1, updated_at = $2 WHERE id = $3`,
		next, time.Now().UTC(), id,
	); err != nil {
		return model.Session{}, fmt.Errorf("storage: update session status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Session{}, fmt.Errorf("storage: commit status update: %w", err)
	}
	return db.GetSession(ctx, id)
}

// UpdateSessionReadiness stores the recomputed aggregate readiness.
// The last touched topic is maintained by AppendTurn.
func (db *DB) UpdateSessionReadiness(ctx context.Context, id uuid.UUID, readiness float64) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE sessions SET readiness = $1, updated_at = $2 WHERE id = $3`,
		readiness, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: update session readiness: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AbandonInactiveSessions marks active and paused sessions with no turn
// activity since the cutoff as abandoned. Returns the number of sessions
// transitioned.
func (db *DB) AbandonInactiveSessions(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, updated_at = $2
		 WHERE status IN ($3, $4) AND last_turn_at < $5`,
		model.SessionAbandoned, time.Now().UTC(), model.SessionActive, model.SessionPaused, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: abandon inactive sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// sessionWritable returns the session's status inside tx with a row lock,
// rejecting terminal sessions. Writers for turns, decisions, and artifacts
// funnel through this so nothing is mutated after completion.
func sessionWritable(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) error {
	var status model.SessionStatus
	err := tx.QueryRow(ctx, `SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: lock session: %w", err)
	}
	if status.Terminal() {
		return ErrSessionClosed
	}
	return nil
}
