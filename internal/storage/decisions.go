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

// maxSupersedeDepth bounds the chain walk in UpdateDecisionStatus.
// Chains longer than this are treated as cycles.
const maxSupersedeDepth = 64

// CreateDecision records a new decision for a session. The session row
// is locked to reject writes into terminal sessions.
func (db *DB) CreateDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	err := db.withRetry(ctx, func(ctx context.Context) error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := sessionWritable(ctx, tx, d.SessionID); err != nil {
			return err
		}

		now := time.Now().UTC()
		d.ID = uuid.New()
		d.Status = model.DecisionProposed
		d.CreatedAt = now
		d.UpdatedAt = now
		if _, err := tx.Exec(ctx,
			`INSERT INTO decisions (id, session_id, topic, status, decision, rationale, alternatives, confidence, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
			d.ID, d.SessionID, d.Topic, d.Status, d.Decision, d.Rationale, d.Alternatives, d.Confidence, now,
		); err != nil {
			return fmt.Errorf("storage: insert decision: %w", err)
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return model.Decision{}, err
	}
	return d, nil
}

// GetDecision retrieves a decision by id.
func (db *DB) GetDecision(ctx context.Context, id uuid.UUID) (model.Decision, error) {
	d, err := scanDecision(db.pool.QueryRow(ctx, decisionSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Decision{}, ErrNotFound
		}
		return model.Decision{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return d, nil
}

// UpdateDecisionStatus transitions a decision. The owning session must
// still accept writes. Marking a decision superseded requires the id of
// its replacement; the supersede chain is walked under lock to reject
// cycles before anything is written.
func (db *DB) UpdateDecisionStatus(ctx context.Context, id uuid.UUID, status model.DecisionStatus, supersededBy *uuid.UUID) (model.Decision, error) {
	var out model.Decision
	err := db.withRetry(ctx, func(ctx context.Context) error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin: %w", err)
		}
		defer tx.Rollback(ctx)

		var sessionID uuid.UUID
		if err := tx.QueryRow(ctx,
			`SELECT session_id FROM decisions WHERE id = $1 FOR UPDATE`, id,
		).Scan(&sessionID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("storage: lock decision: %w", err)
		}
		if err := sessionWritable(ctx, tx, sessionID); err != nil {
			return err
		}

		if status == model.DecisionSuperseded {
			if supersededBy == nil {
				return fmt.Errorf("storage: superseded status requires a replacement decision")
			}
			if err := checkSupersedeChain(ctx, tx, id, *supersededBy); err != nil {
				return err
			}
		} else {
			supersededBy = nil
		}

		row := tx.QueryRow(ctx,
			`UPDATE decisions SET status = $1, superseded_by = $2, updated_at = $3 WHERE id = $4
			 RETURNING id, session_id, topic, status, decision, rationale, alternatives, confidence, superseded_by, created_at, updated_at`,
			status, supersededBy, time.Now().UTC(), id,
		)
		out, err = scanDecision(row)
		if err != nil {
			return fmt.Errorf("storage: update decision status: %w", err)
		}

		// A status change invalidates the decision's search index
		// entry. Superseded and rejected decisions come out of the
		// index; everything else gets re-upserted with the new status.
		op := IndexOpUpsert
		if status == model.DecisionSuperseded || status == model.DecisionRejected {
			op = IndexOpDelete
		}
		if err := enqueueIndexTx(ctx, tx, out.ID, out.SessionID, op); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return model.Decision{}, err
	}
	return out, nil
}

// checkSupersedeChain rejects a supersede edge that would create a
// cycle: walking from the replacement must never reach the decision
// being superseded.
func checkSupersedeChain(ctx context.Context, tx pgx.Tx, from, to uuid.UUID) error {
	if from == to {
		return ErrCycleDetected
	}
	cursor := to
	for depth := 0; depth < maxSupersedeDepth; depth++ {
		var next *uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT superseded_by FROM decisions WHERE id = $1`, cursor,
		).Scan(&next)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("storage: replacement decision %s: %w", cursor, ErrNotFound)
			}
			return fmt.Errorf("storage: walk supersede chain: %w", err)
		}
		if next == nil {
			return nil
		}
		if *next == from {
			return ErrCycleDetected
		}
		cursor = *next
	}
	return ErrCycleDetected
}

// ListSessionDecisions returns all decisions for a session, newest
// first.
func (db *DB) ListSessionDecisions(ctx context.Context, sessionID uuid.UUID) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		decisionSelect+` WHERE session_id = $1 ORDER BY created_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	return collectDecisions(rows)
}

// DecisionsByTopic returns a session's decisions for one topic, oldest
// first, excluding superseded ones unless includeSuperseded is set.
func (db *DB) DecisionsByTopic(ctx context.Context, sessionID uuid.UUID, topic string, includeSuperseded bool) ([]model.Decision, error) {
	q := decisionSelect + ` WHERE session_id = $1 AND topic = $2`
	if !includeSuperseded {
		q += ` AND status <> 'superseded'`
	}
	q += ` ORDER BY created_at ASC`
	rows, err := db.pool.Query(ctx, q, sessionID, topic)
	if err != nil {
		return nil, fmt.Errorf("storage: decisions by topic: %w", err)
	}
	return collectDecisions(rows)
}

const decisionSelect = `SELECT id, session_id, topic, status, decision, rationale, alternatives, confidence, superseded_by, created_at, updated_at
	FROM decisions`

func scanDecision(row rowScanner) (model.Decision, error) {
	var d model.Decision
	if err := row.Scan(&d.ID, &d.SessionID, &d.Topic, &d.Status, &d.Decision,
		&d.Rationale, &d.Alternatives, &d.Confidence, &d.SupersededBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return model.Decision{}, err
	}
	return d, nil
}

func collectDecisions(rows pgx.Rows) ([]model.Decision, error) {
	defer rows.Close()
	var decisions []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
