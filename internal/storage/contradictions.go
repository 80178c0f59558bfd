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

// RecordContradictions inserts detector findings for a topic. Findings
// that duplicate an existing unresolved pair are skipped so repeated
// detection passes stay idempotent.
func (db *DB) RecordContradictions(ctx context.Context, findings []model.Contradiction) (int, error) {
	if len(findings) == 0 {
		return 0, nil
	}
	inserted := 0
	err := db.withRetry(ctx, func(ctx context.Context) error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin: %w", err)
		}
		defer tx.Rollback(ctx)

		inserted = 0
		now := time.Now().UTC()
		for _, f := range findings {
			tag, err := tx.Exec(ctx,
				`INSERT INTO contradictions (id, session_id, topic, index_a, index_b, statement_a, statement_b, explanation, resolved, detected_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)
				 ON CONFLICT (session_id, topic, index_a, index_b) WHERE NOT resolved DO NOTHING`,
				uuid.New(), f.SessionID, f.Topic, f.IndexA, f.IndexB,
				f.StatementA, f.StatementB, f.Explanation, now,
			)
			if err != nil {
				return fmt.Errorf("storage: insert contradiction: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}
		return tx.Commit(ctx)
	})
	return inserted, err
}

// ResolveContradiction marks a finding resolved.
func (db *DB) ResolveContradiction(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE contradictions SET resolved = true, resolved_at = $1 WHERE id = $2 AND NOT resolved`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: resolve contradiction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UnresolvedContradictions returns open findings for a session topic.
func (db *DB) UnresolvedContradictions(ctx context.Context, sessionID uuid.UUID, topic string) ([]model.Contradiction, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, topic, index_a, index_b, statement_a, statement_b, explanation, resolved, resolved_at, detected_at
		 FROM contradictions WHERE session_id = $1 AND topic = $2 AND NOT resolved
		 ORDER BY detected_at ASC`,
		sessionID, topic,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: unresolved contradictions: %w", err)
	}
	defer rows.Close()

	var out []model.Contradiction
	for rows.Next() {
		var c model.Contradiction
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Topic, &c.IndexA, &c.IndexB,
			&c.StatementA, &c.StatementB, &c.Explanation, &c.Resolved, &c.ResolvedAt, &c.DetectedAt); err != nil {
			return nil, fmt.Errorf("storage: scan contradiction: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountUnresolved returns the number of open findings for a topic.
func (db *DB) CountUnresolved(ctx context.Context, sessionID uuid.UUID, topic string) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM contradictions WHERE session_id = $1 AND topic = $2 AND NOT resolved`,
		sessionID, topic,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count unresolved: %w", err)
	}
	return n, nil
}

// SessionActiveForFindings reports whether findings from an async
// detection pass may still be applied to the session. Terminal sessions
// drop late results.
func (db *DB) SessionActiveForFindings(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var status model.SessionStatus
	err := db.pool.QueryRow(ctx,
		`SELECT status FROM sessions WHERE id = $1`, sessionID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("storage: session status: %w", err)
	}
	return !status.Terminal(), nil
}
