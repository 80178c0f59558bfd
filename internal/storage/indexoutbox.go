package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/kioku-ai/kioku/internal/model"
)

// Index outbox operations.
const (
	IndexOpUpsert = "upsert"
	IndexOpDelete = "delete"
)

// IndexEntry is one pending row from the index_outbox table.
type IndexEntry struct {
	ID         int64
	DecisionID uuid.UUID
	SessionID  uuid.UUID
	Operation  string
	Attempts   int
}

// maxIndexAttempts caps retries before an entry goes dead-letter.
const maxIndexAttempts = 10

// EnqueueIndex records that a decision's search index entry is stale.
// One row per decision; a later enqueue overwrites the pending
// operation and resets the attempt counter.
func (db *DB) EnqueueIndex(ctx context.Context, decisionID, sessionID uuid.UUID, op string) error {
	_, err := db.pool.Exec(ctx, enqueueIndexSQL, decisionID, sessionID, op)
	if err != nil {
		return fmt.Errorf("storage: enqueue index: %w", err)
	}
	return nil
}

const enqueueIndexSQL = `INSERT INTO index_outbox (decision_id, session_id, operation)
	 VALUES ($1, $2, $3)
	 ON CONFLICT (decision_id) DO UPDATE
	 SET operation = EXCLUDED.operation, attempts = 0, last_error = NULL, locked_until = NULL, created_at = now()`

func enqueueIndexTx(ctx context.Context, tx pgx.Tx, decisionID, sessionID uuid.UUID, op string) error {
	if _, err := tx.Exec(ctx, enqueueIndexSQL, decisionID, sessionID, op); err != nil {
		return fmt.Errorf("storage: enqueue index: %w", err)
	}
	return nil
}

// ClaimIndexEntries selects and soft-locks a batch of pending index
// outbox entries. Entries stay in the table until the caller reports
// the outcome via FinishIndexEntries or FailIndexEntries; the lock
// keeps a second worker from claiming them in the meantime.
func (db *DB) ClaimIndexEntries(ctx context.Context, limit int, lockFor time.Duration) ([]IndexEntry, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, decision_id, session_id, operation, attempts
		 FROM index_outbox
		 WHERE (locked_until IS NULL OR locked_until < now())
		   AND attempts < $1
		 ORDER BY created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		maxIndexAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: claim index entries: %w", err)
	}

	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.ID, &e.DecisionID, &e.SessionID, &e.Operation, &e.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan index entry: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: claim index entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if _, err := tx.Exec(ctx,
		`UPDATE index_outbox SET locked_until = now() + $1::interval WHERE id = ANY($2)`,
		lockFor.String(), ids,
	); err != nil {
		return nil, fmt.Errorf("storage: lock index entries: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit claim: %w", err)
	}
	return entries, nil
}

// FinishIndexEntries removes successfully synced entries.
func (db *DB) FinishIndexEntries(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := db.pool.Exec(ctx, `DELETE FROM index_outbox WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("storage: finish index entries: %w", err)
	}
	return nil
}

// FailIndexEntries bumps the attempt counter with exponential backoff
// so a sync outage does not turn into a tight retry loop.
func (db *DB) FailIndexEntries(ctx context.Context, ids []int64, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := db.pool.Exec(ctx,
		`UPDATE index_outbox
		 SET attempts = attempts + 1,
		     last_error = $1,
		     locked_until = now() + LEAST(POWER(2, attempts + 1), 300) * interval '1 second'
		 WHERE id = ANY($2)`,
		errMsg, ids,
	); err != nil {
		return fmt.Errorf("storage: fail index entries: %w", err)
	}
	return nil
}

// CleanupIndexDeadLetters deletes entries that exhausted their retries
// more than a week ago.
func (db *DB) CleanupIndexDeadLetters(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM index_outbox
		 WHERE attempts >= $1
		   AND created_at < now() - interval '7 days'`,
		maxIndexAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup index dead-letters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingIndexEntries reports outbox depth for metrics.
func (db *DB) PendingIndexEntries(ctx context.Context) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM index_outbox WHERE attempts < $1`, maxIndexAttempts,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: pending index entries: %w", err)
	}
	return count, nil
}

// DecisionsForIndex loads embedded decisions for the search index,
// joined with the owning session's project. Decisions without an
// embedding yet are skipped; the outbox entry is retried after the
// embed worker catches up.
func (db *DB) DecisionsForIndex(ctx context.Context, ids []uuid.UUID) ([]model.DecisionForIndex, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT d.id, d.session_id, s.project_id, d.topic, d.status::text, d.confidence, d.embedding, d.created_at
		 FROM decisions d
		 JOIN sessions s ON s.id = d.session_id
		 WHERE d.id = ANY($1) AND d.embedding IS NOT NULL`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: decisions for index: %w", err)
	}
	defer rows.Close()

	var out []model.DecisionForIndex
	for rows.Next() {
		var d model.DecisionForIndex
		var emb pgvector.Vector
		if err := rows.Scan(&d.ID, &d.SessionID, &d.ProjectID, &d.Topic, &d.Status, &d.Confidence, &emb, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan decision for index: %w", err)
		}
		d.Embedding = emb.Slice()
		out = append(out, d)
	}
	return out, rows.Err()
}

// DecisionsByIDs hydrates full decisions from Postgres, the source of
// truth, after an external index lookup.
func (db *DB) DecisionsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Decision, error) {
	rows, err := db.pool.Query(ctx, decisionSelect+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: decisions by ids: %w", err)
	}
	decisions, err := collectDecisions(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]model.Decision, len(decisions))
	for _, d := range decisions {
		byID[d.ID] = d
	}
	return byID, nil
}
