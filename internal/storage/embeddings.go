package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EmbedKind names the table an outbox job's row lives in.
type EmbedKind string

const (
	EmbedTurn     EmbedKind = "turn"
	EmbedDecision EmbedKind = "decision"
	EmbedArtifact EmbedKind = "artifact"
)

// EmbedJob is one pending embedding computation.
type EmbedJob struct {
	ID        uuid.UUID
	Kind      EmbedKind
	TargetID  uuid.UUID
	SessionID uuid.UUID
	Content   string
	Attempts  int
	CreatedAt time.Time
}

// maxEmbedAttempts caps retries before a job is abandoned.
const maxEmbedAttempts = 5

// EnqueueEmbed records that a row needs an embedding. It runs on the
// pool outside the row's own transaction: callers enqueue after commit,
// and the upsert makes a re-enqueue of the same target harmless.
func (db *DB) EnqueueEmbed(ctx context.Context, kind EmbedKind, targetID, sessionID uuid.UUID, content string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO embed_outbox (id, kind, target_id, session_id, content, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6)
		 ON CONFLICT (kind, target_id) DO UPDATE SET content = EXCLUDED.content, attempts = 0`,
		uuid.New(), kind, targetID, sessionID, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: enqueue embed: %w", err)
	}
	return nil
}

// ClaimEmbedJobs pulls up to limit pending jobs, skipping rows another
// worker holds. Claimed jobs are deleted inside the transaction; a
// failed transaction returns them to the queue.
func (db *DB) ClaimEmbedJobs(ctx context.Context, limit int, handle func(context.Context, []EmbedJob) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, kind, target_id, session_id, content, attempts, created_at
		 FROM embed_outbox
		 WHERE attempts < $1
		 ORDER BY created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		maxEmbedAttempts, limit,
	)
	if err != nil {
		return fmt.Errorf("storage: claim embed jobs: %w", err)
	}
	var jobs []EmbedJob
	for rows.Next() {
		var j EmbedJob
		if err := rows.Scan(&j.ID, &j.Kind, &j.TargetID, &j.SessionID, &j.Content, &j.Attempts, &j.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("storage: scan embed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: claim embed jobs: %w", err)
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	if err := handle(ctx, jobs); err != nil {
		// Keep the jobs, bump attempts so poison rows age out.
		for _, j := range jobs {
			if _, uerr := tx.Exec(ctx,
				`UPDATE embed_outbox SET attempts = attempts + 1 WHERE id = $1`, j.ID,
			); uerr != nil {
				return fmt.Errorf("storage: bump embed attempts: %w", uerr)
			}
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			return fmt.Errorf("storage: commit embed attempts: %w", cerr)
		}
		return err
	}

	for _, j := range jobs {
		if _, err := tx.Exec(ctx, `DELETE FROM embed_outbox WHERE id = $1`, j.ID); err != nil {
			return fmt.Errorf("storage: delete embed job: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// PendingEmbeds reports outbox depth, for health reporting.
func (db *DB) PendingEmbeds(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM embed_outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: pending embeds: %w", err)
	}
	return n, nil
}

// SetEmbedding writes a computed vector onto its row. The write is
// guarded so a vector computed against stale content never overwrites a
// newer one: it only lands while the column is still empty.
func (db *DB) SetEmbedding(ctx context.Context, kind EmbedKind, targetID uuid.UUID, vec pgvector.Vector) error {
	table, ok := embedTables[kind]
	if !ok {
		return fmt.Errorf("storage: unknown embed kind %q", kind)
	}
	_, err := db.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET embedding = $1, embedded_at = $2 WHERE id = $3 AND embedding IS NULL`, table),
		vec, time.Now().UTC(), targetID,
	)
	if err != nil {
		return fmt.Errorf("storage: set %s embedding: %w", kind, err)
	}
	return nil
}

var embedTables = map[EmbedKind]string{
	EmbedTurn:     "conversation_turns",
	EmbedDecision: "decisions",
	EmbedArtifact: "artifacts",
}

// SearchFilter narrows a semantic search before the vector comparison
// runs. Zero values mean no constraint.
type SearchFilter struct {
	SessionID uuid.UUID
	Topic     string
	Limit     int
	Threshold float64
}

// SearchHit is one semantic search result.
type SearchHit struct {
	Kind       EmbedKind
	ID         uuid.UUID
	SessionID  uuid.UUID
	Topic      string
	Content    string
	Similarity float64
	CreatedAt  time.Time
}

// SearchTurns ranks conversation turns by cosine similarity against the
// query vector. Metadata filters apply before the distance scan.
func (db *DB) SearchTurns(ctx context.Context, query pgvector.Vector, f SearchFilter) ([]SearchHit, error) {
	q := `SELECT id, session_id, topic, content, 1 - (embedding <=> $1) AS similarity, created_at
		FROM conversation_turns WHERE embedding IS NOT NULL`
	args := []any{query}
	q, args = applyFilter(q, args, f)
	return db.searchRows(ctx, EmbedTurn, q, args, f)
}

// SearchDecisions ranks decisions by cosine similarity, excluding
// superseded ones.
func (db *DB) SearchDecisions(ctx context.Context, query pgvector.Vector, f SearchFilter) ([]SearchHit, error) {
	q := `SELECT id, session_id, topic, decision, 1 - (embedding <=> $1) AS similarity, created_at
		FROM decisions WHERE embedding IS NOT NULL AND status <> 'superseded'`
	args := []any{query}
	q, args = applyFilter(q, args, f)
	return db.searchRows(ctx, EmbedDecision, q, args, f)
}

// SearchProjectDecisions ranks decisions across every session of a
// project. This is the Postgres fallback for cross-session recall when
// the external index is unavailable.
func (db *DB) SearchProjectDecisions(ctx context.Context, query pgvector.Vector, projectID uuid.UUID, f SearchFilter) ([]SearchHit, error) {
	q := `SELECT d.id, d.session_id, d.topic, d.decision, 1 - (d.embedding <=> $1) AS similarity, d.created_at
		FROM decisions d
		JOIN sessions s ON s.id = d.session_id
		WHERE d.embedding IS NOT NULL AND d.status <> 'superseded' AND s.project_id = $2`
	args := []any{query, projectID}
	if f.SessionID != uuid.Nil {
		args = append(args, f.SessionID)
		q += fmt.Sprintf(` AND d.session_id = $%d`, len(args))
	}
	if f.Topic != "" {
		args = append(args, f.Topic)
		q += fmt.Sprintf(` AND d.topic = $%d`, len(args))
	}
	if f.Threshold > 0 {
		args = append(args, f.Threshold)
		q += fmt.Sprintf(` AND 1 - (d.embedding <=> $1) >= $%d`, len(args))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY d.embedding <=> $1 ASC LIMIT $%d`, len(args))
	return db.searchRows(ctx, EmbedDecision, q, args, f)
}

// SearchArtifacts ranks artifact chunks by cosine similarity,
// collapsed to one hit per artifact: the best-matching chunk stands in
// for its parent.
func (db *DB) SearchArtifacts(ctx context.Context, query pgvector.Vector, f SearchFilter) ([]SearchHit, error) {
	inner := `SELECT DISTINCT ON (COALESCE(parent_id, id))
			COALESCE(parent_id, id) AS id, session_id, topic, content,
			1 - (embedding <=> $1) AS similarity, created_at
		FROM artifacts WHERE embedding IS NOT NULL`
	args := []any{query}
	if f.SessionID != uuid.Nil {
		args = append(args, f.SessionID)
		inner += fmt.Sprintf(` AND session_id = $%d`, len(args))
	}
	if f.Topic != "" {
		args = append(args, f.Topic)
		inner += fmt.Sprintf(` AND topic = $%d`, len(args))
	}
	if f.Threshold > 0 {
		args = append(args, f.Threshold)
		inner += fmt.Sprintf(` AND 1 - (embedding <=> $1) >= $%d`, len(args))
	}
	inner += ` ORDER BY COALESCE(parent_id, id), embedding <=> $1 ASC`

	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)
	q := fmt.Sprintf(`SELECT id, session_id, topic, content, similarity, created_at FROM (%s) best ORDER BY similarity DESC LIMIT $%d`, inner, len(args))
	return db.searchRows(ctx, EmbedArtifact, q, args, f)
}

func applyFilter(q string, args []any, f SearchFilter) (string, []any) {
	if f.SessionID != uuid.Nil {
		args = append(args, f.SessionID)
		q += fmt.Sprintf(` AND session_id = $%d`, len(args))
	}
	if f.Topic != "" {
		args = append(args, f.Topic)
		q += fmt.Sprintf(` AND topic = $%d`, len(args))
	}
	if f.Threshold > 0 {
		args = append(args, f.Threshold)
		q += fmt.Sprintf(` AND 1 - (embedding <=> $1) >= $%d`, len(args))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY embedding <=> $1 ASC LIMIT $%d`, len(args))
	return q, args
}

func (db *DB) searchRows(ctx context.Context, kind EmbedKind, q string, args []any, _ SearchFilter) ([]SearchHit, error) {
	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search %s: %w", kind, err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		h := SearchHit{Kind: kind}
		if err := rows.Scan(&h.ID, &h.SessionID, &h.Topic, &h.Content, &h.Similarity, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
