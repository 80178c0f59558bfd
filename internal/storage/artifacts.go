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

// CreateArtifact stores an artifact description. Large artifacts arrive
// pre-chunked from the memory service: the first element is the parent
// row, the rest reference it via parent_id and chunk_index.
func (db *DB) CreateArtifact(ctx context.Context, chunks []model.Artifact) ([]model.Artifact, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("storage: create artifact: no chunks")
	}
	err := db.withRetry(ctx, func(ctx context.Context) error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := sessionWritable(ctx, tx, chunks[0].SessionID); err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := range chunks {
			chunks[i].CreatedAt = now
			if _, err := tx.Exec(ctx,
				`INSERT INTO artifacts (id, session_id, topic, kind, name, content, parent_id, chunk_index, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				chunks[i].ID, chunks[i].SessionID, chunks[i].Topic, chunks[i].Kind, chunks[i].Name,
				chunks[i].Content, chunks[i].ParentID, chunks[i].ChunkIndex, now,
			); err != nil {
				return fmt.Errorf("storage: insert artifact chunk %d: %w", i, err)
			}
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// GetArtifact retrieves an artifact row by id.
func (db *DB) GetArtifact(ctx context.Context, id uuid.UUID) (model.Artifact, error) {
	a, err := scanArtifact(db.pool.QueryRow(ctx, artifactSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Artifact{}, ErrNotFound
		}
		return model.Artifact{}, fmt.Errorf("storage: get artifact: %w", err)
	}
	return a, nil
}

// ListArtifacts returns a session's parent artifacts (chunks excluded),
// newest first.
func (db *DB) ListArtifacts(ctx context.Context, sessionID uuid.UUID) ([]model.Artifact, error) {
	rows, err := db.pool.Query(ctx,
		artifactSelect+` WHERE session_id = $1 AND parent_id IS NULL ORDER BY created_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list artifacts: %w", err)
	}
	return collectArtifacts(rows)
}

// ArtifactChunks returns the chunk rows of a parent artifact in order.
func (db *DB) ArtifactChunks(ctx context.Context, parentID uuid.UUID) ([]model.Artifact, error) {
	rows, err := db.pool.Query(ctx,
		artifactSelect+` WHERE parent_id = $1 ORDER BY chunk_index ASC`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: artifact chunks: %w", err)
	}
	return collectArtifacts(rows)
}

const artifactSelect = `SELECT id, session_id, topic, kind, name, content, parent_id, chunk_index, embedded_at, created_at
	FROM artifacts`

func scanArtifact(row rowScanner) (model.Artifact, error) {
	var a model.Artifact
	if err := row.Scan(&a.ID, &a.SessionID, &a.Topic, &a.Kind, &a.Name, &a.Content,
		&a.ParentID, &a.ChunkIndex, &a.EmbeddedAt, &a.CreatedAt); err != nil {
		return model.Artifact{}, err
	}
	return a, nil
}

func collectArtifacts(rows pgx.Rows) ([]model.Artifact, error) {
	defer rows.Close()
	var artifacts []model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
