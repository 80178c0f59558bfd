package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kioku-ai/kioku/internal/model"
)

// AppendTurn durably records a conversation turn. The turn number is
// assigned inside the transaction while the session row is locked, so
// concurrent appends to the same session serialize and numbers stay
// gapless and monotonic. The whole transaction retries on serialization
// failures.
func (db *DB) AppendTurn(ctx context.Context, sessionID uuid.UUID, role model.Role, content, topic string, mode model.InputMode, meta model.TurnMetadata) (model.ConversationTurn, error) {
	var turn model.ConversationTurn
	err := db.withRetry(ctx, func(ctx context.Context) error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := sessionWritable(ctx, tx, sessionID); err != nil {
			return err
		}

		var next int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(turn_number), 0) + 1 FROM conversation_turns WHERE session_id = $1`,
			sessionID,
		).Scan(&next); err != nil {
			return fmt.Errorf("storage: next turn number: %w", err)
		}

		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("storage: marshal turn metadata: %w", err)
		}

		now := time.Now().UTC()
		turn = model.ConversationTurn{
			ID:         uuid.New(),
			SessionID:  sessionID,
			TurnNumber: next,
			Role:       role,
			Content:    content,
			Topic:      topic,
			Mode:       mode,
			Metadata:   meta,
			CreatedAt:  now,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_turns (id, session_id, turn_number, role, content, topic, mode, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			turn.ID, sessionID, next, role, content, topic, mode, metaJSON, now,
		); err != nil {
			return fmt.Errorf("storage: insert turn: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE sessions SET turn_count = $1, last_topic = $2, last_turn_at = $3, updated_at = $3 WHERE id = $4`,
			next, topic, now, sessionID,
		); err != nil {
			return fmt.Errorf("storage: update session turn count: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return model.ConversationTurn{}, err
	}
	return turn, nil
}

// GetTurn retrieves one turn by id.
func (db *DB) GetTurn(ctx context.Context, id uuid.UUID) (model.ConversationTurn, error) {
	t, err := scanTurn(db.pool.QueryRow(ctx, turnSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConversationTurn{}, ErrNotFound
		}
		return model.ConversationTurn{}, fmt.Errorf("storage: get turn: %w", err)
	}
	return t, nil
}

// RecentTurns returns the newest turns for a session in chronological
// order, bounded by limit.
func (db *DB) RecentTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.ConversationTurn, error) {
	rows, err := db.pool.Query(ctx,
		turnSelect+` WHERE session_id = $1 ORDER BY turn_number DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent turns: %w", err)
	}
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// TurnsByTopic returns all turns tagged with a topic, oldest first.
func (db *DB) TurnsByTopic(ctx context.Context, sessionID uuid.UUID, topic string) ([]model.ConversationTurn, error) {
	rows, err := db.pool.Query(ctx,
		turnSelect+` WHERE session_id = $1 AND topic = $2 ORDER BY turn_number ASC`,
		sessionID, topic,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: turns by topic: %w", err)
	}
	return collectTurns(rows)
}

// LastQuestionTurn returns the most recent assistant turn for a
// session, or ErrNotFound when the assistant has not spoken yet.
func (db *DB) LastQuestionTurn(ctx context.Context, sessionID uuid.UUID) (model.ConversationTurn, error) {
	t, err := scanTurn(db.pool.QueryRow(ctx,
		turnSelect+` WHERE session_id = $1 AND role = $2 ORDER BY turn_number DESC LIMIT 1`,
		sessionID, model.RoleAssistant,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConversationTurn{}, ErrNotFound
		}
		return model.ConversationTurn{}, fmt.Errorf("storage: last question turn: %w", err)
	}
	return t, nil
}

const turnSelect = `SELECT id, session_id, turn_number, role, content, topic, mode, metadata, embedded_at, created_at
	FROM conversation_turns`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (model.ConversationTurn, error) {
	var t model.ConversationTurn
	var metaJSON []byte
	if err := row.Scan(&t.ID, &t.SessionID, &t.TurnNumber, &t.Role, &t.Content,
		&t.Topic, &t.Mode, &metaJSON, &t.EmbeddedAt, &t.CreatedAt); err != nil {
		return model.ConversationTurn{}, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &t.Metadata); err != nil {
			return model.ConversationTurn{}, fmt.Errorf("storage: unmarshal turn metadata: %w", err)
		}
	}
	return t, nil
}

func collectTurns(rows pgx.Rows) ([]model.ConversationTurn, error) {
	defer rows.Close()
	var turns []model.ConversationTurn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
