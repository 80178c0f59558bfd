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

// UpsertTopic inserts a topic or returns the existing one for
// (session, name). Topics are unique per session and name.
func (db *DB) UpsertTopic(ctx context.Context, sessionID uuid.UUID, name string) (model.Topic, error) {
	now := time.Now().UTC()
	var t model.Topic
	err := db.pool.QueryRow(ctx,
		`INSERT INTO topics (id, session_id, name, status, confidence, completion,
		 questions_asked, questions_answered, covered_subtopics, missing_items, last_question, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, 0, 0, 0, '{}', '{}', '', $5, $5)
		 ON CONFLICT (session_id, name) DO UPDATE SET updated_at = topics.updated_at
		 RETURNING id, session_id, name, status, confidence, completion,
		 questions_asked, questions_answered, covered_subtopics, missing_items, last_question, created_at, updated_at`,
		uuid.New(), sessionID, name, model.TopicIncomplete, now,
	).Scan(&t.ID, &t.SessionID, &t.Name, &t.Status, &t.Confidence, &t.Completion,
		&t.QuestionsAsked, &t.QuestionsAnswered, &t.CoveredSubtopics, &t.MissingItems, &t.LastQuestion, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return model.Topic{}, fmt.Errorf("storage: upsert topic: %w", err)
	}
	return t, nil
}

// GetTopic retrieves one topic by session and name.
func (db *DB) GetTopic(ctx context.Context, sessionID uuid.UUID, name string) (model.Topic, error) {
	var t model.Topic
	err := db.pool.QueryRow(ctx,
		`SELECT id, session_id, name, status, confidence, completion,
		 questions_asked, questions_answered, covered_subtopics, missing_items, last_question, created_at, updated_at
		 FROM topics WHERE session_id = $1 AND name = $2`,
		sessionID, name,
	).Scan(&t.ID, &t.SessionID, &t.Name, &t.Status, &t.Confidence, &t.Completion,
		&t.QuestionsAsked, &t.QuestionsAnswered, &t.CoveredSubtopics, &t.MissingItems, &t.LastQuestion, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Topic{}, ErrNotFound
		}
		return model.Topic{}, fmt.Errorf("storage: get topic: %w", err)
	}
	return t, nil
}

// ListTopics returns all topics for a session in name order.
func (db *DB) ListTopics(ctx context.Context, sessionID uuid.UUID) ([]model.Topic, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, name, status, confidence, completion,
		 questions_asked, questions_answered, covered_subtopics, missing_items, last_question, created_at, updated_at
		 FROM topics WHERE session_id = $1 ORDER BY name ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list topics: %w", err)
	}
	defer rows.Close()

	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Name, &t.Status, &t.Confidence, &t.Completion,
			&t.QuestionsAsked, &t.QuestionsAnswered, &t.CoveredSubtopics, &t.MissingItems, &t.LastQuestion, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// UpdateTopicScore persists the scorer's output for a topic, plus the
// question bookkeeping the conversational layer maintains.
func (db *DB) UpdateTopicScore(ctx context.Context, t model.Topic) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE topics SET status = $1, confidence = $2, completion = $3,
		 questions_asked = $4, questions_answered = $5, covered_subtopics = $6,
		 missing_items = $7, last_question = $8, updated_at = $9
		 WHERE id = $10`,
		t.Status, t.Confidence, t.Completion,
		t.QuestionsAsked, t.QuestionsAnswered, t.CoveredSubtopics,
		t.MissingItems, t.LastQuestion, time.Now().UTC(), t.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update topic score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTopicNotApplicable excludes a topic from readiness weighting.
func (db *DB) MarkTopicNotApplicable(ctx context.Context, sessionID uuid.UUID, name string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE topics SET status = $1, updated_at = $2 WHERE session_id = $3 AND name = $4`,
		model.TopicNotApplicable, time.Now().UTC(), sessionID, name,
	)
	if err != nil {
		return fmt.Errorf("storage: mark topic not applicable: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
