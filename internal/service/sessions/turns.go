package sessions

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/scoring"
)

// AppendTurn runs the full per-turn pipeline: durable write, topic
// bookkeeping, synchronous rescore, readiness refresh, and an async
// contradiction pass for user turns. The returned topic reflects the
// rescored state the caller can act on immediately.
func (m *Manager) AppendTurn(ctx context.Context, sessionID uuid.UUID, req model.AppendTurnRequest) (model.ConversationTurn, model.Topic, error) {
	release := m.locks.acquire(sessionID)
	defer release()

	topicName, err := m.resolveTopic(ctx, sessionID, req.Topic)
	if err != nil {
		return model.ConversationTurn{}, model.Topic{}, err
	}

	mode := req.Mode
	if mode == "" {
		mode = model.ModeText
	}
	turn, err := m.mem.AppendTurn(ctx, sessionID, req.Role, req.Content, topicName, mode, req.Metadata)
	if err != nil {
		return model.ConversationTurn{}, model.Topic{}, err
	}

	topic, err := m.db.UpsertTopic(ctx, sessionID, topicName)
	if err != nil {
		return model.ConversationTurn{}, model.Topic{}, err
	}
	m.applyBookkeeping(&topic, turn)

	topic, err = m.rescoreLocked(ctx, topic)
	if err != nil {
		return model.ConversationTurn{}, model.Topic{}, err
	}
	if err := m.refreshReadiness(ctx, sessionID); err != nil {
		return model.ConversationTurn{}, model.Topic{}, err
	}

	if turn.Role == model.RoleUser {
		m.detectAsync(sessionID, topicName)
	}
	return turn, topic, nil
}

// resolveTopic picks the effective topic for an untagged turn: the
// session's last topic, falling back to the first checklist entry.
func (m *Manager) resolveTopic(ctx context.Context, sessionID uuid.UUID, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	sess, err := m.db.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.LastTopic != "" {
		return sess.LastTopic, nil
	}
	return m.checklist.Topics[0].Name, nil
}

// applyBookkeeping updates the question counters and subtopic coverage
// a turn contributes before the scorer runs. A user turn counts as an
// answer only while a question is outstanding, keeping
// questions_answered bounded by questions_asked; volunteered content
// still covers subtopics.
func (m *Manager) applyBookkeeping(topic *model.Topic, turn model.ConversationTurn) {
	switch turn.Role {
	case model.RoleAssistant:
		if strings.Contains(turn.Content, "?") {
			topic.QuestionsAsked++
			topic.LastQuestion = turn.Content
		}
	case model.RoleUser:
		if !scoring.IsNonAnswer(turn.Content) {
			if topic.QuestionsAnswered < topic.QuestionsAsked {
				topic.QuestionsAnswered++
			}
			m.coverSubtopics(topic, turn.Content)
		}
	}
}

// coverSubtopics marks required subtopics whose keywords appear in the
// answer. Matching is keyword-based: a subtopic like "success_metrics"
// counts as covered when any of its words of four or more letters
// appears in the content.
func (m *Manager) coverSubtopics(topic *model.Topic, content string) {
	spec, ok := m.checklist.Spec(topic.Name)
	if !ok {
		return
	}
	covered := make(map[string]bool, len(topic.CoveredSubtopics))
	for _, s := range topic.CoveredSubtopics {
		covered[s] = true
	}
	lower := strings.ToLower(content)
	for _, sub := range spec.RequiredSubtopics {
		if covered[sub] {
			continue
		}
		for _, word := range strings.Split(sub, "_") {
			if len(word) >= 4 && strings.Contains(lower, word) {
				topic.CoveredSubtopics = append(topic.CoveredSubtopics, sub)
				break
			}
		}
	}
}

// rescoreTopic reloads a topic and rescores it. Caller must hold the
// session lock.
func (m *Manager) rescoreTopic(ctx context.Context, sessionID uuid.UUID, topicName string) (model.Topic, error) {
	topic, err := m.db.GetTopic(ctx, sessionID, topicName)
	if err != nil {
		return model.Topic{}, err
	}
	topic, err = m.rescoreLocked(ctx, topic)
	if err != nil {
		return model.Topic{}, err
	}
	return topic, m.refreshReadiness(ctx, sessionID)
}

// rescoreLocked assembles scorer input for a topic, scores it, and
// persists the result. Caller must hold the session lock.
func (m *Manager) rescoreLocked(ctx context.Context, topic model.Topic) (model.Topic, error) {
	turns, err := m.db.TurnsByTopic(ctx, topic.SessionID, topic.Name)
	if err != nil {
		return model.Topic{}, err
	}
	decisions, err := m.db.DecisionsByTopic(ctx, topic.SessionID, topic.Name, false)
	if err != nil {
		return model.Topic{}, err
	}
	unresolved, err := m.db.CountUnresolved(ctx, topic.SessionID, topic.Name)
	if err != nil {
		return model.Topic{}, err
	}

	spec, _ := m.checklist.Spec(topic.Name)
	in := scoring.Input{
		NotApplicable:            topic.Status == model.TopicNotApplicable,
		RequiredQuestions:        len(spec.RequiredQuestions),
		QuestionsAnswered:        topic.QuestionsAnswered,
		RequiredSubtopics:        len(spec.RequiredSubtopics),
		CoveredSubtopics:         len(topic.CoveredSubtopics),
		AnswerLengths:            scoring.AnswerLengths(turns),
		TotalStatements:          scoring.CountStatements(turns, decisions),
		UnresolvedContradictions: unresolved,
	}
	r := scoring.Score(m.scoreCfg, in)

	topic.Confidence = float64(r.Confidence)
	topic.Completion = r.Completeness
	topic.Status = r.Status
	topic.MissingItems = r.MissingItems
	if err := m.db.UpdateTopicScore(ctx, topic); err != nil {
		return model.Topic{}, err
	}
	return topic, nil
}

// NextTopic picks the topic the conversation should move to: the first
// checklist entry, in order, that is neither complete nor marked not
// applicable. The second return is false when every topic is done.
func (m *Manager) NextTopic(topics []model.Topic) (string, bool) {
	byName := make(map[string]model.Topic, len(topics))
	for _, t := range topics {
		byName[t.Name] = t
	}
	for _, spec := range m.checklist.Topics {
		t, ok := byName[spec.Name]
		if !ok {
			return spec.Name, true
		}
		if t.Status != model.TopicComplete && t.Status != model.TopicNotApplicable {
			return spec.Name, true
		}
	}
	return "", false
}
