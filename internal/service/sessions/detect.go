package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kioku-ai/kioku/internal/contradiction"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/scoring"
)

// detectTimeout bounds one full async detection pass including the
// rescore that follows it.
const detectTimeout = 30 * time.Second

// decisionIndexBase offsets decision statement indexes so they never
// collide with turn numbers. A decision's index is its position in the
// topic's full creation-ordered decision list, superseded rows
// included, so the index identifies the same decision across detection
// passes even after a supersession.
const decisionIndexBase = 100000

// detectAsync launches a contradiction pass for a topic. It runs off
// the request path: the turn that triggered it has already committed
// and responded. Findings from a session that went terminal while the
// pass was in flight are dropped.
func (m *Manager) detectAsync(sessionID uuid.UUID, topic string) {
	m.detectWG.Add(1)
	go func() {
		defer m.detectWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), detectTimeout)
		defer cancel()
		m.runDetection(ctx, sessionID, topic)
	}()
}

func (m *Manager) runDetection(ctx context.Context, sessionID uuid.UUID, topic string) {
	statements, texts, err := m.collectStatements(ctx, sessionID, topic)
	if err != nil {
		m.logger.Error("detection: collect statements", "session_id", sessionID, "topic", topic, "error", err)
		return
	}
	if len(statements) < 2 {
		return
	}

	findings, err := m.detector.Detect(ctx, topic, statements)
	if err != nil {
		// SafeDetector absorbs errors; reaching here means the manager
		// was wired with a bare detector. Degrade the same way.
		m.logger.Warn("detection degraded to empty", "topic", topic, "error", err)
		return
	}
	if len(findings) == 0 {
		return
	}

	// Stale-result guard: the session may have completed or been
	// abandoned while the detector ran.
	active, err := m.db.SessionActiveForFindings(ctx, sessionID)
	if err != nil || !active {
		if err != nil {
			m.logger.Error("detection: session status check", "session_id", sessionID, "error", err)
		}
		return
	}

	rows := make([]model.Contradiction, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, model.Contradiction{
			SessionID:   sessionID,
			Topic:       topic,
			IndexA:      f.IndexA,
			IndexB:      f.IndexB,
			StatementA:  texts[f.IndexA],
			StatementB:  texts[f.IndexB],
			Explanation: f.Explanation,
		})
	}
	n, err := m.db.RecordContradictions(ctx, rows)
	if err != nil {
		m.logger.Error("detection: record findings", "session_id", sessionID, "topic", topic, "error", err)
		return
	}
	if n == 0 {
		return
	}
	m.logger.Info("contradictions detected", "session_id", sessionID, "topic", topic, "count", n)

	release := m.locks.acquire(sessionID)
	defer release()
	if _, err := m.rescoreTopic(ctx, sessionID, topic); err != nil {
		m.logger.Error("detection: rescore after findings", "session_id", sessionID, "topic", topic, "error", err)
	}
}

// collectStatements assembles detector input for a topic: genuine user
// answers indexed by turn number, then active decisions indexed by
// their creation-order position from decisionIndexBase.
func (m *Manager) collectStatements(ctx context.Context, sessionID uuid.UUID, topic string) ([]contradiction.Statement, map[int]string, error) {
	turns, err := m.db.TurnsByTopic(ctx, sessionID, topic)
	if err != nil {
		return nil, nil, err
	}
	// Enumerate superseded decisions too: a decision's index is its
	// creation-order position, which must not shift when an earlier
	// decision gets superseded. Superseded content is still skipped.
	decisions, err := m.db.DecisionsByTopic(ctx, sessionID, topic, true)
	if err != nil {
		return nil, nil, err
	}

	var statements []contradiction.Statement
	texts := make(map[int]string)
	for _, t := range turns {
		if t.Role != model.RoleUser || scoring.IsNonAnswer(t.Content) {
			continue
		}
		statements = append(statements, contradiction.Statement{Index: t.TurnNumber, Text: t.Content})
		texts[t.TurnNumber] = t.Content
	}
	for i, d := range decisions {
		if d.Status == model.DecisionSuperseded {
			continue
		}
		idx := decisionIndexBase + i
		statements = append(statements, contradiction.Statement{Index: idx, Text: d.Decision})
		texts[idx] = d.Decision
	}
	return statements, texts, nil
}
