package resume

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/checklist"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/scoring"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	return NewBuilder(nil, checklist.Default(), scoring.DefaultConfig(), heuristicCounter{}, DefaultBudget())
}

func allComplete(cl *checklist.Checklist, now time.Time) []model.Topic {
	topics := make([]model.Topic, 0, len(cl.Topics))
	for _, spec := range cl.Topics {
		topics = append(topics, model.Topic{
			Name:       spec.Name,
			Status:     model.TopicComplete,
			Confidence: 95,
			UpdatedAt:  now,
		})
	}
	return topics
}

func TestOrderTopicsChecklistOrder(t *testing.T) {
	b := testBuilder(t)
	topics := []model.Topic{
		{Name: "security_model"},
		{Name: "custom_compliance"}, // not on the checklist
		{Name: "business_requirements"},
		{Name: "api_design"},
	}

	b.orderTopics(topics)

	got := make([]string, len(topics))
	for i, tp := range topics {
		got[i] = tp.Name
	}
	assert.Equal(t, []string{"business_requirements", "api_design", "security_model", "custom_compliance"}, got)
}

func TestNextActionPriorityChain(t *testing.T) {
	b := testBuilder(t)
	now := time.Now()

	t.Run("unanswered assistant question wins", func(t *testing.T) {
		topics := allComplete(b.checklist, now)
		recent := []model.ConversationTurn{
			{Role: model.RoleAssistant, Content: "What data volumes do you expect?", CreatedAt: now},
		}
		got := b.nextAction(model.Session{}, topics, recent)
		assert.Equal(t, ActionRepeatLastQuestion, got)
	})

	t.Run("assistant statement is not a question", func(t *testing.T) {
		topics := allComplete(b.checklist, now)
		recent := []model.ConversationTurn{
			{Role: model.RoleAssistant, Content: "Understood, moving on.", CreatedAt: now},
		}
		got := b.nextAction(model.Session{}, topics, recent)
		assert.Equal(t, ActionReadyForGeneration, got)
	})

	t.Run("unscored user answer", func(t *testing.T) {
		topics := allComplete(b.checklist, now)
		// Topic row predates the turn: the rescore never landed.
		topics[0].UpdatedAt = now.Add(-time.Minute)
		recent := []model.ConversationTurn{
			{Role: model.RoleUser, Content: "Around ten thousand users.", Topic: topics[0].Name, CreatedAt: now},
		}
		got := b.nextAction(model.Session{}, topics, recent)
		assert.Equal(t, ActionRespondToLastAnswer, got)
	})

	t.Run("scored user answer does not fire", func(t *testing.T) {
		topics := allComplete(b.checklist, now)
		recent := []model.ConversationTurn{
			{Role: model.RoleUser, Content: "Around ten thousand users.", Topic: topics[0].Name, CreatedAt: now.Add(-time.Minute)},
		}
		got := b.nextAction(model.Session{}, topics, recent)
		assert.Equal(t, ActionReadyForGeneration, got)
	})

	t.Run("current topic below threshold", func(t *testing.T) {
		topics := allComplete(b.checklist, now)
		topics[2].Status = model.TopicPartial
		topics[2].Confidence = 70
		sess := model.Session{LastTopic: topics[2].Name}
		got := b.nextAction(sess, topics, nil)
		assert.Equal(t, ActionContinueTopic, got)
	})

	t.Run("not-applicable current topic is skipped", func(t *testing.T) {
		topics := allComplete(b.checklist, now)
		topics[2].Status = model.TopicNotApplicable
		topics[2].Confidence = 0
		sess := model.Session{LastTopic: topics[2].Name}
		got := b.nextAction(sess, topics, nil)
		assert.Equal(t, ActionReadyForGeneration, got)
	})

	t.Run("never-started topic means start next", func(t *testing.T) {
		topics := allComplete(b.checklist, now)
		// Drop one topic entirely so the checklist walk finds a gap.
		topics = append(topics[:1], topics[2:]...)
		got := b.nextAction(model.Session{}, topics, nil)
		assert.Equal(t, ActionStartNextTopic, got)
	})

	t.Run("incomplete later topic means start next", func(t *testing.T) {
		topics := allComplete(b.checklist, now)
		last := len(topics) - 1
		topics[last].Status = model.TopicIncomplete
		topics[last].Confidence = 20
		got := b.nextAction(model.Session{}, topics, nil)
		assert.Equal(t, ActionStartNextTopic, got)
	})

	t.Run("everything clear means ready", func(t *testing.T) {
		topics := allComplete(b.checklist, now)
		got := b.nextAction(model.Session{}, topics, nil)
		assert.Equal(t, ActionReadyForGeneration, got)
	})
}

func TestQuickRecap(t *testing.T) {
	b := testBuilder(t)
	now := time.Now()

	topics := allComplete(b.checklist, now)
	topics[1].Status = model.TopicPartial
	topics[2].Status = model.TopicNotApplicable

	sess := model.Session{Readiness: 82, LastTopic: "database_architecture"}
	got := b.quickRecap(sess, topics)

	done := len(topics) - 2 // one not applicable, one partial
	assert.Contains(t, got, fmt.Sprintf("%d of %d topics complete", done, len(topics)-1))
	assert.Contains(t, got, "82%")
	assert.Contains(t, got, "We were discussing database architecture.")
}

func TestDetailedRecap(t *testing.T) {
	b := testBuilder(t)
	now := time.Now()

	topics := allComplete(b.checklist, now)
	topics[0].Status = model.TopicPartial
	topics[0].Confidence = 75
	topics[0].MissingItems = []string{"success metrics"}
	topics[1].Status = model.TopicNotApplicable

	recent := []model.ConversationTurn{
		{Role: model.RoleAssistant, Content: "Who are the primary users?"},
		{Role: model.RoleUser, Content: "Field technicians, mostly on mobile."},
	}
	got := b.detailedRecap(model.Session{Readiness: 64}, topics, recent)

	assert.Contains(t, got, "readiness 64%")
	assert.Contains(t, got, "still needed: success metrics")
	assert.Contains(t, got, "not applicable")
	assert.Contains(t, got, "Last exchange:")
	assert.Contains(t, got, "Field technicians, mostly on mobile.")
}

func TestDetailedRecapBoundsTurnsSeparately(t *testing.T) {
	b := testBuilder(t)
	b.budget = Budget{Total: 200, SummariesShare: 0.40, TurnsShare: 0.30}

	topics := allComplete(b.checklist, time.Now())
	recent := []model.ConversationTurn{
		{Role: model.RoleAssistant, Content: "Who are the primary users?"},
		{Role: model.RoleUser, Content: strings.Repeat("long answer ", 200)},
	}
	got := b.detailedRecap(model.Session{Readiness: 90}, topics, recent)

	idx := strings.Index(got, "Last exchange:")
	require.GreaterOrEqual(t, idx, 0)
	summary, turns := got[:idx], got[idx:]

	// Each section spends its own share: the oversized turn is dropped
	// without eating into the topic summary, and vice versa.
	assert.LessOrEqual(t, b.counter.Count(turns), b.budget.TurnTokens())
	assert.Contains(t, turns, "Who are the primary users?")
	assert.NotContains(t, turns, "long answer")
	assert.LessOrEqual(t, b.counter.Count(summary), b.budget.SummaryTokens()+1)
	assert.Contains(t, summary, "Topic status:")
}

func TestRecapNone(t *testing.T) {
	b := testBuilder(t)
	assert.Empty(t, b.recap(RecapNone, model.Session{}, nil, nil))
}

func TestTrimDropsTrailingLines(t *testing.T) {
	b := testBuilder(t)
	b.budget = Budget{Total: 100, SummariesShare: 0.40} // 40 tokens, ~160 chars

	lines := []string{
		"Resuming your session (readiness 50%).",
		strings.Repeat("a", 100),
		strings.Repeat("b", 100),
		strings.Repeat("c", 100),
	}
	got := b.trim(strings.Join(lines, "\n"), b.budget.SummaryTokens())

	require.LessOrEqual(t, b.counter.Count(got), b.budget.SummaryTokens())
	assert.True(t, strings.HasPrefix(got, lines[0]))
	assert.NotContains(t, got, "ccc")
}

func TestTrimSingleOversizedLine(t *testing.T) {
	b := testBuilder(t)
	b.budget = Budget{Total: 40, SummariesShare: 0.50} // 20 tokens, ~80 chars

	got := b.trim(strings.Repeat("x", 500), b.budget.SummaryTokens())
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, b.counter.Count(got), b.budget.SummaryTokens())
}

func TestTrimShortTextUntouched(t *testing.T) {
	b := testBuilder(t)
	text := "Resuming: 2 of 8 topics complete, overall readiness 31%."
	assert.Equal(t, text, b.trim(text, b.budget.SummaryTokens()))
}

func TestValidRecapPreference(t *testing.T) {
	assert.True(t, ValidRecapPreference(RecapDetailed))
	assert.True(t, ValidRecapPreference(RecapQuick))
	assert.True(t, ValidRecapPreference(RecapNone))
	assert.False(t, ValidRecapPreference("verbose"))
	assert.False(t, ValidRecapPreference(""))
}
