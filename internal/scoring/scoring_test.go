package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/checklist"
	"github.com/kioku-ai/kioku/internal/model"
)

func TestScoreScenarios(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name             string
		in               Input
		wantCompleteness float64
		wantSpecificity  float64
		wantConsistency  float64
		wantCoverage     float64
		wantStatus       model.TopicStatus
	}{
		{
			// 5 required questions, 4 answered, short answers, 1/5 subtopics.
			name: "early topic",
			in: Input{
				RequiredQuestions: 5,
				QuestionsAnswered: 4,
				RequiredSubtopics: 5,
				CoveredSubtopics:  1,
				AnswerLengths:     []int{45, 45, 45, 45},
				TotalStatements:   2,
			},
			wantCompleteness: 80,
			wantSpecificity:  22.5,
			wantConsistency:  100, // fewer than 3 statements: not judged
			wantCoverage:     20,
			wantStatus:       model.TopicIncomplete,
		},
		{
			name: "fully elicited topic",
			in: Input{
				RequiredQuestions: 8,
				QuestionsAnswered: 8,
				RequiredSubtopics: 6,
				CoveredSubtopics:  6,
				AnswerLengths:     []int{220, 220, 220, 220, 220, 220, 220, 220},
				TotalStatements:   15,
			},
			wantCompleteness: 100,
			wantSpecificity:  100,
			wantConsistency:  100,
			wantCoverage:     100,
			wantStatus:       model.TopicComplete,
		},
		{
			// Complete on every axis except two unresolved contradictions.
			name: "contradicted topic",
			in: Input{
				RequiredQuestions:        5,
				QuestionsAnswered:        5,
				RequiredSubtopics:        5,
				CoveredSubtopics:         5,
				AnswerLengths:            []int{200, 200, 200, 200, 200},
				TotalStatements:          10,
				UnresolvedContradictions: 2,
			},
			wantCompleteness: 100,
			wantSpecificity:  100,
			wantConsistency:  80,
			wantCoverage:     100,
			wantStatus:       model.TopicComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Score(cfg, tt.in)
			assert.InDelta(t, tt.wantCompleteness, r.Completeness, 0.001)
			assert.InDelta(t, tt.wantSpecificity, r.Specificity, 0.001)
			assert.InDelta(t, tt.wantConsistency, r.Consistency, 0.001)
			assert.InDelta(t, tt.wantCoverage, r.Coverage, 0.001)
			assert.Equal(t, tt.wantStatus, r.Status)

			// Confidence is a pure function of the four sub-scores.
			want := int(0.4*tt.wantCompleteness + 0.2*tt.wantSpecificity + 0.2*tt.wantConsistency + 0.2*tt.wantCoverage + 0.5)
			assert.Equal(t, want, r.Confidence)
			assert.GreaterOrEqual(t, r.Confidence, 0)
			assert.LessOrEqual(t, r.Confidence, 100)
		})
	}
}

func TestScoreContradictedTopicValue(t *testing.T) {
	// Scenario: everything perfect except 2 unresolved contradictions out
	// of 10 statements. consistency=80 drags confidence to 96; the topic
	// still reads complete but the gap is flagged.
	r := Score(DefaultConfig(), Input{
		RequiredQuestions:        5,
		QuestionsAnswered:        5,
		RequiredSubtopics:        5,
		CoveredSubtopics:         5,
		AnswerLengths:            []int{200, 200, 200, 200, 200},
		TotalStatements:          10,
		UnresolvedContradictions: 2,
	})
	assert.Equal(t, 96, r.Confidence)
	assert.Equal(t, model.TopicComplete, r.Status)
	assert.Contains(t, r.MissingItems, "2 unresolved contradictions")
}

func TestScoreNotApplicable(t *testing.T) {
	// A not-applicable topic scores completeness 100 by definition and
	// produces no missing items.
	r := Score(DefaultConfig(), Input{
		NotApplicable:     true,
		RequiredQuestions: 5,
		RequiredSubtopics: 5,
	})
	assert.InDelta(t, 100.0, r.Completeness, 0.001)
	assert.Equal(t, model.TopicNotApplicable, r.Status)
	assert.Empty(t, r.MissingItems)
}

func TestScoreIdempotent(t *testing.T) {
	in := Input{
		RequiredQuestions:        5,
		QuestionsAnswered:        3,
		RequiredSubtopics:        4,
		CoveredSubtopics:         2,
		AnswerLengths:            []int{80, 120, 60},
		TotalStatements:          5,
		UnresolvedContradictions: 1,
	}
	cfg := DefaultConfig()
	first := Score(cfg, in)
	second := Score(cfg, in)
	assert.Equal(t, first, second)
}

func TestCompletenessMonotonic(t *testing.T) {
	// Answering one more question, with no new contradiction, never
	// decreases completeness.
	cfg := DefaultConfig()
	in := Input{RequiredQuestions: 6, RequiredSubtopics: 3}
	prev := Score(cfg, in)
	for answered := 1; answered <= 6; answered++ {
		in.QuestionsAnswered = answered
		in.AnswerLengths = append(in.AnswerLengths, 100)
		cur := Score(cfg, in)
		assert.GreaterOrEqual(t, cur.Completeness, prev.Completeness)
		prev = cur
	}
}

func TestConsistencyMonotonicOnResolve(t *testing.T) {
	// Resolving a contradiction never decreases consistency.
	cfg := DefaultConfig()
	in := Input{
		RequiredQuestions:        3,
		QuestionsAnswered:        3,
		AnswerLengths:            []int{150, 150, 150},
		TotalStatements:          8,
		UnresolvedContradictions: 3,
	}
	prev := Score(cfg, in)
	for in.UnresolvedContradictions > 0 {
		in.UnresolvedContradictions--
		cur := Score(cfg, in)
		assert.GreaterOrEqual(t, cur.Consistency, prev.Consistency)
		prev = cur
	}
	assert.InDelta(t, 100.0, prev.Consistency, 0.001)
}

func TestMissingItemsDescribeEveryGap(t *testing.T) {
	r := Score(DefaultConfig(), Input{
		RequiredQuestions:        5,
		QuestionsAnswered:        3,
		RequiredSubtopics:        4,
		CoveredSubtopics:         1,
		AnswerLengths:            []int{40},
		TotalStatements:          6,
		UnresolvedContradictions: 1,
	})
	require.Len(t, r.MissingItems, 4)
	assert.Contains(t, r.MissingItems, "2 required questions unanswered")
	assert.Contains(t, r.MissingItems, "answers need more detail")
	assert.Contains(t, r.MissingItems, "1 unresolved contradiction")
	assert.Contains(t, r.MissingItems, "3 required subtopics uncovered")
}

func TestIsNonAnswer(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"skip", true},
		{"I don't know yet", true},
		{"honestly, not sure about that", true},
		{"We need Postgres with read replicas in two regions.", false},
		{"", true},
		{"you decide", true},
		{"Stripe for payments, SendGrid for email.", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsNonAnswer(tt.content), "content=%q", tt.content)
	}
}

func TestAnswerLengthsFiltersNonAnswers(t *testing.T) {
	turns := []model.ConversationTurn{
		{Role: model.RoleAssistant, Content: "What database do you prefer?"},
		{Role: model.RoleUser, Content: "Postgres, with pgvector for embeddings."},
		{Role: model.RoleUser, Content: "skip"},
		{Role: model.RoleSystem, Content: "session resumed"},
		{Role: model.RoleUser, Content: "I don't know"},
	}
	lengths := AnswerLengths(turns)
	require.Len(t, lengths, 1)
	assert.Equal(t, len("Postgres, with pgvector for embeddings."), lengths[0])
}

func TestReadinessRenormalizesOverApplicableTopics(t *testing.T) {
	cl, err := checklist.New([]checklist.TopicSpec{
		{Name: "a", Weight: 0.5},
		{Name: "b", Weight: 0.3},
		{Name: "c", Weight: 0.2},
	})
	require.NoError(t, err)

	topics := []model.Topic{
		{Name: "a", Confidence: 90, Status: model.TopicComplete},
		{Name: "b", Confidence: 80, Status: model.TopicPartial},
		{Name: "c", Confidence: 0, Status: model.TopicNotApplicable},
	}

	// c is excluded and its weight removed from the denominator:
	// (0.5*90 + 0.3*80) / 0.8 = 86.25.
	got := Readiness(cl, topics)
	assert.InDelta(t, 86.25, got, 0.001)
}

func TestReadinessIgnoresUnknownTopics(t *testing.T) {
	cl, err := checklist.New([]checklist.TopicSpec{
		{Name: "a", Weight: 1.0},
	})
	require.NoError(t, err)

	topics := []model.Topic{
		{Name: "a", Confidence: 95},
		{Name: "off_checklist", Confidence: 10},
	}
	assert.InDelta(t, 95.0, Readiness(cl, topics), 0.001)
}

func TestReadinessNoApplicableTopics(t *testing.T) {
	cl, err := checklist.New([]checklist.TopicSpec{{Name: "a", Weight: 1.0}})
	require.NoError(t, err)
	assert.Zero(t, Readiness(cl, nil))
	assert.Zero(t, Readiness(cl, []model.Topic{{Name: "a", Status: model.TopicNotApplicable}}))
}

func TestReadyForGeneration(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, ReadyForGeneration(cfg, 89.9))
	assert.True(t, ReadyForGeneration(cfg, 90))
	assert.True(t, ReadyForGeneration(cfg, 95))
}
