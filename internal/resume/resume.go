// Package resume rebuilds just enough context to continue a paused
// conversation: a recap at the caller's preferred verbosity and a
// deterministic next-action decision. Only the last few turns load by
// default; older history stays behind semantic search.
package resume

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kioku-ai/kioku/internal/checklist"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/scoring"
	"github.com/kioku-ai/kioku/internal/storage"
)

// Next-action decisions, in priority order.
const (
	ActionRepeatLastQuestion  = "repeat_last_question"
	ActionRespondToLastAnswer = "respond_to_last_answer"
	ActionContinueTopic       = "continue_current_topic"
	ActionStartNextTopic      = "start_next_topic"
	ActionReadyForGeneration  = "ready_for_generation"
)

// RecapPreference selects recap verbosity. It changes only the text,
// never the next-action decision.
type RecapPreference string

const (
	RecapDetailed RecapPreference = "detailed"
	RecapQuick    RecapPreference = "quick"
	RecapNone     RecapPreference = "none"
)

// ValidRecapPreference reports whether p is a known preference.
func ValidRecapPreference(p RecapPreference) bool {
	switch p {
	case RecapDetailed, RecapQuick, RecapNone:
		return true
	}
	return false
}

// recentWindow is the number of turns loaded by default on resume.
const recentWindow = 3

// Builder assembles resume context.
type Builder struct {
	db        *storage.DB
	checklist *checklist.Checklist
	scoreCfg  scoring.Config
	counter   TokenCounter
	budget    Budget
}

// NewBuilder creates a resume context builder.
func NewBuilder(db *storage.DB, cl *checklist.Checklist, scoreCfg scoring.Config, counter TokenCounter, budget Budget) *Builder {
	return &Builder{db: db, checklist: cl, scoreCfg: scoreCfg, counter: counter, budget: budget}
}

// Build loads the session snapshot, decides the next action, and
// renders the recap at the requested verbosity within the token budget.
func (b *Builder) Build(ctx context.Context, sessionID uuid.UUID, pref RecapPreference) (model.ResumeResponse, error) {
	sess, err := b.db.GetSession(ctx, sessionID)
	if err != nil {
		return model.ResumeResponse{}, err
	}
	topics, err := b.db.ListTopics(ctx, sessionID)
	if err != nil {
		return model.ResumeResponse{}, err
	}
	b.orderTopics(topics)
	recent, err := b.db.RecentTurns(ctx, sessionID, recentWindow)
	if err != nil {
		return model.ResumeResponse{}, err
	}

	resp := model.ResumeResponse{
		NextAction:    b.nextAction(sess, topics, recent),
		TopicSnapshot: topics,
	}
	resp.RecapText = b.recap(pref, sess, topics, recent)
	return resp, nil
}

// orderTopics puts the snapshot in checklist order rather than DB
// return order, so the recap reads top to bottom the way the checklist
// does. Off-checklist topics sort last, keeping their relative order.
func (b *Builder) orderTopics(topics []model.Topic) {
	sort.SliceStable(topics, func(i, j int) bool {
		return b.checklist.Position(topics[i].Name) < b.checklist.Position(topics[j].Name)
	})
}

// nextAction walks the priority chain. Each rule is checked against the
// committed snapshot; seeing the same snapshot twice yields the same
// decision.
func (b *Builder) nextAction(sess model.Session, topics []model.Topic, recent []model.ConversationTurn) string {
	var last *model.ConversationTurn
	if len(recent) > 0 {
		last = &recent[len(recent)-1]
	}

	// 1. An assistant question nobody answered gets asked again.
	if last != nil && last.Role == model.RoleAssistant && strings.Contains(last.Content, "?") {
		return ActionRepeatLastQuestion
	}

	// 2. A user answer the scorer has not absorbed yet gets processed
	// first. Scoring is synchronous with the write, so this only fires
	// when the topic row predates the turn (e.g. a crash between the
	// append and the rescore).
	if last != nil && last.Role == model.RoleUser {
		if t, ok := topicByName(topics, last.Topic); ok && t.UpdatedAt.Before(last.CreatedAt) {
			return ActionRespondToLastAnswer
		}
	}

	// 3. Stay on the current topic until it clears the bar.
	if t, ok := topicByName(topics, sess.LastTopic); ok {
		if t.Status != model.TopicNotApplicable && t.Confidence < b.scoreCfg.CompleteThreshold {
			return ActionContinueTopic
		}
	}

	// 4. Move to the first unfinished topic in checklist order.
	byName := make(map[string]model.Topic, len(topics))
	for _, t := range topics {
		byName[t.Name] = t
	}
	for _, spec := range b.checklist.Topics {
		t, ok := byName[spec.Name]
		if !ok {
			return ActionStartNextTopic
		}
		if t.Status == model.TopicNotApplicable || t.Name == sess.LastTopic {
			continue
		}
		if t.Confidence < b.scoreCfg.CompleteThreshold {
			return ActionStartNextTopic
		}
	}

	return ActionReadyForGeneration
}

func (b *Builder) recap(pref RecapPreference, sess model.Session, topics []model.Topic, recent []model.ConversationTurn) string {
	switch pref {
	case RecapNone:
		return ""
	case RecapQuick:
		return b.quickRecap(sess, topics)
	default:
		return b.detailedRecap(sess, topics, recent)
	}
}

func (b *Builder) quickRecap(sess model.Session, topics []model.Topic) string {
	done := 0
	applicable := 0
	for _, t := range topics {
		if t.Status == model.TopicNotApplicable {
			continue
		}
		applicable++
		if t.Status == model.TopicComplete {
			done++
		}
	}
	text := fmt.Sprintf("Resuming: %d of %d topics complete, overall readiness %.0f%%.",
		done, applicable, sess.Readiness)
	if sess.LastTopic != "" {
		text += fmt.Sprintf(" We were discussing %s.", humanize(sess.LastTopic))
	}
	return b.trim(text, b.budget.SummaryTokens())
}

func (b *Builder) detailedRecap(sess model.Session, topics []model.Topic, recent []model.ConversationTurn) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Resuming your session (readiness %.0f%%).\n\nTopic status:\n", sess.Readiness)

	byName := make(map[string]model.Topic, len(topics))
	for _, t := range topics {
		byName[t.Name] = t
	}
	for _, spec := range b.checklist.Topics {
		t, ok := byName[spec.Name]
		if !ok {
			continue
		}
		if t.Status == model.TopicNotApplicable {
			fmt.Fprintf(&sb, "- %s: not applicable\n", humanize(t.Name))
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s (confidence %.0f)\n", humanize(t.Name), t.Status, t.Confidence)
		for _, item := range t.MissingItems {
			fmt.Fprintf(&sb, "  still needed: %s\n", item)
		}
	}

	// Summaries and recent turns spend separate shares of the budget, so
	// a long topic list cannot crowd out the last exchange and vice
	// versa.
	text := b.trim(sb.String(), b.budget.SummaryTokens())

	if len(recent) > 0 {
		var tb strings.Builder
		tb.WriteString("Last exchange:\n")
		for _, turn := range recent {
			fmt.Fprintf(&tb, "%s: %s\n", turn.Role, turn.Content)
		}
		if turns := b.trim(tb.String(), b.budget.TurnTokens()); turns != "" {
			text = strings.TrimRight(text, "\n") + "\n\n" + turns
		}
	}
	return text
}

// trim cuts text to a token limit, dropping whole trailing lines until
// it fits.
func (b *Builder) trim(text string, limit int) string {
	if b.counter.Count(text) <= limit {
		return text
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for len(lines) > 1 {
		lines = lines[:len(lines)-1]
		candidate := strings.Join(lines, "\n")
		if b.counter.Count(candidate) <= limit {
			return candidate
		}
	}
	// A single oversized line is cut mid-text as a last resort.
	runes := []rune(lines[0])
	for len(runes) > 0 && b.counter.Count(string(runes)) > limit {
		runes = runes[:len(runes)*3/4]
	}
	return string(runes)
}

func topicByName(topics []model.Topic, name string) (model.Topic, bool) {
	for _, t := range topics {
		if t.Name == name {
			return t, true
		}
	}
	return model.Topic{}, false
}

func humanize(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}
