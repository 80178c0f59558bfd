// Package scoring computes per-topic confidence scores and session-level
// readiness for requirements elicitation.
//
// Scoring is pure arithmetic over already-persisted data: it never calls
// external services and never fails. Missing or partial data lowers
// sub-scores and surfaces in MissingItems instead of producing an error.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/kioku-ai/kioku/internal/model"
)

// Sub-score weights of the confidence formula. Fixed by design; the
// adjustable knobs (specificity target, thresholds) live in Config.
const (
	weightCompleteness = 0.4
	weightSpecificity  = 0.2
	weightConsistency  = 0.2
	weightCoverage     = 0.2
)

// Config holds the adjustable scoring constants. The defaults match the
// product's calibration; tests inject alternates.
type Config struct {
	// SpecificityTarget is the average answer length (characters) at which
	// the specificity sub-score saturates at 100. A one-line answer scores
	// low; a paragraph-level answer hits the cap.
	SpecificityTarget float64

	// MinStatements is the minimum number of statements in a topic before
	// consistency is judged at all. Below it, consistency = 100.
	MinStatements int

	// CompleteThreshold and PartialThreshold map confidence to topic status.
	CompleteThreshold float64
	PartialThreshold  float64

	// ReadinessThreshold is the weighted readiness a session must reach
	// before it may be completed (spec generation).
	ReadinessThreshold float64
}

// DefaultConfig returns the production scoring constants.
func DefaultConfig() Config {
	return Config{
		SpecificityTarget:  200,
		MinStatements:      3,
		CompleteThreshold:  90,
		PartialThreshold:   70,
		ReadinessThreshold: 90,
	}
}

// Input is everything the confidence formula consumes for one topic.
type Input struct {
	NotApplicable bool

	RequiredQuestions int
	QuestionsAnswered int

	RequiredSubtopics int
	CoveredSubtopics  int

	// AnswerLengths holds the character lengths of genuine user answers
	// (non-answers already filtered out; see AnswerLengths).
	AnswerLengths []int

	TotalStatements          int
	UnresolvedContradictions int
}

// Result is the confidence breakdown for one topic.
type Result struct {
	Confidence   int
	Completeness float64
	Specificity  float64
	Consistency  float64
	Coverage     float64

	Status       model.TopicStatus
	MissingItems []string
}

// Score computes the confidence breakdown for one topic.
//
//	confidence = 0.4*completeness + 0.2*specificity + 0.2*consistency + 0.2*coverage
//
// All sub-scores are 0-100; the final score is rounded to the nearest
// integer. Re-scoring unchanged input yields an identical result.
func Score(cfg Config, in Input) Result {
	r := Result{
		Completeness: completeness(in),
		Specificity:  specificity(cfg, in),
		Consistency:  consistency(cfg, in),
		Coverage:     coverage(in),
	}

	conf := weightCompleteness*r.Completeness +
		weightSpecificity*r.Specificity +
		weightConsistency*r.Consistency +
		weightCoverage*r.Coverage
	r.Confidence = int(math.Round(clamp(conf)))

	switch {
	case in.NotApplicable:
		r.Status = model.TopicNotApplicable
	case float64(r.Confidence) >= cfg.CompleteThreshold:
		r.Status = model.TopicComplete
	case float64(r.Confidence) >= cfg.PartialThreshold:
		r.Status = model.TopicPartial
	default:
		r.Status = model.TopicIncomplete
	}

	r.MissingItems = missingItems(in, r)
	return r
}

// completeness is the fraction of required questions answered. A topic the
// user marked not applicable is complete by definition.
func completeness(in Input) float64 {
	if in.NotApplicable {
		return 100
	}
	answered := min(in.QuestionsAnswered, in.RequiredQuestions)
	return clamp(100 * float64(answered) / math.Max(1, float64(in.RequiredQuestions)))
}

// specificity saturates at 100 once the average answer reaches the target
// length. No answers yet scores 0.
func specificity(cfg Config, in Input) float64 {
	if len(in.AnswerLengths) == 0 {
		return 0
	}
	var total int
	for _, n := range in.AnswerLengths {
		total += n
	}
	avg := float64(total) / float64(len(in.AnswerLengths))
	return math.Min(100, 100*avg/cfg.SpecificityTarget)
}

// consistency penalizes unresolved contradictions proportionally to the
// statement count. Resolving a contradiction removes its penalty
// retroactively. Below MinStatements there is not enough data to judge.
func consistency(cfg Config, in Input) float64 {
	if in.TotalStatements < cfg.MinStatements {
		return 100
	}
	penalty := float64(in.UnresolvedContradictions) / math.Max(1, float64(in.TotalStatements))
	return math.Max(0, 100*(1-penalty))
}

// coverage is the fraction of required subtopics addressed. Zero required
// subtopics means full coverage.
func coverage(in Input) float64 {
	if in.RequiredSubtopics == 0 {
		return 100
	}
	covered := min(in.CoveredSubtopics, in.RequiredSubtopics)
	return clamp(100 * float64(covered) / float64(in.RequiredSubtopics))
}

// missingItems describes the gap behind each sub-score. The conversational
// layer uses these strings verbatim to phrase follow-up prompts.
func missingItems(in Input, r Result) []string {
	if in.NotApplicable {
		return nil
	}
	var items []string
	if unanswered := in.RequiredQuestions - in.QuestionsAnswered; unanswered > 0 {
		items = append(items, fmt.Sprintf("%d required %s unanswered", unanswered, plural(unanswered, "question", "questions")))
	}
	if r.Specificity < 100 {
		items = append(items, "answers need more detail")
	}
	if in.UnresolvedContradictions > 0 {
		items = append(items, fmt.Sprintf("%d unresolved %s", in.UnresolvedContradictions, plural(in.UnresolvedContradictions, "contradiction", "contradictions")))
	}
	if uncovered := in.RequiredSubtopics - in.CoveredSubtopics; uncovered > 0 {
		items = append(items, fmt.Sprintf("%d required %s uncovered", uncovered, plural(uncovered, "subtopic", "subtopics")))
	}
	return items
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// nonAnswerPhrases mark a user turn as a non-answer: it counts as a
// statement but is excluded from the specificity average.
var nonAnswerPhrases = []string{
	"i don't know",
	"i dont know",
	"no idea",
	"not sure",
	"skip this",
	"skip that",
	"you decide",
	"whatever you think",
	"up to you",
}

// IsNonAnswer reports whether a user turn is a "skip"-style non-answer
// rather than a genuine answer.
func IsNonAnswer(content string) bool {
	c := strings.ToLower(strings.TrimSpace(content))
	if c == "" || c == "skip" || c == "pass" {
		return true
	}
	for _, p := range nonAnswerPhrases {
		if strings.Contains(c, p) {
			return true
		}
	}
	return false
}

// AnswerLengths extracts the character lengths of genuine user answers from
// a topic's turns. Assistant and system turns are questions and scaffolding,
// not answers; non-answers are filtered.
func AnswerLengths(turns []model.ConversationTurn) []int {
	var lengths []int
	for _, t := range turns {
		if t.Role != model.RoleUser {
			continue
		}
		if IsNonAnswer(t.Content) {
			continue
		}
		lengths = append(lengths, len(t.Content))
	}
	return lengths
}

// CountStatements counts the statements the consistency sub-score judges:
// user turns in the topic plus extracted decisions.
func CountStatements(turns []model.ConversationTurn, decisions []model.Decision) int {
	n := len(decisions)
	for _, t := range turns {
		if t.Role == model.RoleUser {
			n++
		}
	}
	return n
}
