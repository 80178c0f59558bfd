// Package contradiction flags semantically conflicting statement pairs
// within a topic using a language model.
//
// The LLM is an external boundary with a strict typed response contract: a
// JSON array of index pairs, validated on receipt. Every failure mode —
// provider unreachable, timeout, malformed response — degrades to "no
// contradictions found" via SafeDetector, because silently under-penalizing
// consistency is preferable to stalling the conversation.
package contradiction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Statement is one numbered input to the detector. Index is the caller's
// identifier for the statement and is echoed back in findings.
type Statement struct {
	Index int
	Text  string
}

// Finding is a detected contradiction between two statements.
type Finding struct {
	IndexA      int    `json:"a"`
	IndexB      int    `json:"b"`
	Explanation string `json:"explanation"`
}

// Detector classifies which statement pairs in a topic contradict each
// other. Implementations must return an empty slice, never nil semantics
// mattering, when no contradiction is found — and an error only for
// transport or contract violations.
type Detector interface {
	Detect(ctx context.Context, topic string, statements []Statement) ([]Finding, error)
}

// perCallTimeout bounds a single LLM detection call. Separate from the
// caller's context so one slow call doesn't consume the whole analysis
// budget.
const perCallTimeout = 15 * time.Second

// detectionPrompt asks for a strict JSON verdict. Elaboration of an earlier
// requirement is explicitly not a contradiction; only mutual exclusion,
// reversal, or requirement conflict counts.
const detectionPrompt = `You are a contradiction detector for a software requirements conversation about the topic "%s".

Below are %d numbered statements the user has made, in chronological order:

%s

Identify pairs of statements that CONTRADICT each other. A pair contradicts only if the statements:
- are mutually exclusive (cannot both be true), or
- reverse an earlier decision, or
- conflict in requirements.

Adding detail to or elaborating on an earlier statement is NOT a contradiction.

Respond with ONLY a JSON array, no prose. Each element: {"a": <statement number>, "b": <statement number>, "explanation": "<one sentence>"}.
If there are no contradictions, respond with [].`

func formatPrompt(topic string, statements []Statement) string {
	var b strings.Builder
	for _, s := range statements {
		fmt.Fprintf(&b, "%d. %s\n", s.Index, s.Text)
	}
	return fmt.Sprintf(detectionPrompt, topic, len(statements), b.String())
}

// ParseFindings validates a raw LLM response against the contract: a JSON
// array of {a, b, explanation} whose indexes reference distinct statements
// in the input set. Markdown code fences around the array are tolerated;
// anything else is a contract violation.
func ParseFindings(response string, statements []Statement) ([]Finding, error) {
	raw := strings.TrimSpace(response)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var findings []Finding
	if err := json.Unmarshal([]byte(raw), &findings); err != nil {
		return nil, fmt.Errorf("contradiction: response is not a JSON array of pairs: %w", err)
	}

	known := make(map[int]bool, len(statements))
	for _, s := range statements {
		known[s.Index] = true
	}

	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.IndexA == f.IndexB {
			continue
		}
		if !known[f.IndexA] || !known[f.IndexB] {
			return nil, fmt.Errorf("contradiction: pair (%d, %d) references unknown statement", f.IndexA, f.IndexB)
		}
		// Normalize pair order so (a,b) and (b,a) dedup identically.
		if f.IndexA > f.IndexB {
			f.IndexA, f.IndexB = f.IndexB, f.IndexA
		}
		out = append(out, f)
	}
	return out, nil
}

// NoopDetector finds nothing. Used when no LLM is configured: consistency
// scores stay at 100 and the conversation is never blocked.
type NoopDetector struct{}

func (NoopDetector) Detect(_ context.Context, _ string, _ []Statement) ([]Finding, error) {
	return []Finding{}, nil
}

// SafeDetector wraps another detector and absorbs its failures: any error
// becomes an empty result with a warning log. This is the degrade policy the
// scoring pipeline depends on — scoring never sees a detection error.
type SafeDetector struct {
	Inner  Detector
	Logger *slog.Logger
}

func (d SafeDetector) Detect(ctx context.Context, topic string, statements []Statement) ([]Finding, error) {
	findings, err := d.Inner.Detect(ctx, topic, statements)
	if err != nil {
		d.Logger.Warn("contradiction detection degraded to empty", "topic", topic, "error", err)
		return []Finding{}, nil
	}
	if findings == nil {
		findings = []Finding{}
	}
	return findings, nil
}
