package resume

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text against the resume budget.
type TokenCounter interface {
	Count(text string) int
}

// Budget partitions a fixed token allowance across the resume payload.
// The shares follow the context layout the conversational layer
// assembles: instructions and checklist, summaries, recent turns, and
// headroom for the user's next utterance.
type Budget struct {
	Total int

	InstructionsShare float64
	SummariesShare    float64
	TurnsShare        float64
	HeadroomShare     float64
}

// DefaultBudget returns the production partition.
func DefaultBudget() Budget {
	return Budget{
		Total:             4096,
		InstructionsShare: 0.20,
		SummariesShare:    0.40,
		TurnsShare:        0.30,
		HeadroomShare:     0.10,
	}
}

// SummaryTokens is the allowance for recap text.
func (b Budget) SummaryTokens() int {
	return int(float64(b.Total) * b.SummariesShare)
}

// TurnTokens is the allowance for recent conversation turns.
func (b Budget) TurnTokens() int {
	return int(float64(b.Total) * b.TurnsShare)
}

// tiktokenCounter counts with a real BPE vocabulary.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// heuristicCounter approximates four characters per token. Used when
// the encoding tables are unavailable (offline builds).
type heuristicCounter struct{}

func (heuristicCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// NewTokenCounter returns a cl100k_base counter, degrading to the
// character heuristic if the encoding cannot be loaded.
func NewTokenCounter() TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return heuristicCounter{}
	}
	return tiktokenCounter{enc: enc}
}
