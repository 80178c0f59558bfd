package resume

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicCounter(t *testing.T) {
	c := heuristicCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
	assert.Equal(t, 25, c.Count(string(make([]byte, 100))))
}

func TestBudgetShares(t *testing.T) {
	b := DefaultBudget()
	assert.Equal(t, 4096, b.Total)
	assert.InDelta(t, 1.0, b.InstructionsShare+b.SummariesShare+b.TurnsShare+b.HeadroomShare, 1e-9)
	assert.Equal(t, 1638, b.SummaryTokens())
	assert.Equal(t, 1228, b.TurnTokens())
}

func TestNewTokenCounter(t *testing.T) {
	c := NewTokenCounter()
	// Works with either the real encoding or the heuristic fallback.
	assert.Greater(t, c.Count("resuming a paused requirements session"), 0)
	assert.Equal(t, 0, c.Count(""))
}
