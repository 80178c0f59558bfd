package contradiction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStatements = []Statement{
	{Index: 1, Text: "We'll use PostgreSQL for everything."},
	{Index: 2, Text: "Actually, let's store all data in MongoDB instead."},
	{Index: 3, Text: "The API should be rate limited."},
}

func TestParseFindings(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []Finding
		wantErr  bool
	}{
		{
			name:     "clean array",
			response: `[{"a": 1, "b": 2, "explanation": "PostgreSQL and MongoDB are mutually exclusive primary stores"}]`,
			want:     []Finding{{IndexA: 1, IndexB: 2, Explanation: "PostgreSQL and MongoDB are mutually exclusive primary stores"}},
		},
		{
			name:     "empty array",
			response: `[]`,
			want:     []Finding{},
		},
		{
			name:     "fenced markdown",
			response: "```json\n[{\"a\": 2, \"b\": 1, \"explanation\": \"reversed\"}]\n```",
			// Pair order is normalized.
			want: []Finding{{IndexA: 1, IndexB: 2, Explanation: "reversed"}},
		},
		{
			name:     "self pair dropped",
			response: `[{"a": 1, "b": 1, "explanation": "nonsense"}]`,
			want:     []Finding{},
		},
		{
			name:     "prose instead of JSON",
			response: "There is a contradiction between statements 1 and 2.",
			wantErr:  true,
		},
		{
			name:     "unknown index",
			response: `[{"a": 1, "b": 9, "explanation": "phantom"}]`,
			wantErr:  true,
		},
		{
			name:     "object instead of array",
			response: `{"a": 1, "b": 2}`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFindings(tt.response, testStatements)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNoopDetectorFindsNothing(t *testing.T) {
	findings, err := NoopDetector{}.Detect(context.Background(), "api_design", testStatements)
	require.NoError(t, err)
	require.NotNil(t, findings)
	assert.Empty(t, findings)
}

type failingDetector struct{}

func (failingDetector) Detect(context.Context, string, []Statement) ([]Finding, error) {
	return nil, errors.New("llm unavailable")
}

type nilDetector struct{}

func (nilDetector) Detect(context.Context, string, []Statement) ([]Finding, error) {
	return nil, nil
}

func TestSafeDetectorAbsorbsFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := SafeDetector{Inner: failingDetector{}, Logger: logger}
	findings, err := d.Detect(context.Background(), "security_model", testStatements)
	require.NoError(t, err)
	require.NotNil(t, findings)
	assert.Empty(t, findings)
}

func TestSafeDetectorNeverReturnsNil(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := SafeDetector{Inner: nilDetector{}, Logger: logger}
	findings, err := d.Detect(context.Background(), "security_model", testStatements)
	require.NoError(t, err)
	require.NotNil(t, findings)
	assert.Empty(t, findings)
}
