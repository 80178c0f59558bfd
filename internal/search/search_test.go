package search

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		host    string
		port    int
		useTLS  bool
		wantErr bool
	}{
		{name: "https with grpc port", url: "https://qdrant.internal:6334", host: "qdrant.internal", port: 6334, useTLS: true},
		{name: "rest port remapped to grpc", url: "http://localhost:6333", host: "localhost", port: 6334},
		{name: "no port defaults to grpc", url: "http://qdrant", host: "qdrant", port: 6334},
		{name: "custom port preserved", url: "http://qdrant:7000", host: "qdrant", port: 7000},
		{name: "https no port", url: "https://qdrant.example.com", host: "qdrant.example.com", port: 6334, useTLS: true},
		{name: "empty", url: "", wantErr: true},
		{name: "missing host", url: "http://", wantErr: true},
		{name: "garbage", url: "://nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := parseQdrantURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.useTLS, useTLS)
		})
	}
}

func TestSortResults(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	results := []Result{
		{DecisionID: a, Score: 0.42},
		{DecisionID: b, Score: 0.91},
		{DecisionID: c, Score: 0.77},
	}

	sorted := SortResults(results, 2)
	require.Len(t, sorted, 2)
	assert.Equal(t, b, sorted[0].DecisionID)
	assert.Equal(t, c, sorted[1].DecisionID)
}

func TestSortResultsNoLimit(t *testing.T) {
	results := []Result{{Score: 0.1}, {Score: 0.3}, {Score: 0.2}}
	sorted := SortResults(results, 0)
	require.Len(t, sorted, 3)
	assert.Equal(t, float32(0.3), sorted[0].Score)
	assert.Equal(t, float32(0.1), sorted[2].Score)
}
