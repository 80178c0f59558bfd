package kioku

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/contradiction"
)

func TestOptionsApply(t *testing.T) {
	logger := slog.Default()
	provider := stubProvider{dims: 4}
	detector := stubDetector{}

	o := resolvedOptions{}
	for _, fn := range []Option{
		WithPort(9090),
		WithDatabaseURL("postgres://localhost/kioku_test"),
		WithChecklistPath("checklist.yaml"),
		WithLogger(logger),
		WithVersion("1.2.3"),
		WithEmbeddingProvider(provider),
		WithDetector(detector),
	} {
		fn(&o)
	}

	assert.Equal(t, 9090, o.port)
	assert.Equal(t, "postgres://localhost/kioku_test", o.databaseURL)
	assert.Equal(t, "checklist.yaml", o.checklistPath)
	assert.Same(t, logger, o.logger)
	assert.Equal(t, "1.2.3", o.version)
	assert.NotNil(t, o.embeddingProvider)
	assert.NotNil(t, o.detector)
}

type stubProvider struct {
	dims int
	err  error
}

func (s stubProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (s stubProvider) Dimensions() int { return s.dims }

func TestProviderAdapter(t *testing.T) {
	ctx := context.Background()
	a := providerAdapter{p: stubProvider{dims: 2}}

	vec, err := a.Embed(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, vec.Slice())
	assert.Equal(t, 2, a.Dimensions())

	vecs, err := a.EmbedBatch(ctx, []string{"a", "ab"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 1}, vecs[0].Slice())
	assert.Equal(t, []float32{2, 1}, vecs[1].Slice())
}

func TestProviderAdapterPropagatesError(t *testing.T) {
	boom := errors.New("provider down")
	a := providerAdapter{p: stubProvider{err: boom}}

	_, err := a.Embed(context.Background(), "abc")
	assert.ErrorIs(t, err, boom)
	_, err = a.EmbedBatch(context.Background(), []string{"abc"})
	assert.ErrorIs(t, err, boom)
}

type stubDetector struct {
	err error
}

func (s stubDetector) Detect(_ context.Context, _ string, statements []Statement) ([]Finding, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(statements) < 2 {
		return nil, nil
	}
	return []Finding{{
		IndexA:      statements[0].Index,
		IndexB:      statements[1].Index,
		Explanation: "conflicting statements",
	}}, nil
}

func TestDetectorAdapter(t *testing.T) {
	a := detectorAdapter{d: stubDetector{}}

	findings, err := a.Detect(context.Background(), "data_model", []contradiction.Statement{
		{Index: 3, Text: "all data is relational"},
		{Index: 100007, Text: "use a document store for everything"},
	})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, 3, findings[0].IndexA)
	assert.Equal(t, 100007, findings[0].IndexB)
	assert.Equal(t, "conflicting statements", findings[0].Explanation)
}

func TestDetectorAdapterPropagatesError(t *testing.T) {
	boom := errors.New("backend unavailable")
	a := detectorAdapter{d: stubDetector{err: boom}}

	_, err := a.Detect(context.Background(), "scope", []contradiction.Statement{{Index: 0, Text: "x"}})
	assert.ErrorIs(t, err, boom)
}
