package patterns

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamagency.io/mode-router/internal/store"
)

func TestMemoryIndex_Search(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0.5)

	require.NoError(t, idx.Sync(ctx, []store.LearnedPattern{
		{ID: "1", Mode: store.ModeSales, Content: "exato", Embedding: []float32{1, 0, 0}},
		{ID: "2", Mode: store.ModeSales, Content: "próximo", Embedding: []float32{0.9, 0.1, 0}, SuccessCount: 3},
		{ID: "3", Mode: store.ModeSales, Content: "ortogonal", Embedding: []float32{0, 1, 0}},
		{ID: "4", Mode: store.ModeSupport, Content: "outro modo", Embedding: []float32{1, 0, 0}},
		{ID: "5", Mode: store.ModeSales, Content: "sem vetor"},
		{ID: "6", Mode: store.ModeSales, Content: "dimensão errada", Embedding: []float32{1, 0}},
	}))
	assert.Equal(t, 5, idx.Len())

	got, err := idx.Search(ctx, []float32{1, 0, 0}, store.ModeSales, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exato", got[0].Content)
	assert.Equal(t, "próximo", got[1].Content)

	got, err = idx.Search(ctx, []float32{1, 0, 0}, store.ModeSales, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = idx.Search(ctx, []float32{1, 0, 0}, store.ModeMarketing, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryIndex_SyncReplacesByID(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0)

	require.NoError(t, idx.Sync(ctx, []store.LearnedPattern{{ID: "1", Mode: store.ModeSupport, Content: "v1", Embedding: []float32{1, 0}}}))
	require.NoError(t, idx.Sync(ctx, []store.LearnedPattern{{ID: "1", Mode: store.ModeSupport, Content: "v2", Embedding: []float32{1, 0}}}))
	assert.Equal(t, 1, idx.Len())

	got, err := idx.Search(ctx, []float32{1, 0}, store.ModeSupport, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v2", got[0].Content)
}

func TestModeFilter(t *testing.T) {
	f := modeFilter(store.ModeFinancialTutor)
	require.Len(t, f.Must, 1)
	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, payloadMode, field.Key)
	assert.Equal(t, "financial_tutor", field.Match.GetKeyword())
}

func TestNewQdrantIndex_Validation(t *testing.T) {
	_, err := NewQdrantIndex(QdrantConfig{Collection: "patterns"})
	assert.Error(t, err)
	_, err = NewQdrantIndex(QdrantConfig{URL: "localhost:6334"})
	assert.Error(t, err)
}
