package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmbeddingDerivesDimensionAndCopiesData(t *testing.T) {
	data := []float32{1, 2, 3}
	emb, err := NewEmbedding(data, "test-model", ModeOnlineRealtime, 15*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, 3, emb.Dimension)
	assert.Equal(t, int64(15), emb.ProcessingTimeMs)
	assert.False(t, emb.CreatedAt.IsZero())

	// The embedding owns its data; mutating the caller's slice must not leak
	// through.
	data[0] = 99
	assert.Equal(t, float32(1), emb.Data[0])
}

func TestNewEmbeddingRejectsInvalidInput(t *testing.T) {
	_, err := NewEmbedding(nil, "m", ModeOnlineRealtime, 0)
	assert.Error(t, err)

	_, err = NewEmbedding([]float32{1}, "", ModeOnlineRealtime, 0)
	assert.Error(t, err)

	_, err = NewEmbedding([]float32{1}, "m", ProcessingMode("bogus"), 0)
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	a, err := NewEmbedding([]float32{1, 0, 0}, "m", ModeOnlineRealtime, 0)
	require.NoError(t, err)
	b, err := NewEmbedding([]float32{0, 1, 0}, "m", ModeOnlineRealtime, 0)
	require.NoError(t, err)
	c, err := NewEmbedding([]float32{2, 0, 0}, "m", ModeOnlineRealtime, 0)
	require.NoError(t, err)

	sim, err := a.CosineSimilarity(b)
	require.NoError(t, err)
	assert.InDelta(t, 0, sim, 1e-9, "orthogonal vectors")

	sim, err = a.CosineSimilarity(c)
	require.NoError(t, err)
	assert.InDelta(t, 1, sim, 1e-9, "parallel vectors ignore magnitude")

	simAB, err := a.CosineSimilarity(b)
	require.NoError(t, err)
	simBA, err := b.CosineSimilarity(a)
	require.NoError(t, err)
	assert.Equal(t, simAB, simBA, "similarity is symmetric")
}

func TestCosineSimilarityIncompatible(t *testing.T) {
	a, err := NewEmbedding([]float32{1, 0}, "model-a", ModeOnlineRealtime, 0)
	require.NoError(t, err)
	b, err := NewEmbedding([]float32{1, 0}, "model-b", ModeOnlineRealtime, 0)
	require.NoError(t, err)
	short, err := NewEmbedding([]float32{1}, "model-a", ModeOnlineRealtime, 0)
	require.NoError(t, err)

	_, err = a.CosineSimilarity(b)
	assert.Error(t, err, "different models do not compare")

	_, err = a.CosineSimilarity(short)
	assert.Error(t, err, "different dimensions do not compare")

	_, err = a.CosineSimilarity(nil)
	assert.Error(t, err)

	assert.True(t, a.CompatibleWith(a))
	assert.False(t, a.CompatibleWith(b))
}

func TestNormalize(t *testing.T) {
	emb, err := NewEmbedding([]float32{3, 4}, "m", ModeOnlineRealtime, 0)
	require.NoError(t, err)

	unit := emb.Normalize()
	assert.InDelta(t, 1, unit.Magnitude(), 1e-6)
	assert.InDelta(t, 0.6, float64(unit.Data[0]), 1e-6)
	assert.InDelta(t, 5, emb.Magnitude(), 1e-6, "original unchanged")
}

func TestWithMetadataDerivesCopy(t *testing.T) {
	emb, err := NewEmbedding([]float32{1}, "m", ModeOfflineBatch, 0)
	require.NoError(t, err)

	md := NewVectorMetadata("source text")
	derived := emb.WithMetadata(md)

	assert.Nil(t, emb.Metadata)
	assert.Same(t, md, derived.Metadata)
	assert.Equal(t, emb.Data, derived.Data)
}
