package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMetadata(t *testing.T) {
	md := NewChunkMetadata("chunk text", 2, 3, "doc-1")

	assert.True(t, md.IsChunk())
	assert.True(t, md.IsLastChunk())
	assert.Equal(t, "doc-1", md.DocumentID)
	assert.Equal(t, len("chunk text"), md.SourceTextLength)

	first := NewChunkMetadata("chunk text", 0, 3, "doc-1")
	assert.True(t, first.IsChunk())
	assert.False(t, first.IsLastChunk())

	plain := NewVectorMetadata("whole document")
	assert.False(t, plain.IsChunk())
	assert.False(t, plain.IsLastChunk())
}

func TestMetadataWithMethodsDoNotMutateReceiver(t *testing.T) {
	base := NewVectorMetadata("text")

	withCost := base.WithCost(12)
	require.NotNil(t, withCost.CostCents)
	assert.Equal(t, 12, *withCost.CostCents)
	assert.Nil(t, base.CostCents)

	withDoc := base.WithDocumentID("doc-9")
	assert.Equal(t, "doc-9", withDoc.DocumentID)
	assert.Empty(t, base.DocumentID)

	withCustom := base.WithCustom("lang", "en")
	assert.Equal(t, "en", withCustom.CustomProperty("lang"))
	assert.Nil(t, base.CustomProperty("lang"))

	// Chained derivations keep earlier custom properties.
	chained := withCustom.WithCustom("source", "crawler").WithCost(1)
	assert.Equal(t, "en", chained.CustomProperty("lang"))
	assert.Equal(t, "crawler", chained.CustomProperty("source"))
}
