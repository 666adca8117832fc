package preprocess

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/deepsearch/pkg/observability"
)

func newPreprocessor(cfg Config) *Preprocessor {
	return New(cfg, observability.NewNoopLogger())
}

func TestCleanTextStripsMarkupAndNoise(t *testing.T) {
	p := newPreprocessor(DefaultConfig())

	got := p.CleanText("<p>Hello World</p> visit https://example.com or mail a@b.com!!")
	assert.Equal(t, "hello world visit or mail", got)
}

func TestCleanTextCollapsesWhitespace(t *testing.T) {
	p := newPreprocessor(DefaultConfig())

	assert.Equal(t, "one two three", p.CleanText("  one\t two\n\nthree  "))
}

func TestCleanTextRemovesStopWords(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoveStopWords = true
	p := newPreprocessor(cfg)

	got := p.CleanText("the quick fox and the lazy dog")
	assert.Equal(t, "quick fox lazy dog", got)
}

func TestPreprocessEmptyInput(t *testing.T) {
	p := newPreprocessor(DefaultConfig())

	assert.Empty(t, p.Preprocess(""))
	assert.Empty(t, p.Preprocess("   \t\n"))
}

func TestPreprocessDropsShortChunks(t *testing.T) {
	cfg := Config{MaxChunkSize: 100, ChunkOverlap: 0, MinChunkSize: 30}
	p := newPreprocessor(cfg)

	assert.Empty(t, p.Preprocess("too short."))

	chunks := p.Preprocess("this sentence is comfortably longer than the minimum chunk size.")
	require.Len(t, chunks, 1)
	assert.GreaterOrEqual(t, len(chunks[0]), 30)
}

func TestChunkTextSentenceAligned(t *testing.T) {
	cfg := Config{MaxChunkSize: 20, ChunkOverlap: 0, MinChunkSize: 5}
	p := newPreprocessor(cfg)

	chunks := p.ChunkText("first part. second part. third part")
	assert.Equal(t, []string{"first part", "second part", "third part"}, chunks)
}

func TestChunkTextCarriesOverlap(t *testing.T) {
	cfg := Config{MaxChunkSize: 25, ChunkOverlap: 10, MinChunkSize: 3}
	p := newPreprocessor(cfg)

	chunks := p.ChunkText("alpha beta gamma. delta epsilon.")
	require.Len(t, chunks, 2)
	assert.Equal(t, "alpha beta gamma", chunks[0])
	assert.Equal(t, "beta gamma delta epsilon", chunks[1])
}

func TestChunkTextLongDocument(t *testing.T) {
	cfg := Config{MaxChunkSize: 120, ChunkOverlap: 20, MinChunkSize: 10}
	p := newPreprocessor(cfg)

	var sb strings.Builder
	for i := 0; i < 12; i++ {
		sb.WriteString("every sentence here carries fifty characters or so. ")
	}
	chunks := p.ChunkText(sb.String())

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.GreaterOrEqual(t, len(chunk), cfg.MinChunkSize)
		// A chunk may exceed the ceiling by its carried overlap plus the
		// sentence that triggered the flush.
		assert.LessOrEqual(t, len(chunk), cfg.MaxChunkSize+cfg.ChunkOverlap+60)
	}
	// Consecutive chunks share the word-aligned overlap.
	assert.True(t, strings.HasPrefix(chunks[1], lastWords(chunks[0], cfg.ChunkOverlap)))
}

func TestLastWords(t *testing.T) {
	assert.Equal(t, "short", lastWords("short", 10))
	assert.Equal(t, "beta gamma", lastWords("alpha beta gamma", 10))
	assert.Equal(t, "gamma", lastWords("alpha beta gamma", 7))
}

func TestComplexityOrdering(t *testing.T) {
	p := newPreprocessor(DefaultConfig())

	assert.Zero(t, p.Complexity(""))

	repetitive := p.Complexity("the the the the the")
	diverse := p.Complexity("quick brown fox jumps high")
	assert.InDelta(t, 0.18, repetitive, 1e-9)
	assert.InDelta(t, 0.5, diverse, 1e-9)
	assert.Greater(t, diverse, repetitive)
	assert.LessOrEqual(t, diverse, 1.0)
}

func TestEstimateProcessingTime(t *testing.T) {
	p := newPreprocessor(DefaultConfig())

	assert.Zero(t, p.EstimateProcessingTime(""))
	assert.Equal(t, 4*time.Millisecond, p.EstimateProcessingTime("hello world."))
	assert.GreaterOrEqual(t, p.EstimateProcessingTime(strings.Repeat("word ", 2000)), 10*time.Millisecond)
}
