package quality

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/deepsearch/pkg/models"
	"github.com/S-Corkum/deepsearch/pkg/observability"
)

func newEvaluator() *Evaluator {
	return NewEvaluator(DefaultConfig(), observability.NewNoopLogger())
}

func emb(data ...float32) *models.Embedding {
	return &models.Embedding{
		Data:      data,
		Dimension: len(data),
		ModelName: "test-model",
	}
}

func TestAssessHealthyVector(t *testing.T) {
	e := newEvaluator()

	assessment := e.Assess(emb(0.1, 0.2, 0.3, 0.4))
	assert.True(t, assessment.Valid)
	assert.InDelta(t, 1.0, assessment.Score, 1e-9)
	assert.Empty(t, assessment.Issues)
}

func TestAssessNilAndEmpty(t *testing.T) {
	e := newEvaluator()

	assessment := e.Assess(nil)
	assert.False(t, assessment.Valid)
	assert.Zero(t, assessment.Score)

	assessment = e.Assess(&models.Embedding{ModelName: "test-model"})
	assert.False(t, assessment.Valid)
	assert.NotEmpty(t, assessment.Issues)
}

func TestAssessLowMagnitude(t *testing.T) {
	e := newEvaluator()

	assessment := e.Assess(emb(0.01, 0.02, -0.01, 0.03))
	assert.False(t, assessment.Valid)
	assert.Less(t, assessment.Score, 0.7)
	assert.NotEmpty(t, assessment.Issues)
}

func TestAssessHighMagnitude(t *testing.T) {
	e := newEvaluator()

	assessment := e.Assess(emb(20, -15, 8, 3))
	assert.False(t, assessment.Valid)
	assert.NotEmpty(t, assessment.Issues)
}

func TestAssessNonFiniteComponents(t *testing.T) {
	e := newEvaluator()

	assessment := e.Assess(emb(float32(math.NaN()), 0.5, 0.2, 0.1))
	assert.False(t, assessment.Valid)
	assert.NotEmpty(t, assessment.Issues)

	assessment = e.Assess(emb(float32(math.Inf(1)), 0.5, 0.2, 0.1))
	assert.False(t, assessment.Valid)
}

func TestAssessDegenerateZeroVector(t *testing.T) {
	e := newEvaluator()

	assessment := e.Assess(emb(0, 0, 0, 0))
	assert.False(t, assessment.Valid)
	// Magnitude, variance, identical components, zero ratio and stability
	// should all be reported.
	assert.GreaterOrEqual(t, len(assessment.Issues), 4)
	assert.Less(t, assessment.Score, 0.3)
}

func TestValidateSimilarity(t *testing.T) {
	e := newEvaluator()

	a := emb(1, 0, 0, 0)
	b := emb(0, 1, 0, 0)

	v := e.ValidateSimilarity(a, b, "")
	assert.True(t, v.Valid)
	assert.InDelta(t, 0, v.Similarity, 1e-9)

	// Near-duplicates are only acceptable when declared as such.
	dup := e.ValidateSimilarity(a, emb(1, 0, 0, 0), "")
	assert.False(t, dup.Valid)
	assert.NotEmpty(t, dup.Notes)

	declared := e.ValidateSimilarity(a, emb(1, 0, 0, 0), RelationIdentical)
	assert.True(t, declared.Valid)
	assert.InDelta(t, 1.0, declared.Similarity, 1e-9)

	opposite := e.ValidateSimilarity(emb(1, 2, 0, 0), emb(-1, -2, 0, 0), "")
	assert.True(t, opposite.Valid)
	assert.InDelta(t, -1.0, opposite.Similarity, 1e-9)
	assert.NotEmpty(t, opposite.Notes)
}

func TestValidateSimilarityRejectsBadPairs(t *testing.T) {
	e := newEvaluator()

	assert.False(t, e.ValidateSimilarity(nil, emb(1, 0), "").Valid)
	assert.False(t, e.ValidateSimilarity(emb(1, 0), nil, "").Valid)

	other := emb(1, 0, 0)
	other.ModelName = "other-model"
	assert.False(t, e.ValidateSimilarity(emb(1, 0, 0), other, "").Valid)

	// Zero-magnitude vectors cannot be compared.
	assert.False(t, e.ValidateSimilarity(emb(0, 0), emb(1, 0), "").Valid)
}

func TestAssessBatch(t *testing.T) {
	e := newEvaluator()

	report := e.AssessBatch(nil)
	assert.Zero(t, report.Total)
	assert.NotEmpty(t, report.Issues)

	report = e.AssessBatch([]*models.Embedding{
		emb(0.1, 0.2, 0.3, 0.4),
		emb(0.4, -0.3, 0.2, -0.1),
		emb(0, 0, 0, 0),
	})
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Valid)
	assert.InDelta(t, 2.0/3.0, report.ValidRatio, 1e-9)
	assert.NotEmpty(t, report.Issues)
	assert.Less(t, report.AverageScore, 1.0)
}

func TestDetectAnomalies(t *testing.T) {
	e := newEvaluator()

	empty := e.DetectAnomalies(nil)
	assert.False(t, empty.Anomalous)
	assert.NotEmpty(t, empty.Details)

	uniform := e.DetectAnomalies([]*models.Embedding{
		emb(0.1, 0.2, 0.3),
		emb(0.2, 0.1, 0.3),
		emb(0.3, 0.2, 0.1),
	})
	assert.False(t, uniform.Anomalous)

	spread := e.DetectAnomalies([]*models.Embedding{
		emb(0.005, 0.005, 0.005),
		emb(5, 5, 5),
	})
	require.True(t, spread.Anomalous)
	assert.NotEmpty(t, spread.Details)
}
