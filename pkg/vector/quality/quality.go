// Package quality scores embeddings and flags degenerate vectors before
// they reach the index. A vector passes when its magnitude, component
// distribution and numeric stability all look healthy.
package quality

import (
	"fmt"
	"math"

	"github.com/S-Corkum/deepsearch/pkg/models"
	"github.com/S-Corkum/deepsearch/pkg/observability"
)

// Expected relations accepted by ValidateSimilarity when two vectors score
// above the similarity threshold.
const (
	RelationIdentical   = "identical"
	RelationVerySimilar = "very_similar"
)

// Config tunes the evaluator's thresholds.
type Config struct {
	// MinMagnitude and MaxMagnitude bound the acceptable Euclidean norm.
	MinMagnitude float64
	MaxMagnitude float64

	// SimilarityThreshold marks two vectors as suspiciously close.
	SimilarityThreshold float64

	// VarianceThreshold marks a vector's components as too uniform.
	VarianceThreshold float64
}

// DefaultConfig returns the standard quality thresholds.
func DefaultConfig() Config {
	return Config{
		MinMagnitude:        0.1,
		MaxMagnitude:        10.0,
		SimilarityThreshold: 0.95,
		VarianceThreshold:   0.001,
	}
}

// Assessment is the outcome of scoring one embedding. Valid requires a
// score of at least 0.7 and no recorded issues.
type Assessment struct {
	Score  float64  `json:"score"`
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// SimilarityValidation is the outcome of checking a vector pair.
type SimilarityValidation struct {
	Valid      bool     `json:"valid"`
	Similarity float64  `json:"similarity"`
	Notes      []string `json:"notes,omitempty"`
}

// BatchReport aggregates assessments over a set of embeddings.
type BatchReport struct {
	Total        int      `json:"total"`
	Valid        int      `json:"valid"`
	AverageScore float64  `json:"average_score"`
	ValidRatio   float64  `json:"valid_ratio"`
	Issues       []string `json:"issues,omitempty"`
}

// AnomalyReport flags statistical outliers across a set of embeddings.
type AnomalyReport struct {
	Anomalous bool     `json:"anomalous"`
	Details   []string `json:"details,omitempty"`
}

// Evaluator scores embeddings against the configured thresholds.
type Evaluator struct {
	config Config
	logger observability.Logger
}

// NewEvaluator builds an evaluator. Zero config fields fall back to
// defaults.
func NewEvaluator(config Config, logger observability.Logger) *Evaluator {
	defaults := DefaultConfig()
	if config.MinMagnitude <= 0 {
		config.MinMagnitude = defaults.MinMagnitude
	}
	if config.MaxMagnitude <= 0 {
		config.MaxMagnitude = defaults.MaxMagnitude
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if config.VarianceThreshold <= 0 {
		config.VarianceThreshold = defaults.VarianceThreshold
	}
	if logger == nil {
		logger = observability.NewLogger("vector.quality")
	}
	return &Evaluator{config: config, logger: logger}
}

// Assess scores one embedding. The score blends magnitude (30%),
// component distribution (40%) and numeric stability (30%).
func (e *Evaluator) Assess(emb *models.Embedding) Assessment {
	if emb == nil {
		return Assessment{Issues: []string{"nil embedding"}}
	}
	if emb.Dimension <= 0 || len(emb.Data) == 0 {
		return Assessment{Issues: []string{"invalid dimension"}}
	}

	var issues []string
	magnitudeScore, issues := e.assessMagnitude(emb.Magnitude(), issues)
	distributionScore, issues := e.assessDistribution(emb.Data, issues)
	stabilityScore, issues := e.assessStability(emb.Data, issues)

	score := magnitudeScore*0.3 + distributionScore*0.4 + stabilityScore*0.3
	valid := score >= 0.7 && len(issues) == 0

	e.logger.Debug("embedding assessed", map[string]interface{}{
		"score":     score,
		"valid":     valid,
		"dimension": emb.Dimension,
		"model":     emb.ModelName,
	})
	return Assessment{Score: score, Valid: valid, Issues: issues}
}

func (e *Evaluator) assessMagnitude(magnitude float64, issues []string) (float64, []string) {
	if math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return 0, append(issues, "magnitude is not finite")
	}
	if magnitude < e.config.MinMagnitude {
		issues = append(issues, fmt.Sprintf("magnitude too small (%.4f < %.4f)", magnitude, e.config.MinMagnitude))
		return math.Max(0, magnitude/e.config.MinMagnitude), issues
	}
	if magnitude > e.config.MaxMagnitude {
		issues = append(issues, fmt.Sprintf("magnitude too large (%.4f > %.4f)", magnitude, e.config.MaxMagnitude))
		return math.Max(0, 1-(magnitude-e.config.MaxMagnitude)/e.config.MaxMagnitude), issues
	}
	return 1, issues
}

func (e *Evaluator) assessDistribution(data []float32, issues []string) (float64, []string) {
	var sum, minVal, maxVal float64
	minVal = math.Inf(1)
	maxVal = math.Inf(-1)
	zeros := 0
	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, append(issues, "contains NaN or infinite components")
		}
		sum += f
		minVal = math.Min(minVal, f)
		maxVal = math.Max(maxVal, f)
		if math.Abs(f) < 1e-10 {
			zeros++
		}
	}
	mean := sum / float64(len(data))

	score := 1.0
	if variance(data, mean) < e.config.VarianceThreshold {
		issues = append(issues, fmt.Sprintf("component variance below %.6f", e.config.VarianceThreshold))
		score *= 0.5
	}
	if maxVal-minVal == 0 {
		issues = append(issues, "all components identical")
		score *= 0.3
	}
	if zeroRatio := float64(zeros) / float64(len(data)); zeroRatio > 0.9 {
		issues = append(issues, fmt.Sprintf("zero ratio too high (%.0f%%)", zeroRatio*100))
		score *= 0.4
	}
	return score, issues
}

func (e *Evaluator) assessStability(data []float32, issues []string) (float64, []string) {
	var sumSquares float64
	for _, v := range data {
		sumSquares += float64(v) * float64(v)
	}

	score := 1.0
	if sumSquares < 1e-20 {
		issues = append(issues, "components too small for stable arithmetic")
		score *= 0.6
	}
	if sumSquares > 1e20 {
		issues = append(issues, "components large enough to overflow")
		score *= 0.6
	}
	return score, issues
}

func variance(data []float32, mean float64) float64 {
	var sum float64
	for _, v := range data {
		d := float64(v) - mean
		sum += d * d
	}
	return sum / float64(len(data))
}

// ValidateSimilarity checks that the cosine similarity of a vector pair is
// plausible. Similarity above the threshold is only acceptable when the
// caller expected the vectors to be identical or very similar.
func (e *Evaluator) ValidateSimilarity(a, b *models.Embedding, expectedRelation string) SimilarityValidation {
	if a == nil || b == nil {
		return SimilarityValidation{Notes: []string{"nil embedding"}}
	}
	if !a.CompatibleWith(b) {
		return SimilarityValidation{Notes: []string{"incompatible embeddings"}}
	}

	similarity, err := a.CosineSimilarity(b)
	if err != nil {
		return SimilarityValidation{Notes: []string{err.Error()}}
	}

	valid := true
	var notes []string
	if similarity > e.config.SimilarityThreshold &&
		expectedRelation != RelationIdentical && expectedRelation != RelationVerySimilar {
		valid = false
		notes = append(notes, "similarity suspiciously high, possible duplicate vector")
	}
	if similarity < -0.8 {
		notes = append(notes, "similarity unusually low")
	}
	if math.IsNaN(similarity) {
		valid = false
		notes = append(notes, "similarity is not a number")
	}

	e.logger.Debug("similarity validated", map[string]interface{}{
		"similarity": similarity,
		"valid":      valid,
		"expected":   expectedRelation,
	})
	return SimilarityValidation{Valid: valid, Similarity: similarity, Notes: notes}
}

// AssessBatch scores every embedding and aggregates the outcome.
func (e *Evaluator) AssessBatch(embs []*models.Embedding) BatchReport {
	if len(embs) == 0 {
		return BatchReport{Issues: []string{"no embeddings to assess"}}
	}

	report := BatchReport{Total: len(embs)}
	var totalScore float64
	for _, emb := range embs {
		assessment := e.Assess(emb)
		totalScore += assessment.Score
		if assessment.Valid {
			report.Valid++
		} else {
			report.Issues = append(report.Issues, assessment.Issues...)
		}
	}
	report.AverageScore = totalScore / float64(report.Total)
	report.ValidRatio = float64(report.Valid) / float64(report.Total)
	return report
}

// DetectAnomalies looks for statistical outliers across a set of
// embeddings: magnitudes spread over two orders of magnitude, or more
// than 10% of vectors sitting further than three standard deviations from
// the mean magnitude.
func (e *Evaluator) DetectAnomalies(embs []*models.Embedding) AnomalyReport {
	if len(embs) == 0 {
		return AnomalyReport{Details: []string{"no embeddings to check"}}
	}

	magnitudes := make([]float64, len(embs))
	var sum, minMag, maxMag float64
	minMag = math.Inf(1)
	maxMag = math.Inf(-1)
	for i, emb := range embs {
		m := emb.Magnitude()
		magnitudes[i] = m
		sum += m
		minMag = math.Min(minMag, m)
		maxMag = math.Max(maxMag, m)
	}
	mean := sum / float64(len(magnitudes))

	var report AnomalyReport
	if maxMag/minMag > 100 {
		report.Anomalous = true
		report.Details = append(report.Details, fmt.Sprintf("magnitude spread too wide (max/min=%.2f)", maxMag/minMag))
	}

	var varSum float64
	for _, m := range magnitudes {
		d := m - mean
		varSum += d * d
	}
	stdDev := math.Sqrt(varSum / float64(len(magnitudes)))

	outliers := 0
	for _, m := range magnitudes {
		if math.Abs(m-mean) > 3*stdDev {
			outliers++
		}
	}
	if float64(outliers) > float64(len(embs))*0.1 {
		report.Anomalous = true
		report.Details = append(report.Details, fmt.Sprintf("too many magnitude outliers (%d)", outliers))
	}

	e.logger.Debug("anomaly detection finished", map[string]interface{}{
		"vectors":   len(embs),
		"anomalous": report.Anomalous,
	})
	return report
}
