package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Embedding is the fixed-length numeric vector produced for a piece of text,
// together with the provenance needed to compare it with other embeddings.
// An Embedding is created once by a provider and never mutated; derived
// copies (for example with cost metadata attached) are new values.
type Embedding struct {
	Data             []float32       `json:"data"`
	Dimension        int             `json:"dimension"`
	ModelName        string          `json:"model_name"`
	ModelVersion     string          `json:"model_version,omitempty"`
	ProcessingMode   ProcessingMode  `json:"processing_mode"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	CreatedAt        time.Time       `json:"created_at"`
	Metadata         *VectorMetadata `json:"metadata,omitempty"`
}

// NewEmbedding builds a validated Embedding. The dimension is derived from
// the data so that dimension == len(data) always holds.
func NewEmbedding(data []float32, modelName string, mode ProcessingMode, processingTime time.Duration) (*Embedding, error) {
	if len(data) == 0 {
		return nil, errors.New("embedding data must not be empty")
	}
	if modelName == "" {
		return nil, errors.New("embedding model name must not be empty")
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid processing mode %q", mode)
	}

	copied := make([]float32, len(data))
	copy(copied, data)

	return &Embedding{
		Data:             copied,
		Dimension:        len(copied),
		ModelName:        modelName,
		ProcessingMode:   mode,
		ProcessingTimeMs: processingTime.Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// WithMetadata returns a copy of the embedding carrying the given metadata.
func (e *Embedding) WithMetadata(md *VectorMetadata) *Embedding {
	out := *e
	out.Metadata = md
	return &out
}

// CompatibleWith reports whether two embeddings can be meaningfully compared:
// same producing model and same dimension.
func (e *Embedding) CompatibleWith(other *Embedding) bool {
	return other != nil && e.ModelName == other.ModelName && e.Dimension == other.Dimension
}

// Magnitude returns the Euclidean norm of the vector.
func (e *Embedding) Magnitude() float64 {
	var sum float64
	for _, v := range e.Data {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of the embedding. A zero vector is
// returned unchanged.
func (e *Embedding) Normalize() *Embedding {
	mag := e.Magnitude()
	if mag == 0 {
		return e
	}

	data := make([]float32, len(e.Data))
	for i, v := range e.Data {
		data[i] = float32(float64(v) / mag)
	}

	out := *e
	out.Data = data
	return &out
}

// CosineSimilarity computes the cosine similarity between two compatible
// embeddings. The result is symmetric and lies in [-1, 1].
func (e *Embedding) CosineSimilarity(other *Embedding) (float64, error) {
	if other == nil {
		return 0, errors.New("cannot compare against nil embedding")
	}
	if !e.CompatibleWith(other) {
		return 0, fmt.Errorf("incompatible embeddings: %s/%d vs %s/%d",
			e.ModelName, e.Dimension, other.ModelName, other.Dimension)
	}

	var dot, normA, normB float64
	for i := 0; i < e.Dimension; i++ {
		a := float64(e.Data[i])
		b := float64(other.Data[i])
		dot += a * b
		normA += a * a
		normB += b * b
	}
	if normA == 0 || normB == 0 {
		return 0, errors.New("cannot compute similarity for zero-magnitude embedding")
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp accumulated floating point error.
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}
