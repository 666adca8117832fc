// Package providers contains the embedding provider abstraction and its
// concrete backends. A provider turns text into fixed-size vectors; everything
// above it (registry, engine, scheduler) is provider-agnostic.
package providers

import (
	"context"
	"time"

	"github.com/S-Corkum/deepsearch/pkg/models"
)

// Provider type tags. The registry maps these tags to implementations; new
// backends register explicitly at startup.
const (
	TypeOpenAI = "openai"
	TypeLocal  = "local"
	TypeMock   = "mock"
)

// Health describes a provider's operational status as determined by a live
// probe.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// Available reports whether the provider can still serve requests.
func (h Health) Available() bool {
	return h == HealthHealthy || h == HealthDegraded
}

// ModelInfo describes one embedding model a provider can serve.
type ModelInfo struct {
	Name                 string  `json:"name"`
	DisplayName          string  `json:"display_name"`
	Dimensions           int     `json:"dimensions"`
	MaxInputLength       int     `json:"max_input_length"`
	CostCentsPer1KTokens float64 `json:"cost_cents_per_1k_tokens"`
}

// EmbedRequest asks for a single embedding.
type EmbedRequest struct {
	Text      string                `json:"text"`
	Model     string                `json:"model"`
	Mode      models.ProcessingMode `json:"mode"`
	RequestID string                `json:"request_id,omitempty"`
}

// BatchEmbedRequest asks for embeddings for multiple texts in one call.
type BatchEmbedRequest struct {
	Texts     []string              `json:"texts"`
	Model     string                `json:"model"`
	Mode      models.ProcessingMode `json:"mode"`
	RequestID string                `json:"request_id,omitempty"`
}

// Provider is one embedding backend: a metered remote API or a local
// in-process model. Embed calls are the only operations expected to block on
// external I/O; estimates and capability queries must be cheap and free of
// network calls.
type Provider interface {
	// Name returns a human-readable provider name.
	Name() string

	// Type returns the provider's registry type tag.
	Type() string

	// GenerateEmbedding produces one embedding. Input text longer than the
	// model's max input length is rejected with an INVALID_INPUT error, not
	// truncated. Providers never retry task-level work; the task queue owns
	// that decision.
	GenerateEmbedding(ctx context.Context, req EmbedRequest) (*models.Embedding, error)

	// BatchGenerateEmbeddings produces embeddings for multiple texts,
	// preserving input order.
	BatchGenerateEmbeddings(ctx context.Context, req BatchEmbedRequest) ([]*models.Embedding, error)

	// SupportedModels lists the models this provider declares support for.
	SupportedModels() []ModelInfo

	// DefaultModel returns the model used when the caller names none.
	DefaultModel() string

	// SupportsModel reports whether the provider serves the named model.
	SupportsModel(modelName string) bool

	// ModelDimension returns the vector dimension for a supported model.
	ModelDimension(modelName string) (int, error)

	// MaxInputLength returns the character limit for a supported model.
	MaxInputLength(modelName string) (int, error)

	// EstimateCost returns the expected cost in cents of embedding text with
	// the given model. Pure heuristic, used for provider selection.
	EstimateCost(text, modelName string) int

	// EstimateProcessingTime returns the expected latency of embedding text
	// with the given model. Pure heuristic, used for provider selection.
	EstimateProcessingTime(text, modelName string) time.Duration

	// CheckHealth issues a cheap real request and reports the outcome.
	CheckHealth(ctx context.Context) Health

	// Warmup primes connections or loads models ahead of traffic.
	Warmup(ctx context.Context) error

	// Shutdown releases provider resources.
	Shutdown(ctx context.Context) error
}
