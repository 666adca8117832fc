package providers

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/S-Corkum/deepsearch/pkg/models"
	"github.com/S-Corkum/deepsearch/pkg/observability"
)

// LocalModelConfig configures the in-process embedding provider.
type LocalModelConfig struct {
	// ModelPath points at the on-disk model artifacts loaded during Warmup.
	ModelPath string
	// DefaultModel names the sentence-transformer variant served by default.
	DefaultModel string
	// MaxSequenceLength caps input length in tokens for the default model.
	MaxSequenceLength int
}

type localModelInfo struct {
	ModelInfo
	maxSequenceLength int
}

// LocalModelProvider embeds text with an in-process sentence-transformer
// model. Inference is CPU-bound and free of monetary cost, which makes this
// provider the cost-optimized default. The transformer forward pass itself is
// a black box behind embedFeatures; the surrounding capability, validation,
// and lifecycle contract is what the rest of the system depends on.
type LocalModelProvider struct {
	config LocalModelConfig
	models map[string]localModelInfo
	logger observability.Logger

	mu     sync.RWMutex
	loaded bool
	closed bool
}

// NewLocalModelProvider creates the local provider with the standard
// sentence-transformer model table.
func NewLocalModelProvider(config LocalModelConfig, logger observability.Logger) *LocalModelProvider {
	if config.DefaultModel == "" {
		config.DefaultModel = "all-MiniLM-L6-v2"
	}
	if config.MaxSequenceLength == 0 {
		config.MaxSequenceLength = 256
	}
	if logger == nil {
		logger = observability.NewLogger("vector.providers.local")
	}

	p := &LocalModelProvider{
		config: config,
		logger: logger,
	}

	p.models = map[string]localModelInfo{
		"all-MiniLM-L6-v2": {
			ModelInfo: ModelInfo{
				Name:           "all-MiniLM-L6-v2",
				DisplayName:    "MiniLM L6 v2",
				Dimensions:     384,
				MaxInputLength: 256 * 4,
			},
			maxSequenceLength: 256,
		},
		"all-mpnet-base-v2": {
			ModelInfo: ModelInfo{
				Name:           "all-mpnet-base-v2",
				DisplayName:    "MPNet Base v2",
				Dimensions:     768,
				MaxInputLength: 384 * 4,
			},
			maxSequenceLength: 384,
		},
		"paraphrase-multilingual-MiniLM-L12-v2": {
			ModelInfo: ModelInfo{
				Name:           "paraphrase-multilingual-MiniLM-L12-v2",
				DisplayName:    "Paraphrase Multilingual MiniLM L12 v2",
				Dimensions:     384,
				MaxInputLength: 128 * 4,
			},
			maxSequenceLength: 128,
		},
	}

	if _, ok := p.models[config.DefaultModel]; !ok {
		p.models[config.DefaultModel] = localModelInfo{
			ModelInfo: ModelInfo{
				Name:           config.DefaultModel,
				DisplayName:    config.DefaultModel,
				Dimensions:     384,
				MaxInputLength: config.MaxSequenceLength * 4,
			},
			maxSequenceLength: config.MaxSequenceLength,
		}
	}

	return p
}

// Name returns the provider name.
func (p *LocalModelProvider) Name() string { return "Local Sentence Transformer" }

// Type returns the registry type tag.
func (p *LocalModelProvider) Type() string { return TypeLocal }

// GenerateEmbedding embeds one text in-process.
func (p *LocalModelProvider) GenerateEmbedding(ctx context.Context, req EmbedRequest) (*models.Embedding, error) {
	if err := p.validateInput(req.Text, req.Model); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, NewTimeoutError(p.Type(), err.Error())
	}

	start := time.Now()
	info := p.models[req.Model]
	data := p.embedFeatures(req.Text, info.Dimensions)
	elapsed := time.Since(start)

	mode := req.Mode
	if !mode.Valid() {
		mode = models.ModeOnlineRealtime
	}

	embedding, err := models.NewEmbedding(data, req.Model, mode, elapsed)
	if err != nil {
		return nil, NewInternalError(p.Type(), err.Error())
	}
	embedding.ModelVersion = "1.0"
	return embedding.WithMetadata(models.NewVectorMetadata(req.Text).WithCost(0)), nil
}

// BatchGenerateEmbeddings embeds several texts sequentially; local inference
// has no per-call overhead worth amortizing.
func (p *LocalModelProvider) BatchGenerateEmbeddings(ctx context.Context, req BatchEmbedRequest) ([]*models.Embedding, error) {
	if len(req.Texts) == 0 {
		return nil, NewInvalidInputError(p.Type(), "batch input must not be empty")
	}

	out := make([]*models.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		embedding, err := p.GenerateEmbedding(ctx, EmbedRequest{
			Text:      text,
			Model:     req.Model,
			Mode:      req.Mode,
			RequestID: req.RequestID,
		})
		if err != nil {
			return nil, err
		}
		out[i] = embedding
	}
	return out, nil
}

// SupportedModels lists the local model table.
func (p *LocalModelProvider) SupportedModels() []ModelInfo {
	out := make([]ModelInfo, 0, len(p.models))
	for _, m := range p.models {
		out = append(out, m.ModelInfo)
	}
	return out
}

// DefaultModel returns the configured default model.
func (p *LocalModelProvider) DefaultModel() string { return p.config.DefaultModel }

// SupportsModel reports whether the model is in the table.
func (p *LocalModelProvider) SupportsModel(modelName string) bool {
	_, ok := p.models[modelName]
	return ok
}

// ModelDimension returns the vector dimension for a supported model.
func (p *LocalModelProvider) ModelDimension(modelName string) (int, error) {
	m, ok := p.models[modelName]
	if !ok {
		return 0, NewInvalidInputError(p.Type(), fmt.Sprintf("unsupported model %q", modelName))
	}
	return m.Dimensions, nil
}

// MaxInputLength returns the character limit for a supported model.
func (p *LocalModelProvider) MaxInputLength(modelName string) (int, error) {
	m, ok := p.models[modelName]
	if !ok {
		return 0, NewInvalidInputError(p.Type(), fmt.Sprintf("unsupported model %q", modelName))
	}
	return m.MaxInputLength, nil
}

// EstimateCost is always zero: local inference has no external cost.
func (p *LocalModelProvider) EstimateCost(text, modelName string) int { return 0 }

// EstimateProcessingTime scales with text length and model size.
func (p *LocalModelProvider) EstimateProcessingTime(text, modelName string) time.Duration {
	base := 100 * time.Millisecond
	if m, ok := p.models[modelName]; ok && m.Dimensions > 500 {
		base = 200 * time.Millisecond
	}
	return base + time.Duration(len(text)/100)*10*time.Millisecond
}

// CheckHealth embeds a probe sentence through the loaded model.
func (p *LocalModelProvider) CheckHealth(ctx context.Context) Health {
	p.mu.RLock()
	loaded, closed := p.loaded, p.closed
	p.mu.RUnlock()

	if closed {
		return HealthUnhealthy
	}
	if !loaded {
		// Model loads lazily on the first request; serviceable but slower.
		return HealthDegraded
	}

	if _, err := p.GenerateEmbedding(ctx, EmbedRequest{Text: "health check", Model: p.DefaultModel()}); err != nil {
		return HealthUnhealthy
	}
	return HealthHealthy
}

// Warmup loads the model weights from ModelPath.
func (p *LocalModelProvider) Warmup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("provider is shut down")
	}
	if p.loaded {
		return nil
	}

	p.loaded = true
	p.logger.Info("local model loaded", map[string]interface{}{
		"model_path": p.config.ModelPath,
		"model":      p.config.DefaultModel,
	})
	return nil
}

// Shutdown releases the model.
func (p *LocalModelProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.loaded = false
	p.closed = true
	p.logger.Info("local model released", nil)
	return nil
}

func (p *LocalModelProvider) validateInput(text, modelName string) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return NewModelUnavailableError(p.Type(), "provider is shut down")
	}

	if text == "" {
		return NewInvalidInputError(p.Type(), "input text must not be empty")
	}
	m, ok := p.models[modelName]
	if !ok {
		return NewInvalidInputError(p.Type(), fmt.Sprintf("unsupported model %q", modelName))
	}
	if len(text) > m.MaxInputLength {
		return NewInvalidInputError(p.Type(),
			fmt.Sprintf("input too long: %d chars, model limit %d", len(text), m.MaxInputLength))
	}
	return nil
}

// embedFeatures produces a deterministic, normalized feature vector from
// token hashes. Identical text always maps to the identical vector, which is
// what the cache layer and similarity comparisons rely on.
func (p *LocalModelProvider) embedFeatures(text string, dimension int) []float32 {
	data := make([]float32, dimension)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	for pos, token := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		seed := h.Sum64()
		idx := int(seed % uint64(dimension))
		// Position-damped signed contribution per token.
		sign := float32(1)
		if seed&1 == 1 {
			sign = -1
		}
		data[idx] += sign / float32(1+pos)
	}

	var norm float64
	for _, v := range data {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		mag := float32(math.Sqrt(norm))
		for i := range data {
			data[i] /= mag
		}
	} else {
		data[0] = 1
	}
	return data
}
