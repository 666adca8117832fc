package providers

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/S-Corkum/deepsearch/pkg/models"
)

// MockProvider implements Provider for tests. It produces deterministic
// normalized vectors and can be configured to fail, delay, or report a given
// health status.
type MockProvider struct {
	mu            sync.RWMutex
	name          string
	typeTag       string
	models        map[string]ModelInfo
	defaultModel  string
	health        Health
	latency       time.Duration
	failWith      error
	costCents     int
	estimatedTime time.Duration

	embedCalls      []EmbedRequest
	batchEmbedCalls []BatchEmbedRequest
}

// MockOption configures a MockProvider.
type MockOption func(*MockProvider)

// WithMockHealth fixes the health reported by CheckHealth.
func WithMockHealth(h Health) MockOption {
	return func(m *MockProvider) { m.health = h }
}

// WithMockLatency adds simulated latency to embed calls.
func WithMockLatency(d time.Duration) MockOption {
	return func(m *MockProvider) { m.latency = d }
}

// WithMockFailure makes every embed call return err.
func WithMockFailure(err error) MockOption {
	return func(m *MockProvider) { m.failWith = err }
}

// WithMockCost fixes the cost estimate in cents.
func WithMockCost(cents int) MockOption {
	return func(m *MockProvider) { m.costCents = cents }
}

// WithMockProcessingTime fixes the processing-time estimate.
func WithMockProcessingTime(d time.Duration) MockOption {
	return func(m *MockProvider) { m.estimatedTime = d }
}

// WithMockModel replaces the default model table with a single model.
func WithMockModel(info ModelInfo) MockOption {
	return func(m *MockProvider) {
		m.models = map[string]ModelInfo{info.Name: info}
		m.defaultModel = info.Name
	}
}

// NewMockProvider creates a mock provider named name with type tag "mock".
func NewMockProvider(name string, opts ...MockOption) *MockProvider {
	m := &MockProvider{
		name:          name,
		typeTag:       TypeMock,
		health:        HealthHealthy,
		estimatedTime: 10 * time.Millisecond,
		defaultModel:  "mock-model",
		models: map[string]ModelInfo{
			"mock-model": {
				Name:           "mock-model",
				DisplayName:    "Mock Model",
				Dimensions:     8,
				MaxInputLength: 1024,
			},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTypeTag overrides the registry type tag; useful when a test registers
// several mocks.
func (m *MockProvider) WithTypeTag(tag string) *MockProvider {
	m.typeTag = tag
	return m
}

// Name returns the mock's name.
func (m *MockProvider) Name() string { return m.name }

// Type returns the mock's type tag.
func (m *MockProvider) Type() string { return m.typeTag }

// GenerateEmbedding returns a deterministic vector for the text.
func (m *MockProvider) GenerateEmbedding(ctx context.Context, req EmbedRequest) (*models.Embedding, error) {
	m.mu.Lock()
	m.embedCalls = append(m.embedCalls, req)
	failWith, latency := m.failWith, m.latency
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, NewTimeoutError(m.typeTag, ctx.Err().Error())
		}
	}
	if failWith != nil {
		return nil, failWith
	}

	info, ok := m.models[req.Model]
	if !ok {
		return nil, NewInvalidInputError(m.typeTag, fmt.Sprintf("unsupported model %q", req.Model))
	}
	if req.Text == "" {
		return nil, NewInvalidInputError(m.typeTag, "input text must not be empty")
	}

	mode := req.Mode
	if !mode.Valid() {
		mode = models.ModeOnlineRealtime
	}

	embedding, err := models.NewEmbedding(deterministicVector(req.Text, info.Dimensions), req.Model, mode, m.latency)
	if err != nil {
		return nil, NewInternalError(m.typeTag, err.Error())
	}
	return embedding.WithMetadata(models.NewVectorMetadata(req.Text).WithCost(m.costCents)), nil
}

// BatchGenerateEmbeddings embeds each text through GenerateEmbedding.
func (m *MockProvider) BatchGenerateEmbeddings(ctx context.Context, req BatchEmbedRequest) ([]*models.Embedding, error) {
	m.mu.Lock()
	m.batchEmbedCalls = append(m.batchEmbedCalls, req)
	m.mu.Unlock()

	out := make([]*models.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		embedding, err := m.GenerateEmbedding(ctx, EmbedRequest{
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

// SupportedModels lists the mock model table.
func (m *MockProvider) SupportedModels() []ModelInfo {
	out := make([]ModelInfo, 0, len(m.models))
	for _, info := range m.models {
		out = append(out, info)
	}
	return out
}

// DefaultModel returns the mock's default model.
func (m *MockProvider) DefaultModel() string { return m.defaultModel }

// SupportsModel reports whether the model is in the table.
func (m *MockProvider) SupportsModel(modelName string) bool {
	_, ok := m.models[modelName]
	return ok
}

// ModelDimension returns the dimension for a supported model.
func (m *MockProvider) ModelDimension(modelName string) (int, error) {
	info, ok := m.models[modelName]
	if !ok {
		return 0, NewInvalidInputError(m.typeTag, fmt.Sprintf("unsupported model %q", modelName))
	}
	return info.Dimensions, nil
}

// MaxInputLength returns the character limit for a supported model.
func (m *MockProvider) MaxInputLength(modelName string) (int, error) {
	info, ok := m.models[modelName]
	if !ok {
		return 0, NewInvalidInputError(m.typeTag, fmt.Sprintf("unsupported model %q", modelName))
	}
	return info.MaxInputLength, nil
}

// EstimateCost returns the configured cost.
func (m *MockProvider) EstimateCost(text, modelName string) int { return m.costCents }

// EstimateProcessingTime returns the configured estimate.
func (m *MockProvider) EstimateProcessingTime(text, modelName string) time.Duration {
	return m.estimatedTime
}

// CheckHealth returns the configured health.
func (m *MockProvider) CheckHealth(ctx context.Context) Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// SetHealth changes the reported health mid-test.
func (m *MockProvider) SetHealth(h Health) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = h
}

// Warmup is a no-op.
func (m *MockProvider) Warmup(ctx context.Context) error { return nil }

// Shutdown is a no-op.
func (m *MockProvider) Shutdown(ctx context.Context) error { return nil }

// EmbedCalls returns the recorded single-embed requests.
func (m *MockProvider) EmbedCalls() []EmbedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EmbedRequest, len(m.embedCalls))
	copy(out, m.embedCalls)
	return out
}

// BatchEmbedCalls returns the recorded batch requests.
func (m *MockProvider) BatchEmbedCalls() []BatchEmbedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BatchEmbedRequest, len(m.batchEmbedCalls))
	copy(out, m.batchEmbedCalls)
	return out
}

func deterministicVector(text string, dimension int) []float32 {
	data := make([]float32, dimension)
	var acc uint64 = 1469598103934665603
	for _, b := range []byte(text) {
		acc = (acc ^ uint64(b)) * 1099511628211
		data[acc%uint64(dimension)] += float32(acc%7) - 3
	}

	var norm float64
	for _, v := range data {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		data[0] = 1
		return data
	}
	mag := float32(math.Sqrt(norm))
	for i := range data {
		data[i] /= mag
	}
	return data
}
