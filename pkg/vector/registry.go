// Package vector is the provider-agnostic entry point of the embedding
// subsystem: the provider registry that picks a backend for each request and
// the engine that turns processing contexts into embeddings.
package vector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/S-Corkum/deepsearch/pkg/observability"
	"github.com/S-Corkum/deepsearch/pkg/vector/providers"
)

// SelectionStrategy picks among healthy providers when the caller pins
// neither a model nor a provider type.
type SelectionStrategy string

const (
	StrategyCostOptimized        SelectionStrategy = "cost_optimized"
	StrategyPerformanceOptimized SelectionStrategy = "performance_optimized"
	StrategyBalanced             SelectionStrategy = "balanced"
)

// Normalization ceilings for the balanced score.
const (
	balancedCostCeilingCents  = 100.0
	balancedLatencyCeilingMs  = 5000.0
	defaultSelectionSample    = "sample text for estimation"
)

// SelectionCriteria constrains provider selection for one request.
type SelectionCriteria struct {
	PreferredType  string
	PreferredModel string
	SampleText     string
	Strategy       SelectionStrategy
}

// Registry owns the configured providers and maps model names to them.
// Providers register explicitly at process startup; after that the maps are
// read-mostly and reads take no lock beyond the registration RWMutex.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]providers.Provider
	modelToType map[string]string
	logger      observability.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NewLogger("vector.registry")
	}
	return &Registry{
		providers:   make(map[string]providers.Provider),
		modelToType: make(map[string]string),
		logger:      logger,
	}
}

// Register adds a provider and maps all its models. Registering a second
// provider with the same type tag replaces the first.
func (r *Registry) Register(p providers.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[p.Type()] = p
	for _, m := range p.SupportedModels() {
		r.modelToType[m.Name] = p.Type()
	}

	r.logger.Info("registered embedding provider", map[string]interface{}{
		"provider": p.Name(),
		"type":     p.Type(),
		"models":   len(p.SupportedModels()),
	})
}

// Get returns the provider registered under the given type tag.
func (r *Registry) Get(typeTag string) (providers.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[typeTag]
	if !ok {
		return nil, providers.NewInvalidInputError("registry", fmt.Sprintf("unsupported provider type %q", typeTag))
	}
	return p, nil
}

// GetByModel returns the provider that serves the named model.
func (r *Registry) GetByModel(modelName string) (providers.Provider, error) {
	r.mu.RLock()
	typeTag, ok := r.modelToType[modelName]
	r.mu.RUnlock()

	if !ok {
		return nil, providers.NewInvalidInputError("registry", fmt.Sprintf("unsupported model %q", modelName))
	}
	return r.Get(typeTag)
}

// DefaultProvider prefers the local backend, then the remote API.
func (r *Registry) DefaultProvider() (providers.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.providers[providers.TypeLocal]; ok {
		return p, nil
	}
	if p, ok := r.providers[providers.TypeOpenAI]; ok {
		return p, nil
	}
	for _, p := range r.providers {
		return p, nil
	}
	return nil, providers.NewInternalError("registry", "no embedding providers registered")
}

// IsProviderAvailable probes the provider's live health.
func (r *Registry) IsProviderAvailable(ctx context.Context, typeTag string) bool {
	p, err := r.Get(typeTag)
	if err != nil {
		return false
	}
	return p.CheckHealth(ctx).Available()
}

// IsModelAvailable reports whether the model's provider is currently healthy.
func (r *Registry) IsModelAvailable(ctx context.Context, modelName string) bool {
	r.mu.RLock()
	typeTag, ok := r.modelToType[modelName]
	r.mu.RUnlock()
	return ok && r.IsProviderAvailable(ctx, typeTag)
}

// AvailableProviders returns the providers that pass a live health probe.
func (r *Registry) AvailableProviders(ctx context.Context) []providers.Provider {
	r.mu.RLock()
	all := make([]providers.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		all = append(all, p)
	}
	r.mu.RUnlock()

	out := make([]providers.Provider, 0, len(all))
	for _, p := range all {
		if p.CheckHealth(ctx).Available() {
			out = append(out, p)
		}
	}
	return out
}

// AvailableModels returns the models whose providers are currently healthy.
func (r *Registry) AvailableModels(ctx context.Context) []string {
	r.mu.RLock()
	mapping := make(map[string]string, len(r.modelToType))
	for model, typeTag := range r.modelToType {
		mapping[model] = typeTag
	}
	r.mu.RUnlock()

	healthy := make(map[string]bool)
	out := make([]string, 0, len(mapping))
	for model, typeTag := range mapping {
		if _, checked := healthy[typeTag]; !checked {
			healthy[typeTag] = r.IsProviderAvailable(ctx, typeTag)
		}
		if healthy[typeTag] {
			out = append(out, model)
		}
	}
	return out
}

// CheckAllHealth probes every registered provider.
func (r *Registry) CheckAllHealth(ctx context.Context) map[string]providers.Health {
	r.mu.RLock()
	all := make(map[string]providers.Provider, len(r.providers))
	for tag, p := range r.providers {
		all[tag] = p
	}
	r.mu.RUnlock()

	out := make(map[string]providers.Health, len(all))
	for tag, p := range all {
		out[tag] = p.CheckHealth(ctx)
	}
	return out
}

// SelectBest picks a provider for the criteria. A healthy preferred model
// wins, then a healthy preferred type, then the selection strategy over all
// healthy providers. With no healthy provider the request fails with a
// MODEL_UNAVAILABLE error.
func (r *Registry) SelectBest(ctx context.Context, criteria SelectionCriteria) (providers.Provider, error) {
	if criteria.SampleText == "" {
		criteria.SampleText = defaultSelectionSample
	}
	if criteria.Strategy == "" {
		criteria.Strategy = StrategyBalanced
	}

	if criteria.PreferredModel != "" {
		if p, err := r.GetByModel(criteria.PreferredModel); err == nil && p.CheckHealth(ctx).Available() {
			return p, nil
		}
	}
	if criteria.PreferredType != "" && r.IsProviderAvailable(ctx, criteria.PreferredType) {
		return r.Get(criteria.PreferredType)
	}

	available := r.AvailableProviders(ctx)
	if len(available) == 0 {
		return nil, providers.NewModelUnavailableError("registry", "no healthy embedding providers")
	}

	switch criteria.Strategy {
	case StrategyCostOptimized:
		return minBy(available, func(p providers.Provider) float64 {
			return float64(p.EstimateCost(criteria.SampleText, p.DefaultModel()))
		}), nil
	case StrategyPerformanceOptimized:
		return minBy(available, func(p providers.Provider) float64 {
			return float64(p.EstimateProcessingTime(criteria.SampleText, p.DefaultModel()))
		}), nil
	default:
		return minBy(available, func(p providers.Provider) float64 {
			return balancedScore(p, criteria.SampleText)
		}), nil
	}
}

// WarmupAll warms every registered provider, returning the first failure.
func (r *Registry) WarmupAll(ctx context.Context) error {
	r.mu.RLock()
	all := make([]providers.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		all = append(all, p)
	}
	r.mu.RUnlock()

	for _, p := range all {
		if err := p.Warmup(ctx); err != nil {
			return fmt.Errorf("warmup of %s failed: %w", p.Type(), err)
		}
	}
	return nil
}

// ShutdownAll shuts down every registered provider, keeping going on errors.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.RLock()
	all := make([]providers.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		all = append(all, p)
	}
	r.mu.RUnlock()

	for _, p := range all {
		if err := p.Shutdown(ctx); err != nil {
			r.logger.Warn("provider shutdown failed", map[string]interface{}{
				"provider": p.Type(),
				"error":    err.Error(),
			})
		}
	}
}

func balancedScore(p providers.Provider, sampleText string) float64 {
	cost := float64(p.EstimateCost(sampleText, p.DefaultModel()))
	latency := float64(p.EstimateProcessingTime(sampleText, p.DefaultModel()) / time.Millisecond)

	normCost := cost / balancedCostCeilingCents
	if normCost > 1 {
		normCost = 1
	}
	normLatency := latency / balancedLatencyCeilingMs
	if normLatency > 1 {
		normLatency = 1
	}
	return 0.5*normCost + 0.5*normLatency
}

func minBy(items []providers.Provider, score func(providers.Provider) float64) providers.Provider {
	best := items[0]
	bestScore := score(best)
	for _, item := range items[1:] {
		if s := score(item); s < bestScore {
			best, bestScore = item, s
		}
	}
	return best
}
