package vector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/S-Corkum/deepsearch/pkg/models"
	"github.com/S-Corkum/deepsearch/pkg/observability"
	"github.com/S-Corkum/deepsearch/pkg/vector/cache"
	"github.com/S-Corkum/deepsearch/pkg/vector/metrics"
	"github.com/S-Corkum/deepsearch/pkg/vector/preprocess"
	"github.com/S-Corkum/deepsearch/pkg/vector/providers"
	"github.com/S-Corkum/deepsearch/pkg/vector/quality"
	"github.com/S-Corkum/deepsearch/pkg/vector/queue"
	"github.com/S-Corkum/deepsearch/pkg/vector/strategy"
)

// ContentResolver loads document content for queued tasks.
type ContentResolver func(ctx context.Context, documentID string) (string, error)

// EngineConfig tunes the engine's request path.
type EngineConfig struct {
	// SelectionStrategy picks among providers when the request does not
	// pin a model.
	SelectionStrategy SelectionStrategy

	// CacheTTL is the lifetime of cached embeddings.
	CacheTTL time.Duration

	// MaxBatchConcurrency bounds parallel provider calls in
	// ProcessDocuments.
	MaxBatchConcurrency int

	// MaxBatchCallSize caps the number of texts sent in one provider
	// batch call.
	MaxBatchCallSize int

	// Resolver loads content for tasks executed off the queue.
	Resolver ContentResolver

	// Preprocessor cleans and chunks task content before embedding.
	// Optional; without it tasks embed their raw content whole.
	Preprocessor *preprocess.Preprocessor

	// Quality scores embeddings produced by queued tasks. Optional.
	Quality *quality.Evaluator
}

// DefaultEngineConfig returns the standard engine tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SelectionStrategy:   StrategyBalanced,
		CacheTTL:            24 * time.Hour,
		MaxBatchConcurrency: 4,
		MaxBatchCallSize:    32,
	}
}

// Engine is the front door of the embedding subsystem. It resolves the
// processing mode, picks a provider, consults the vector cache and records
// metrics for every request.
type Engine struct {
	registry  *Registry
	cache     *cache.VectorCache
	collector *metrics.Collector
	selector  *strategy.Selector
	queue     *queue.TaskQueue
	config    EngineConfig
	logger    observability.Logger
}

// NewEngine wires the engine. The cache may be nil to run uncached.
func NewEngine(registry *Registry, vectorCache *cache.VectorCache, collector *metrics.Collector, selector *strategy.Selector, taskQueue *queue.TaskQueue, config EngineConfig, logger observability.Logger) *Engine {
	if config.SelectionStrategy == "" {
		config.SelectionStrategy = StrategyBalanced
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultEngineConfig().CacheTTL
	}
	if config.MaxBatchConcurrency <= 0 {
		config.MaxBatchConcurrency = DefaultEngineConfig().MaxBatchConcurrency
	}
	if config.MaxBatchCallSize <= 0 {
		config.MaxBatchCallSize = DefaultEngineConfig().MaxBatchCallSize
	}
	if logger == nil {
		logger = observability.NewLogger("vector.engine")
	}
	return &Engine{
		registry:  registry,
		cache:     vectorCache,
		collector: collector,
		selector:  selector,
		queue:     taskQueue,
		config:    config,
		logger:    logger,
	}
}

// ProcessDocument generates an embedding for one processing context,
// resolving the effective mode, probing the cache and recording metrics.
func (e *Engine) ProcessDocument(ctx context.Context, pc *models.ProcessingContext) (*models.Embedding, error) {
	if pc == nil {
		return nil, providers.NewInvalidInputError("engine", "nil processing context")
	}
	if err := pc.Validate(); err != nil {
		return nil, providers.NewInvalidInputError("engine", err.Error())
	}
	if pc.TimedOut() {
		return nil, providers.NewTimeoutError("engine", "processing context deadline exceeded")
	}

	mode := e.resolveMode(pc)

	provider, err := e.registry.SelectBest(ctx, SelectionCriteria{
		PreferredModel: pc.PreferredModel,
		SampleText:     pc.Content,
		Strategy:       e.config.SelectionStrategy,
	})
	if err != nil {
		e.collector.RecordFailure(mode, 0, 0)
		return nil, err
	}

	model := provider.DefaultModel()
	if pc.PreferredModel != "" && provider.SupportsModel(pc.PreferredModel) {
		model = pc.PreferredModel
	}

	dimension, err := provider.ModelDimension(model)
	if err != nil {
		dimension = 0
	}
	key := cache.Key(model, pc.Content, dimension)
	if e.cache != nil {
		if cached, err := e.cache.Get(ctx, key); err == nil {
			e.collector.RecordSuccess(mode, 0, 0)
			return cached, nil
		}
	}

	if remaining := pc.RemainingTimeout(); remaining > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, remaining)
		defer cancel()
	}

	start := time.Now()
	emb, err := provider.GenerateEmbedding(ctx, providers.EmbedRequest{
		Text:      pc.Content,
		Model:     model,
		Mode:      mode,
		RequestID: pc.RequestID,
	})
	took := time.Since(start)

	if err != nil {
		e.collector.RecordFailure(mode, took, 0)
		e.logger.Warn("embedding generation failed", map[string]interface{}{
			"request_id": pc.RequestID,
			"provider":   provider.Type(),
			"model":      model,
			"error":      err.Error(),
		})
		return nil, err
	}

	cost := provider.EstimateCost(pc.Content, model)
	emb.ProcessingMode = mode
	emb.ProcessingTimeMs = took.Milliseconds()
	e.collector.RecordSuccess(mode, took, int64(cost))

	if e.cache != nil {
		if err := e.cache.Put(ctx, key, emb, e.config.CacheTTL); err != nil {
			e.logger.Debug("cache put failed", map[string]interface{}{
				"request_id": pc.RequestID,
				"error":      err.Error(),
			})
		}
	}
	return emb, nil
}

// ProcessDocuments embeds several contexts. Contexts with no pinned model
// and no urgency share one provider and go through its batch call; the
// rest run through ProcessDocument with bounded concurrency. Results align
// with the input; the first error cancels the remainder.
func (e *Engine) ProcessDocuments(ctx context.Context, pcs []*models.ProcessingContext) ([]*models.Embedding, error) {
	out := make([]*models.Embedding, len(pcs))

	var batched, single []int
	for i, pc := range pcs {
		if e.batchable(pc) {
			batched = append(batched, i)
		} else {
			single = append(single, i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxBatchConcurrency)
	for _, i := range single {
		i := i
		g.Go(func() error {
			emb, err := e.ProcessDocument(gctx, pcs[i])
			if err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			out[i] = emb
			return nil
		})
	}
	if len(batched) > 0 {
		g.Go(func() error {
			return e.processBatched(gctx, pcs, batched, out)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// batchable reports whether a context can share the provider batch path:
// no pinned model, not urgent, and a mode that tolerates batching.
func (e *Engine) batchable(pc *models.ProcessingContext) bool {
	if pc == nil || pc.PreferredModel != "" || pc.Urgent {
		return false
	}
	return pc.RequestedMode.IsAuto() || pc.RequestedMode.IsBatch()
}

// processBatched serves cache hits for the given indices and sends the
// misses through the provider's batch call in chunks of MaxBatchCallSize.
func (e *Engine) processBatched(ctx context.Context, pcs []*models.ProcessingContext, idx []int, out []*models.Embedding) error {
	for _, i := range idx {
		if err := pcs[i].Validate(); err != nil {
			return fmt.Errorf("document %d: %w", i, providers.NewInvalidInputError("engine", err.Error()))
		}
	}

	provider, err := e.registry.SelectBest(ctx, SelectionCriteria{
		SampleText: pcs[idx[0]].Content,
		Strategy:   e.config.SelectionStrategy,
	})
	if err != nil {
		e.collector.RecordFailure(models.ModeOfflineBatch, 0, 0)
		return err
	}
	model := provider.DefaultModel()
	dimension, err := provider.ModelDimension(model)
	if err != nil {
		dimension = 0
	}

	var misses []int
	for _, i := range idx {
		if e.cache != nil {
			key := cache.Key(model, pcs[i].Content, dimension)
			if cached, err := e.cache.Get(ctx, key); err == nil {
				e.collector.RecordSuccess(models.ModeOfflineBatch, 0, 0)
				out[i] = cached
				continue
			}
		}
		misses = append(misses, i)
	}

	for start := 0; start < len(misses); start += e.config.MaxBatchCallSize {
		end := start + e.config.MaxBatchCallSize
		if end > len(misses) {
			end = len(misses)
		}
		chunk := misses[start:end]
		texts := make([]string, len(chunk))
		for j, i := range chunk {
			texts[j] = pcs[i].Content
		}

		began := time.Now()
		embs, err := provider.BatchGenerateEmbeddings(ctx, providers.BatchEmbedRequest{
			Texts:     texts,
			Model:     model,
			Mode:      models.ModeOfflineBatch,
			RequestID: pcs[chunk[0]].RequestID,
		})
		took := time.Since(began)
		if err != nil {
			e.collector.RecordFailure(models.ModeOfflineBatch, took, 0)
			e.logger.Warn("batch embedding generation failed", map[string]interface{}{
				"provider": provider.Type(),
				"model":    model,
				"size":     len(chunk),
				"error":    err.Error(),
			})
			return err
		}
		if len(embs) != len(chunk) {
			return providers.NewInternalError(provider.Type(),
				fmt.Sprintf("batch returned %d embeddings for %d texts", len(embs), len(chunk)))
		}

		perItem := took / time.Duration(len(chunk))
		for j, i := range chunk {
			emb := embs[j]
			emb.ProcessingMode = models.ModeOfflineBatch
			cost := provider.EstimateCost(pcs[i].Content, model)
			e.collector.RecordSuccess(models.ModeOfflineBatch, perItem, int64(cost))
			if e.cache != nil {
				key := cache.Key(model, pcs[i].Content, dimension)
				if err := e.cache.Put(ctx, key, emb, e.config.CacheTTL); err != nil {
					e.logger.Debug("cache put failed", map[string]interface{}{
						"request_id": pcs[i].RequestID,
						"error":      err.Error(),
					})
				}
			}
			out[i] = emb
		}
	}
	return nil
}

// ProcessQuery embeds a search query. Queries default to realtime mode.
func (e *Engine) ProcessQuery(ctx context.Context, query string, mode models.ProcessingMode) (*models.Embedding, error) {
	if mode == "" {
		mode = models.ModeOnlineRealtime
	}
	pc := models.NewProcessingContext(query)
	pc.RequestedMode = mode
	pc.Urgent = mode.IsRealtime()
	return e.ProcessDocument(ctx, pc)
}

// EnqueueDocument defers a document to the task queue for batch processing.
func (e *Engine) EnqueueDocument(documentID string, taskType models.TaskType, priority int) (*models.Task, error) {
	if e.queue == nil {
		return nil, providers.NewInternalError("engine", "no task queue configured")
	}
	task := models.NewTask(documentID, taskType, priority)
	if err := e.queue.Submit(task); err != nil {
		return nil, err
	}
	return task, nil
}

// ExecuteTask resolves a queued task's content and embeds it. It is the
// scheduler's executor. Long content is cleaned and chunked when a
// preprocessor is configured; quality-check tasks re-embed and score the
// document instead.
func (e *Engine) ExecuteTask(ctx context.Context, task *models.Task) error {
	if e.config.Resolver == nil {
		return providers.NewInternalError("engine", "no content resolver configured")
	}
	content, err := e.config.Resolver(ctx, task.DocumentID)
	if err != nil {
		return fmt.Errorf("resolve document %s: %w", task.DocumentID, err)
	}

	if task.Type == models.TaskTypeQualityCheck {
		return e.runQualityCheck(ctx, task, content)
	}

	if e.config.Preprocessor != nil {
		chunks := e.config.Preprocessor.Preprocess(content)
		switch {
		case len(chunks) > 1:
			return e.embedChunks(ctx, task, chunks)
		case len(chunks) == 1:
			content = chunks[0]
		}
	}

	pc := models.NewProcessingContext(content)
	pc.DocumentID = task.DocumentID
	pc.RequestedMode = models.ModeOfflineBatch
	_, err = e.ProcessDocument(ctx, pc)
	return err
}

// embedChunks embeds every chunk of a document, tagging each embedding
// with its position so downstream consumers can reassemble the document.
func (e *Engine) embedChunks(ctx context.Context, task *models.Task, chunks []string) error {
	pcs := make([]*models.ProcessingContext, len(chunks))
	for i, chunk := range chunks {
		pc := models.NewProcessingContext(chunk)
		pc.DocumentID = task.DocumentID
		pc.RequestedMode = models.ModeOfflineBatch
		pcs[i] = pc
	}

	embs, err := e.ProcessDocuments(ctx, pcs)
	if err != nil {
		return fmt.Errorf("embed chunks of document %s: %w", task.DocumentID, err)
	}
	for i := range embs {
		embs[i] = embs[i].WithMetadata(models.NewChunkMetadata(chunks[i], i, len(chunks), task.DocumentID))
	}

	if e.config.Quality != nil {
		report := e.config.Quality.AssessBatch(embs)
		if report.Valid < report.Total {
			e.logger.Warn("chunk embeddings below quality bar", map[string]interface{}{
				"document_id": task.DocumentID,
				"total":       report.Total,
				"valid":       report.Valid,
				"avg_score":   report.AverageScore,
			})
		}
	}
	return nil
}

// runQualityCheck embeds the document and fails the task when the result
// does not pass the quality evaluator.
func (e *Engine) runQualityCheck(ctx context.Context, task *models.Task, content string) error {
	if e.config.Quality == nil {
		return providers.NewInternalError("engine", "no quality evaluator configured")
	}

	pc := models.NewProcessingContext(content)
	pc.DocumentID = task.DocumentID
	pc.RequestedMode = models.ModeOfflineBatch
	emb, err := e.ProcessDocument(ctx, pc)
	if err != nil {
		return err
	}

	assessment := e.config.Quality.Assess(emb)
	if !assessment.Valid {
		return providers.NewInternalError("engine",
			fmt.Sprintf("document %s failed quality check: %s", task.DocumentID, strings.Join(assessment.Issues, "; ")))
	}
	return nil
}

// resolveMode applies the mode-switch strategy to the request.
func (e *Engine) resolveMode(pc *models.ProcessingContext) models.ProcessingMode {
	var maxLatency time.Duration
	if pc.Timeout > 0 {
		maxLatency = pc.Timeout
	}
	snapshot := e.collector.Snapshot(models.ModeAutoSwitch)
	return e.selector.DetermineOptimalMode(strategy.Request{
		RequestedMode: pc.RequestedMode,
		Priority:      models.DefaultTaskPriority,
		Urgent:        pc.Urgent,
		MaxLatency:    maxLatency,
	}, snapshot)
}

// Metrics returns the engine-wide metrics snapshot.
func (e *Engine) Metrics() models.ProcessingMetrics {
	return e.collector.Snapshot(models.ModeAutoSwitch)
}

// ResetMetrics zeroes all counters.
func (e *Engine) ResetMetrics() {
	e.collector.Reset()
}

// CheckHealth reports aggregate engine health: healthy when any provider
// is available, degraded when some are down, unhealthy when all are.
func (e *Engine) CheckHealth(ctx context.Context) providers.Health {
	statuses := e.registry.CheckAllHealth(ctx)
	if len(statuses) == 0 {
		return providers.HealthUnknown
	}

	available := 0
	for _, h := range statuses {
		if h.Available() {
			available++
		}
	}
	switch {
	case available == len(statuses):
		return providers.HealthHealthy
	case available > 0:
		return providers.HealthDegraded
	default:
		return providers.HealthUnhealthy
	}
}

// Warmup warms every provider.
func (e *Engine) Warmup(ctx context.Context) error {
	return e.registry.WarmupAll(ctx)
}

// Shutdown stops all providers.
func (e *Engine) Shutdown(ctx context.Context) {
	e.registry.ShutdownAll(ctx)
}

// SupportedModels lists models across currently healthy providers.
func (e *Engine) SupportedModels(ctx context.Context) []string {
	return e.registry.AvailableModels(ctx)
}

// SupportsModel reports whether any registered provider serves the model.
func (e *Engine) SupportsModel(modelName string) bool {
	_, err := e.registry.GetByModel(modelName)
	return err == nil
}

// ModelDimension returns the model's vector dimension, -1 when unknown.
func (e *Engine) ModelDimension(modelName string) int {
	p, err := e.registry.GetByModel(modelName)
	if err != nil {
		return -1
	}
	dim, err := p.ModelDimension(modelName)
	if err != nil {
		return -1
	}
	return dim
}

// QueueSize reports pending task count, zero without a queue.
func (e *Engine) QueueSize() int {
	if e.queue == nil {
		return 0
	}
	return e.queue.Size()
}

// CacheStats surfaces vector cache effectiveness.
func (e *Engine) CacheStats(ctx context.Context) (cache.Stats, error) {
	if e.cache == nil {
		return cache.Stats{}, errors.New("no cache configured")
	}
	return e.cache.Stats(ctx)
}
