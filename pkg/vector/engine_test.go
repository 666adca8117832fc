package vector

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type engineFixture struct {
	engine    *Engine
	registry  *Registry
	provider  *providers.MockProvider
	cache     *cache.VectorCache
	collector *metrics.Collector
	queue     *queue.TaskQueue
}

func newEngineFixture(t *testing.T, cfg EngineConfig, opts ...providers.MockOption) *engineFixture {
	t.Helper()
	logger := observability.NewNoopLogger()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	vc := cache.NewVectorCache(client, cache.DefaultConfig(), logger)

	registry := NewRegistry(logger)
	provider := providers.NewMockProvider("mock", opts...)
	registry.Register(provider)

	q := queue.NewTaskQueue(queue.DefaultConfig(), logger)
	collector := metrics.NewCollector(q.Size, nil, logger)
	selector := strategy.NewSelector(strategy.DefaultConfig())

	engine := NewEngine(registry, vc, collector, selector, q, cfg, logger)
	return &engineFixture{
		engine:    engine,
		registry:  registry,
		provider:  provider,
		cache:     vc,
		collector: collector,
		queue:     q,
	}
}

func TestProcessDocument(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())
	ctx := context.Background()

	pc := models.NewProcessingContext("the quick brown fox")
	emb, err := f.engine.ProcessDocument(ctx, pc)
	require.NoError(t, err)
	require.NotNil(t, emb)
	assert.Equal(t, f.provider.DefaultModel(), emb.ModelName)
	assert.Equal(t, len(emb.Data), emb.Dimension)

	m := f.engine.Metrics()
	assert.Equal(t, int64(1), m.TotalRequests)
	assert.Equal(t, int64(1), m.SuccessfulRequests)
}

func TestProcessDocumentUsesCache(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())
	ctx := context.Background()

	first, err := f.engine.ProcessDocument(ctx, models.NewProcessingContext("cache me"))
	require.NoError(t, err)

	second, err := f.engine.ProcessDocument(ctx, models.NewProcessingContext("cache me"))
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)

	// Only the first request reached the provider.
	assert.Len(t, f.provider.EmbedCalls(), 1)

	stats, err := f.engine.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestProcessDocumentValidation(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())
	ctx := context.Background()

	_, err := f.engine.ProcessDocument(ctx, nil)
	assert.Equal(t, providers.ErrCodeInvalidInput, providers.ErrorCode(err))

	_, err = f.engine.ProcessDocument(ctx, models.NewProcessingContext(""))
	assert.Equal(t, providers.ErrCodeInvalidInput, providers.ErrorCode(err))
}

func TestProcessDocumentNoHealthyProvider(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())
	f.provider.SetHealth(providers.HealthUnhealthy)

	_, err := f.engine.ProcessDocument(context.Background(), models.NewProcessingContext("text"))
	assert.Equal(t, providers.ErrCodeModelUnavailable, providers.ErrorCode(err))
	assert.Equal(t, int64(1), f.engine.Metrics().FailedRequests)
}

func TestProcessDocumentsPreservesOrder(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())
	ctx := context.Background()

	pcs := []*models.ProcessingContext{
		models.NewProcessingContext("alpha"),
		models.NewProcessingContext("beta"),
		models.NewProcessingContext("gamma"),
	}
	embs, err := f.engine.ProcessDocuments(ctx, pcs)
	require.NoError(t, err)
	require.Len(t, embs, 3)

	// Each text deterministically maps to its own vector.
	solo, err := f.engine.ProcessQuery(ctx, "beta", models.ModeOnlineRealtime)
	require.NoError(t, err)
	assert.Equal(t, solo.Data, embs[1].Data)
}

func TestProcessDocumentsUsesProviderBatchCall(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())
	ctx := context.Background()

	pcs := []*models.ProcessingContext{
		models.NewProcessingContext("alpha"),
		models.NewProcessingContext("beta"),
		models.NewProcessingContext("gamma"),
	}
	embs, err := f.engine.ProcessDocuments(ctx, pcs)
	require.NoError(t, err)
	require.Len(t, embs, 3)

	batches := f.provider.BatchEmbedCalls()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, batches[0].Texts)
	assert.Equal(t, models.ModeOfflineBatch, batches[0].Mode)
	for _, emb := range embs {
		assert.Equal(t, models.ModeOfflineBatch, emb.ProcessingMode)
	}
}

func TestProcessDocumentsChunksBatchCalls(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MaxBatchCallSize = 2
	f := newEngineFixture(t, cfg)

	pcs := []*models.ProcessingContext{
		models.NewProcessingContext("one"),
		models.NewProcessingContext("two"),
		models.NewProcessingContext("three"),
		models.NewProcessingContext("four"),
		models.NewProcessingContext("five"),
	}
	embs, err := f.engine.ProcessDocuments(context.Background(), pcs)
	require.NoError(t, err)
	require.Len(t, embs, 5)

	batches := f.provider.BatchEmbedCalls()
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Texts, 2)
	assert.Len(t, batches[1].Texts, 2)
	assert.Len(t, batches[2].Texts, 1)
}

func TestProcessDocumentsCacheHitsSkipBatchCall(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())
	ctx := context.Background()

	_, err := f.engine.ProcessDocument(ctx, models.NewProcessingContext("warm"))
	require.NoError(t, err)

	pcs := []*models.ProcessingContext{
		models.NewProcessingContext("warm"),
		models.NewProcessingContext("cold"),
	}
	embs, err := f.engine.ProcessDocuments(ctx, pcs)
	require.NoError(t, err)
	require.Len(t, embs, 2)

	batches := f.provider.BatchEmbedCalls()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"cold"}, batches[0].Texts)
}

func TestProcessDocumentsPinnedOrUrgentStaySingle(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())
	ctx := context.Background()

	pinned := models.NewProcessingContext("pinned text")
	pinned.PreferredModel = f.provider.DefaultModel()
	urgent := models.NewProcessingContext("urgent text")
	urgent.Urgent = true
	urgent.RequestedMode = models.ModeOnlineRealtime

	embs, err := f.engine.ProcessDocuments(ctx, []*models.ProcessingContext{pinned, urgent})
	require.NoError(t, err)
	require.Len(t, embs, 2)

	assert.Empty(t, f.provider.BatchEmbedCalls())
	assert.Len(t, f.provider.EmbedCalls(), 2)
}

func TestProcessQueryDefaultsToRealtime(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())

	emb, err := f.engine.ProcessQuery(context.Background(), "what is a vector", "")
	require.NoError(t, err)
	assert.Equal(t, models.ModeOnlineRealtime, emb.ProcessingMode)
}

func TestEnqueueAndExecuteTask(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Resolver = func(_ context.Context, documentID string) (string, error) {
		return "content of " + documentID, nil
	}
	f := newEngineFixture(t, cfg)

	task, err := f.engine.EnqueueDocument("doc-1", models.TaskTypeInitial, models.DefaultTaskPriority)
	require.NoError(t, err)
	assert.Equal(t, 1, f.engine.QueueSize())

	got := f.queue.NextTask()
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)

	require.NoError(t, f.engine.ExecuteTask(context.Background(), got))
	assert.Len(t, f.provider.EmbedCalls(), 1)
}

func TestExecuteTaskChunksLongDocuments(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Resolver = func(_ context.Context, _ string) (string, error) {
		return strings.Repeat("alpha bravo charlie delta echo foxtrot. ", 6), nil
	}
	cfg.Preprocessor = preprocess.New(preprocess.Config{
		MaxChunkSize: 60,
		ChunkOverlap: 0,
		MinChunkSize: 5,
	}, observability.NewNoopLogger())
	cfg.Quality = quality.NewEvaluator(quality.DefaultConfig(), observability.NewNoopLogger())
	f := newEngineFixture(t, cfg)

	task := models.NewTask("doc-long", models.TaskTypeInitial, models.DefaultTaskPriority)
	require.NoError(t, f.engine.ExecuteTask(context.Background(), task))

	// The document splits into several chunks that travel through one
	// provider batch call.
	batches := f.provider.BatchEmbedCalls()
	require.Len(t, batches, 1)
	assert.Greater(t, len(batches[0].Texts), 1)
}

func TestExecuteTaskShortContentEmbedsWhole(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Resolver = func(_ context.Context, _ string) (string, error) {
		return "short note", nil
	}
	cfg.Preprocessor = preprocess.New(preprocess.DefaultConfig(), observability.NewNoopLogger())
	f := newEngineFixture(t, cfg)

	task := models.NewTask("doc-short", models.TaskTypeInitial, models.DefaultTaskPriority)
	require.NoError(t, f.engine.ExecuteTask(context.Background(), task))

	assert.Empty(t, f.provider.BatchEmbedCalls())
	require.Len(t, f.provider.EmbedCalls(), 1)
	assert.Equal(t, "short note", f.provider.EmbedCalls()[0].Text)
}

func TestExecuteQualityCheckTask(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Resolver = func(_ context.Context, documentID string) (string, error) {
		return "content of " + documentID, nil
	}
	cfg.Quality = quality.NewEvaluator(quality.DefaultConfig(), observability.NewNoopLogger())
	f := newEngineFixture(t, cfg)

	task := models.NewTask("doc-1", models.TaskTypeQualityCheck, models.DefaultTaskPriority)
	require.NoError(t, f.engine.ExecuteTask(context.Background(), task))
	assert.Len(t, f.provider.EmbedCalls(), 1)
}

func TestExecuteQualityCheckWithoutEvaluator(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Resolver = func(_ context.Context, documentID string) (string, error) {
		return "content of " + documentID, nil
	}
	f := newEngineFixture(t, cfg)

	task := models.NewTask("doc-1", models.TaskTypeQualityCheck, models.DefaultTaskPriority)
	err := f.engine.ExecuteTask(context.Background(), task)
	assert.Equal(t, providers.ErrCodeInternal, providers.ErrorCode(err))
}

func TestExecuteTaskWithoutResolver(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())

	task := models.NewTask("doc-1", models.TaskTypeInitial, models.DefaultTaskPriority)
	err := f.engine.ExecuteTask(context.Background(), task)
	assert.Equal(t, providers.ErrCodeInternal, providers.ErrorCode(err))
}

func TestCheckHealthAggregation(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())
	ctx := context.Background()

	assert.Equal(t, providers.HealthHealthy, f.engine.CheckHealth(ctx))

	second := providers.NewMockProvider("down", providers.WithMockHealth(providers.HealthUnhealthy)).WithTypeTag("second")
	f.registry.Register(second)
	assert.Equal(t, providers.HealthDegraded, f.engine.CheckHealth(ctx))

	f.provider.SetHealth(providers.HealthUnhealthy)
	assert.Equal(t, providers.HealthUnhealthy, f.engine.CheckHealth(ctx))
}

func TestModelCapabilities(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())

	model := f.provider.DefaultModel()
	assert.True(t, f.engine.SupportsModel(model))
	assert.False(t, f.engine.SupportsModel("no-such-model"))
	assert.Greater(t, f.engine.ModelDimension(model), 0)
	assert.Equal(t, -1, f.engine.ModelDimension("no-such-model"))
	assert.Contains(t, f.engine.SupportedModels(context.Background()), model)
}

func TestResetMetrics(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())

	_, err := f.engine.ProcessDocument(context.Background(), models.NewProcessingContext("text"))
	require.NoError(t, err)
	require.Equal(t, int64(1), f.engine.Metrics().TotalRequests)

	f.engine.ResetMetrics()
	assert.Zero(t, f.engine.Metrics().TotalRequests)
}

func TestContextTimeoutRejectedUpfront(t *testing.T) {
	f := newEngineFixture(t, DefaultEngineConfig())

	pc := models.NewProcessingContext("text")
	pc.Timeout = time.Millisecond
	pc.CreatedAt = time.Now().Add(-time.Second)

	_, err := f.engine.ProcessDocument(context.Background(), pc)
	assert.Equal(t, providers.ErrCodeTimeout, providers.ErrorCode(err))
}
