// Package main is the entry point for the vector processing service
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/S-Corkum/deepsearch/internal/config"
	"github.com/S-Corkum/deepsearch/pkg/models"
	"github.com/S-Corkum/deepsearch/pkg/observability"
	"github.com/S-Corkum/deepsearch/pkg/vector"
	"github.com/S-Corkum/deepsearch/pkg/vector/cache"
	"github.com/S-Corkum/deepsearch/pkg/vector/metrics"
	"github.com/S-Corkum/deepsearch/pkg/vector/preprocess"
	"github.com/S-Corkum/deepsearch/pkg/vector/providers"
	"github.com/S-Corkum/deepsearch/pkg/vector/quality"
	"github.com/S-Corkum/deepsearch/pkg/vector/queue"
	"github.com/S-Corkum/deepsearch/pkg/vector/scheduler"
	"github.com/S-Corkum/deepsearch/pkg/vector/strategy"
)

var (
	// Version information (set via ldflags during build)
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var showVersion = flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vectord\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n",
			version, buildTime, gitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLoggerWithLevel("vectord", observability.ParseLogLevel(cfg.Service.LogLevel))
	logger.Info("Starting vector processing service", map[string]interface{}{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Vector cache on Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Address,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.Database,
		MaxRetries:  cfg.Redis.MaxRetries,
		DialTimeout: cfg.Redis.DialTimeout,
		PoolSize:    cfg.Redis.PoolSize,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close redis client", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, cache degrades to miss", map[string]interface{}{
			"address": cfg.Redis.Address,
			"error":   err.Error(),
		})
	}
	vectorCache := cache.NewVectorCache(redisClient, cache.Config{
		Enabled:    cfg.Cache.Enabled,
		DefaultTTL: cfg.Cache.DefaultTTL,
	}, logger)

	// Embedding providers
	registry := vector.NewRegistry(logger)
	if cfg.Providers.Local.Enabled {
		registry.Register(providers.NewLocalModelProvider(providers.LocalModelConfig{
			DefaultModel: cfg.Providers.Local.DefaultModel,
		}, logger))
	}
	if cfg.Providers.OpenAI.Enabled {
		openai, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:              cfg.Providers.OpenAI.APIKey,
			Endpoint:            cfg.Providers.OpenAI.BaseURL,
			RequestTimeout:      cfg.Providers.OpenAI.RequestTimeout,
			RateLimitRPM:        cfg.Providers.OpenAI.RateLimitRPM,
			MaxTransportRetries: cfg.Providers.OpenAI.RetryAttempts,
			RetryDelayBase:      cfg.Providers.OpenAI.RetryDelay,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to create openai provider: %v", err)
		}
		registry.Register(openai)
	}

	// Task queue and metrics
	taskQueue := queue.NewTaskQueue(queue.Config{
		MaxQueueSize: cfg.TaskQueue.MaxQueueSize,
		MaxRetries:   cfg.TaskQueue.MaxRetries,
		RetryDelay:   cfg.TaskQueue.RetryDelay,
	}, logger)
	// System load reads as dispatch utilization: in-flight tasks over the
	// scheduler's per-tick batch capacity.
	loadSampler := func() float64 {
		return taskQueue.Utilization(cfg.Scheduler.BatchSize)
	}
	collector := metrics.NewCollector(taskQueue.Size, loadSampler, logger)

	selector := strategy.NewSelector(strategy.Config{
		AutoSwitchEnabled:    cfg.ModeSwitching.AutoSwitchEnabled,
		CostThresholdCents:   cfg.ModeSwitching.CostThresholdCents,
		LatencyThresholdMs:   cfg.ModeSwitching.LatencyThresholdMs,
		QueueThreshold:       cfg.ModeSwitching.QueueSizeThreshold,
		LoadThreshold:        cfg.ModeSwitching.LoadThreshold,
		RealtimePriorityBand: cfg.ModeSwitching.RealtimePriorityBand,
		MinSwitchInterval:    cfg.ModeSwitching.MinSwitchInterval,
	})

	// Queued tasks reference documents by ID; content lives in Redis under
	// document:<id>, written there by the ingestion side.
	resolver := func(ctx context.Context, documentID string) (string, error) {
		content, err := redisClient.Get(ctx, "document:"+documentID).Result()
		if err == redis.Nil {
			return "", fmt.Errorf("document %s not found", documentID)
		}
		return content, err
	}

	preprocessor := preprocess.New(preprocess.Config{
		MaxChunkSize:    cfg.Preprocessing.MaxChunkSize,
		ChunkOverlap:    cfg.Preprocessing.ChunkOverlap,
		MinChunkSize:    cfg.Preprocessing.MinChunkSize,
		RemoveStopWords: cfg.Preprocessing.RemoveStopWords,
	}, logger)
	evaluator := quality.NewEvaluator(quality.Config{
		MinMagnitude:        cfg.Quality.MinMagnitude,
		MaxMagnitude:        cfg.Quality.MaxMagnitude,
		SimilarityThreshold: cfg.Quality.SimilarityThreshold,
		VarianceThreshold:   cfg.Quality.VarianceThreshold,
	}, logger)

	engine := vector.NewEngine(registry, vectorCache, collector, selector, taskQueue, vector.EngineConfig{
		SelectionStrategy: vector.SelectionStrategy(cfg.Service.SelectionPolicy),
		CacheTTL:          cfg.Cache.DefaultTTL,
		Resolver:          resolver,
		Preprocessor:      preprocessor,
		Quality:           evaluator,
	}, logger)

	if err := engine.Warmup(ctx); err != nil {
		logger.Warn("Provider warmup failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	sched := scheduler.New(scheduler.Config{
		TickInterval:         cfg.Scheduler.TickInterval,
		MonitorInterval:      cfg.Scheduler.MonitorInterval,
		HealthInterval:       cfg.Scheduler.HealthInterval,
		BatchSize:            cfg.Scheduler.BatchSize,
		MaxConcurrentChunks:  cfg.Scheduler.MaxConcurrentChunks,
		RealtimePriorityBand: cfg.ModeSwitching.RealtimePriorityBand,
	}, taskQueue, engine, selector, collector, logger)

	if mode, err := models.ParseProcessingMode(cfg.Service.DefaultMode); err == nil {
		sched.SwitchMode(mode)
	} else {
		logger.Warn("Unknown default mode, staying on auto", map[string]interface{}{
			"configured": cfg.Service.DefaultMode,
		})
	}

	collector.Start()
	taskQueue.Start()
	sched.Start()

	logger.Info("Vector processing service started", map[string]interface{}{
		"mode":   string(sched.Mode()),
		"cache":  cfg.Cache.Enabled,
		"redis":  cfg.Redis.Address,
		"models": engine.SupportedModels(ctx),
	})

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down", map[string]interface{}{
		"signal": sig.String(),
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer shutdownCancel()

	sched.Stop()
	taskQueue.Stop()
	collector.Stop()
	engine.Shutdown(shutdownCtx)

	logger.Info("Vector processing service stopped", nil)
}
