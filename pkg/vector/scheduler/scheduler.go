// Package scheduler drives batch embedding processing: a control loop that
// re-derives the effective processing mode from current metrics and drains
// the task queue in load-sized chunks, a monitor that reports mode
// divergence, and a periodic health report.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/S-Corkum/deepsearch/pkg/models"
	"github.com/S-Corkum/deepsearch/pkg/observability"
	"github.com/S-Corkum/deepsearch/pkg/vector/metrics"
	"github.com/S-Corkum/deepsearch/pkg/vector/queue"
	"github.com/S-Corkum/deepsearch/pkg/vector/strategy"
)

// TaskExecutor performs the actual embedding work for one task.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, task *models.Task) error
}

// TaskExecutorFunc adapts a function to TaskExecutor.
type TaskExecutorFunc func(ctx context.Context, task *models.Task) error

func (f TaskExecutorFunc) ExecuteTask(ctx context.Context, task *models.Task) error {
	return f(ctx, task)
}

// Config tunes the scheduler's loops.
type Config struct {
	// TickInterval is the batch loop period.
	TickInterval time.Duration

	// MonitorInterval is the mode monitor period.
	MonitorInterval time.Duration

	// HealthInterval is the health report period.
	HealthInterval time.Duration

	// BatchSize is how many tasks one tick drains at most.
	BatchSize int

	// MaxConcurrentChunks bounds parallel chunk workers per tick.
	MaxConcurrentChunks int

	// RealtimePriorityBand limits which tasks the realtime path serves.
	RealtimePriorityBand int
}

// DefaultConfig returns the standard scheduler cadence.
func DefaultConfig() Config {
	return Config{
		TickInterval:         2 * time.Second,
		MonitorInterval:      30 * time.Second,
		HealthInterval:       time.Minute,
		BatchSize:            50,
		MaxConcurrentChunks:  4,
		RealtimePriorityBand: 3,
	}
}

// Status is the scheduler's externally visible state.
type Status struct {
	Running       bool                     `json:"running"`
	Paused        bool                     `json:"paused"`
	Mode          models.ProcessingMode    `json:"mode"`
	EffectiveMode models.ProcessingMode    `json:"effective_mode"`
	Queue         models.QueueStatus       `json:"queue"`
	Metrics       models.ProcessingMetrics `json:"metrics"`
}

// Scheduler owns the processing loops. Mode can be pinned via SwitchMode or
// left on auto, in which case every tick re-derives the effective mode from
// the current metrics snapshot.
type Scheduler struct {
	config   Config
	queue    *queue.TaskQueue
	executor TaskExecutor
	selector *strategy.Selector
	metrics  *metrics.Collector
	logger   observability.Logger

	mu            sync.Mutex
	running       bool
	paused        bool
	mode          models.ProcessingMode
	effectiveMode models.ProcessingMode
	lastSwitch    time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler in auto mode.
func New(config Config, q *queue.TaskQueue, executor TaskExecutor, selector *strategy.Selector, collector *metrics.Collector, logger observability.Logger) *Scheduler {
	def := DefaultConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = def.TickInterval
	}
	if config.MonitorInterval <= 0 {
		config.MonitorInterval = def.MonitorInterval
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = def.HealthInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxConcurrentChunks <= 0 {
		config.MaxConcurrentChunks = def.MaxConcurrentChunks
	}
	if config.RealtimePriorityBand <= 0 {
		config.RealtimePriorityBand = def.RealtimePriorityBand
	}
	if logger == nil {
		logger = observability.NewLogger("scheduler")
	}
	return &Scheduler{
		config:        config,
		queue:         q,
		executor:      executor,
		selector:      selector,
		metrics:       collector,
		logger:        logger.WithPrefix("scheduler"),
		mode:          models.ModeAutoSwitch,
		effectiveMode: models.ModeOnlineRealtime,
	}
}

// Start launches the processing, monitor and health loops. Starting a
// running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.paused = false

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)

	s.logger.Info("scheduler started", map[string]interface{}{
		"tick":       s.config.TickInterval.String(),
		"batch_size": s.config.BatchSize,
	})
}

// Stop halts all loops and waits for in-flight work to settle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.paused = false
	cancel, done := s.cancel, s.done
	// Leave s.done set: the run goroutine may not have started yet, and its
	// deferred close reads the field. Start overwrites both on restart.
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("scheduler stopped", nil)
}

// Pause suspends task dispatch; the loops keep ticking.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && !s.paused {
		s.paused = true
		s.logger.Info("scheduler paused", nil)
	}
}

// Resume lifts a pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.paused {
		s.paused = false
		s.logger.Info("scheduler resumed", nil)
	}
}

// SwitchMode pins the processing mode, or returns it to auto.
func (s *Scheduler) SwitchMode(mode models.ProcessingMode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.mode
	s.mode = mode
	if !mode.IsAuto() {
		s.effectiveMode = mode
	}
	s.lastSwitch = time.Now()

	s.logger.Info("processing mode switched", map[string]interface{}{
		"from": string(old),
		"to":   string(mode),
	})
}

// Mode returns the configured mode, which may be auto.
func (s *Scheduler) Mode() models.ProcessingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// EffectiveMode returns the mode the loops are currently acting in.
func (s *Scheduler) EffectiveMode() models.ProcessingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveMode
}

// Status snapshots the scheduler, queue and metrics together.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running, paused, mode, effective := s.running, s.paused, s.mode, s.effectiveMode
	s.mu.Unlock()

	return Status{
		Running:       running,
		Paused:        paused,
		Mode:          mode,
		EffectiveMode: effective,
		Queue:         s.queue.Status(),
		Metrics:       s.metrics.Snapshot(effective),
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	tick := time.NewTicker(s.config.TickInterval)
	monitor := time.NewTicker(s.config.MonitorInterval)
	health := time.NewTicker(s.config.HealthInterval)
	defer tick.Stop()
	defer monitor.Stop()
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.tick(ctx)
		case <-monitor.C:
			s.monitorMode()
		case <-health.C:
			s.healthCheck()
		}
	}
}

// tick runs one scheduling round. In auto mode the effective mode is
// re-derived from a fresh metrics snapshot every round, so the loop follows
// the strategy without waiting for the monitor.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	paused, mode := s.paused, s.mode
	s.mu.Unlock()
	if paused {
		return
	}

	effective := mode
	if mode.IsAuto() {
		effective = s.selector.DetermineOptimalMode(strategy.Request{
			RequestedMode: models.ModeAutoSwitch,
			Priority:      models.DefaultTaskPriority,
		}, s.metrics.Snapshot(mode))

		s.mu.Lock()
		if s.effectiveMode != effective {
			s.logger.Info("effective mode switched", map[string]interface{}{
				"from": string(s.effectiveMode),
				"to":   string(effective),
			})
			s.lastSwitch = time.Now()
		}
		s.effectiveMode = effective
		s.mu.Unlock()
	}

	if effective.IsBatch() {
		s.processBatch(ctx)
	} else {
		s.processRealtime(ctx)
	}
}

// processBatch drains up to BatchSize tasks, partitions them into
// load-sized chunks and runs the chunks in parallel, each chunk serially.
func (s *Scheduler) processBatch(ctx context.Context) {
	batch := s.queue.NextBatch(s.config.BatchSize)
	if len(batch) == 0 {
		return
	}

	chunkSize := s.optimalChunkSize()
	s.logger.Debug("batch round", map[string]interface{}{
		"tasks":      len(batch),
		"chunk_size": chunkSize,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrentChunks)
	for start := 0; start < len(batch); start += chunkSize {
		end := start + chunkSize
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[start:end]
		g.Go(func() error {
			for _, task := range chunk {
				if gctx.Err() != nil {
					// Interrupted work goes back without costing a retry.
					_ = s.queue.Requeue(task.ID)
					continue
				}
				s.executeTask(gctx, task)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// processRealtime serves only tasks inside the realtime priority band, one
// per tick; anything else stays queued for the next batch phase.
func (s *Scheduler) processRealtime(ctx context.Context) {
	task := s.queue.NextTask()
	if task == nil {
		return
	}
	if task.Priority > s.config.RealtimePriorityBand {
		_ = s.queue.Requeue(task.ID)
		return
	}
	s.executeTask(ctx, task)
}

func (s *Scheduler) executeTask(ctx context.Context, task *models.Task) {
	start := time.Now()
	mode := s.EffectiveMode()

	err := s.executor.ExecuteTask(ctx, task)
	took := time.Since(start)

	if err != nil {
		s.logger.Warn("task execution failed", map[string]interface{}{
			"task_id":     task.ID,
			"document_id": task.DocumentID,
			"error":       err.Error(),
		})
		_ = s.queue.MarkFailed(task.ID, err)
		s.metrics.RecordFailure(mode, took, 0)
		return
	}

	_ = s.queue.MarkCompleted(task.ID)
	s.metrics.RecordSuccess(mode, took, -1)
}

// optimalChunkSize shrinks chunks as system load rises.
func (s *Scheduler) optimalChunkSize() int {
	load := s.metrics.Snapshot(s.EffectiveMode()).SystemLoad
	switch {
	case load > 0.8:
		return 5
	case load > 0.5:
		return 10
	default:
		return 20
	}
}

// monitorMode reports divergence between the pinned mode and what the
// strategy would pick. It only observes; the tick loop owns the effective
// mode.
func (s *Scheduler) monitorMode() {
	s.mu.Lock()
	mode, effective, lastSwitch := s.mode, s.effectiveMode, s.lastSwitch
	s.mu.Unlock()

	snapshot := s.metrics.Snapshot(effective)
	recommended, diverged := s.selector.ShouldSwitchMode(effective, snapshot, lastSwitch)
	if !diverged {
		return
	}

	if mode.IsAuto() {
		// The next tick will pick this up; just note it.
		s.logger.Debug("mode recommendation pending", map[string]interface{}{
			"active":      string(effective),
			"recommended": string(recommended),
		})
		return
	}
	s.logger.Info("pinned mode diverges from recommendation", map[string]interface{}{
		"pinned":      string(mode),
		"recommended": string(recommended),
	})
}

// healthCheck logs queue health and flags backlogs and low success rates.
func (s *Scheduler) healthCheck() {
	status := s.queue.Status()
	s.logger.Info("scheduler health", map[string]interface{}{
		"pending":      status.PendingTasks,
		"processing":   status.ProcessingTasks,
		"retrying":     status.RetryingTasks,
		"success_rate": status.SuccessRate(),
		"mode":         string(s.EffectiveMode()),
	})

	threshold := s.selector.Config().QueueThreshold
	if threshold > 0 && status.PendingTasks > threshold*2 {
		s.logger.Warn("queue backlog exceeds threshold", map[string]interface{}{
			"pending":   status.PendingTasks,
			"threshold": threshold,
		})
	}
	if status.TotalTasks > 0 && status.SuccessRate() < 0.9 {
		s.logger.Warn("task success rate degraded", map[string]interface{}{
			"success_rate": status.SuccessRate(),
		})
	}
}
