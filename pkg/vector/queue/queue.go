// Package queue implements the in-memory priority queue that feeds the
// batch scheduler. Tasks are dispatched lowest priority value first, FIFO
// within a priority, and failed tasks re-enter the queue after an
// exponential backoff delay.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/S-Corkum/deepsearch/pkg/models"
	"github.com/S-Corkum/deepsearch/pkg/observability"
	"github.com/S-Corkum/deepsearch/pkg/vector/providers"
)

var (
	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("task queue full")

	// ErrUnknownTask is returned when completing or failing a task that
	// is not in flight.
	ErrUnknownTask = errors.New("unknown task")
)

// Config configures queue capacity and retry behavior.
type Config struct {
	// MaxQueueSize caps pending plus delayed tasks. Zero means unbounded.
	MaxQueueSize int

	// MaxRetries is the default retry budget for submitted tasks that do
	// not carry their own.
	MaxRetries int

	// RetryDelay is the base delay before the first retry; each further
	// retry doubles it.
	RetryDelay time.Duration

	// PumpInterval is how often delayed retries are moved back into the
	// ready heap.
	PumpInterval time.Duration
}

// DefaultConfig returns the standard queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize: 10000,
		MaxRetries:   3,
		RetryDelay:   time.Second,
		PumpInterval: time.Second,
	}
}

// item is a heap entry. seq breaks ties between tasks created in the same
// clock tick so ordering stays deterministic.
type item struct {
	task *models.Task
	seq  uint64
}

type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	if !h[i].task.CreatedAt.Equal(h[j].task.CreatedAt) {
		return h[i].task.CreatedAt.Before(h[j].task.CreatedAt)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*item)) }

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// delayed holds a task waiting out its retry backoff.
type delayed struct {
	task    *models.Task
	readyAt time.Time
}

// TaskQueue is a priority queue with delayed retry. All state is protected
// by a single mutex; operations are short so contention stays low.
type TaskQueue struct {
	mu       sync.Mutex
	ready    taskHeap
	waiting  []delayed
	inFlight map[string]*models.Task
	seq      uint64

	completed int64
	failed    int64

	config Config
	logger observability.Logger

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

// NewTaskQueue creates a stopped queue; call Start to run the retry pump.
func NewTaskQueue(config Config, logger observability.Logger) *TaskQueue {
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.PumpInterval <= 0 {
		config.PumpInterval = time.Second
	}
	if logger == nil {
		logger = observability.NewLogger("task-queue")
	}
	return &TaskQueue{
		inFlight: make(map[string]*models.Task),
		config:   config,
		logger:   logger.WithPrefix("task-queue"),
	}
}

// Start launches the retry pump that promotes delayed tasks whose backoff
// has elapsed. Calling Start on a running queue is a no-op.
func (q *TaskQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pumpCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.pumpCancel = cancel
	q.pumpDone = make(chan struct{})

	go q.pump(ctx)
}

// Stop halts the retry pump. Queued tasks stay queued.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	cancel, done := q.pumpCancel, q.pumpDone
	q.pumpCancel, q.pumpDone = nil, nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (q *TaskQueue) pump(ctx context.Context) {
	defer close(q.pumpDone)

	ticker := time.NewTicker(q.config.PumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteReady(time.Now())
		}
	}
}

// promoteReady moves delayed tasks whose backoff has elapsed into the
// ready heap.
func (q *TaskQueue) promoteReady(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	remaining := q.waiting[:0]
	for _, d := range q.waiting {
		if !d.readyAt.After(now) {
			d.task.Status = models.TaskStatusPending
			q.pushLocked(d.task)
		} else {
			remaining = append(remaining, d)
		}
	}
	q.waiting = remaining
}

func (q *TaskQueue) pushLocked(task *models.Task) {
	q.seq++
	heap.Push(&q.ready, &item{task: task, seq: q.seq})
}

// Submit enqueues one task.
func (q *TaskQueue) Submit(task *models.Task) error {
	if task == nil {
		return fmt.Errorf("submit: nil task")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.config.MaxQueueSize > 0 && len(q.ready)+len(q.waiting) >= q.config.MaxQueueSize {
		return ErrQueueFull
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = q.config.MaxRetries
	}
	task.Status = models.TaskStatusPending
	q.pushLocked(task)

	q.logger.Debug("task submitted", map[string]interface{}{
		"task_id":  task.ID,
		"type":     string(task.Type),
		"priority": task.Priority,
	})
	return nil
}

// SubmitBatch enqueues tasks until one fails, returning how many were
// accepted.
func (q *TaskQueue) SubmitBatch(tasks []*models.Task) (int, error) {
	for i, task := range tasks {
		if err := q.Submit(task); err != nil {
			return i, err
		}
	}
	return len(tasks), nil
}

// NextTask pops the highest-priority ready task and marks it in flight.
// It returns nil when nothing is ready.
func (q *TaskQueue) NextTask() *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// NextBatch pops up to max ready tasks in priority order.
func (q *TaskQueue) NextBatch(max int) []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.Task
	for len(out) < max {
		task := q.popLocked()
		if task == nil {
			break
		}
		out = append(out, task)
	}
	return out
}

func (q *TaskQueue) popLocked() *models.Task {
	if q.ready.Len() == 0 {
		return nil
	}
	it := heap.Pop(&q.ready).(*item)
	it.task.Status = models.TaskStatusProcessing
	it.task.StartedAt = time.Now().UTC()
	q.inFlight[it.task.ID] = it.task
	return it.task
}

// MarkCompleted finishes an in-flight task.
func (q *TaskQueue) MarkCompleted(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.inFlight[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	delete(q.inFlight, taskID)

	task.Status = models.TaskStatusCompleted
	task.CompletedAt = time.Now().UTC()
	q.completed++
	return nil
}

// MarkFailed records a failure. Tasks with retry budget left re-enter the
// queue after RetryDelay doubled per attempt; exhausted tasks go terminal.
func (q *TaskQueue) MarkFailed(taskID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.inFlight[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	delete(q.inFlight, taskID)

	task.RetryCount++
	if cause != nil {
		task.ErrorMessage = cause.Error()
		task.ErrorCode = providers.ErrorCode(cause)
	}

	if task.CanRetry() {
		task.Status = models.TaskStatusPending
		delay := q.retryDelay(task.RetryCount)
		readyAt := time.Now().Add(delay)
		task.ScheduledAt = readyAt.UTC()
		q.waiting = append(q.waiting, delayed{task: task, readyAt: readyAt})

		q.logger.Warn("task retry scheduled", map[string]interface{}{
			"task_id":     task.ID,
			"retry_count": task.RetryCount,
			"max_retries": task.MaxRetries,
			"delay":       delay.String(),
		})
		return nil
	}

	task.Status = models.TaskStatusFailed
	task.CompletedAt = time.Now().UTC()
	q.failed++

	q.logger.Error("task failed permanently", map[string]interface{}{
		"task_id":     task.ID,
		"retry_count": task.RetryCount,
		"error":       task.ErrorMessage,
	})
	return nil
}

// Requeue returns an in-flight task to the pending heap without consuming
// retry budget, used when a dispatcher decides not to serve it after all.
func (q *TaskQueue) Requeue(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.inFlight[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	delete(q.inFlight, taskID)

	task.Status = models.TaskStatusPending
	q.pushLocked(task)
	return nil
}

// Cancel removes a pending or delayed task. In-flight tasks cannot be
// cancelled.
func (q *TaskQueue) Cancel(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, it := range q.ready {
		if it.task.ID == taskID {
			it.task.Status = models.TaskStatusCancelled
			heap.Remove(&q.ready, i)
			return true
		}
	}
	for i, d := range q.waiting {
		if d.task.ID == taskID {
			d.task.Status = models.TaskStatusCancelled
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops all pending and delayed tasks, returning how many were
// removed. In-flight tasks are untouched.
func (q *TaskQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.ready) + len(q.waiting)
	for _, it := range q.ready {
		it.task.Status = models.TaskStatusCancelled
	}
	for _, d := range q.waiting {
		d.task.Status = models.TaskStatusCancelled
	}
	q.ready = nil
	q.waiting = nil
	return n
}

// Size returns the number of tasks waiting to be dispatched.
func (q *TaskQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.waiting)
}

// Utilization reports in-flight tasks as a fraction of the given dispatch
// capacity. It feeds the metrics collector's system-load sampler, so the
// value is allowed to exceed 1.0 when dispatchers overcommit.
func (q *TaskQueue) Utilization(capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return float64(len(q.inFlight)) / float64(capacity)
}

// Status snapshots queue depth and outcome counters.
func (q *TaskQueue) Status() models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	return models.QueueStatus{
		PendingTasks:    len(q.ready),
		ProcessingTasks: len(q.inFlight),
		RetryingTasks:   len(q.waiting),
		TotalTasks:      len(q.ready) + len(q.waiting) + len(q.inFlight) + int(q.completed) + int(q.failed),
		CompletedTasks:  int(q.completed),
		FailedTasks:     int(q.failed),
	}
}

// retryDelay doubles the base delay per attempt: base, 2x, 4x, ...
func (q *TaskQueue) retryDelay(retryCount int) time.Duration {
	delay := q.config.RetryDelay
	for i := 1; i < retryCount; i++ {
		delay *= 2
	}
	return delay
}
