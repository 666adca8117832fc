package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/deepsearch/pkg/models"
	"github.com/S-Corkum/deepsearch/pkg/observability"
	"github.com/S-Corkum/deepsearch/pkg/vector/providers"
)

func newTestQueue(config Config) *TaskQueue {
	return NewTaskQueue(config, observability.NewNoopLogger())
}

func TestPriorityOrdering(t *testing.T) {
	q := newTestQueue(DefaultConfig())

	low := models.NewTask("doc-low", models.TaskTypeInitial, 8)
	urgent := models.NewTask("doc-urgent", models.TaskTypeInitial, 1)
	normal := models.NewTask("doc-normal", models.TaskTypeInitial, 5)

	require.NoError(t, q.Submit(low))
	require.NoError(t, q.Submit(urgent))
	require.NoError(t, q.Submit(normal))

	assert.Equal(t, "doc-urgent", q.NextTask().DocumentID)
	assert.Equal(t, "doc-normal", q.NextTask().DocumentID)
	assert.Equal(t, "doc-low", q.NextTask().DocumentID)
	assert.Nil(t, q.NextTask())
}

func TestFIFOWithinPriority(t *testing.T) {
	q := newTestQueue(DefaultConfig())

	now := time.Now().UTC()
	for i, doc := range []string{"first", "second", "third"} {
		task := models.NewTask(doc, models.TaskTypeInitial, models.DefaultTaskPriority)
		task.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, q.Submit(task))
	}

	assert.Equal(t, "first", q.NextTask().DocumentID)
	assert.Equal(t, "second", q.NextTask().DocumentID)
	assert.Equal(t, "third", q.NextTask().DocumentID)
}

func TestNextBatch(t *testing.T) {
	q := newTestQueue(DefaultConfig())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Submit(models.NewTask("doc", models.TaskTypeInitial, i)))
	}

	batch := q.NextBatch(3)
	require.Len(t, batch, 3)
	assert.Equal(t, 0, batch[0].Priority)
	assert.Equal(t, 2, batch[2].Priority)

	status := q.Status()
	assert.Equal(t, 2, status.PendingTasks)
	assert.Equal(t, 3, status.ProcessingTasks)
}

func TestQueueFull(t *testing.T) {
	q := newTestQueue(Config{MaxQueueSize: 2, MaxRetries: 3, RetryDelay: time.Second})

	require.NoError(t, q.Submit(models.NewTask("a", models.TaskTypeInitial, 1)))
	require.NoError(t, q.Submit(models.NewTask("b", models.TaskTypeInitial, 1)))
	assert.ErrorIs(t, q.Submit(models.NewTask("c", models.TaskTypeInitial, 1)), ErrQueueFull)
}

func TestSubmitBatchStopsAtCapacity(t *testing.T) {
	q := newTestQueue(Config{MaxQueueSize: 2, MaxRetries: 3, RetryDelay: time.Second})

	tasks := []*models.Task{
		models.NewTask("a", models.TaskTypeInitial, 1),
		models.NewTask("b", models.TaskTypeInitial, 1),
		models.NewTask("c", models.TaskTypeInitial, 1),
	}
	n, err := q.SubmitBatch(tasks)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, n)
}

func TestRetryGoesThroughBackoff(t *testing.T) {
	q := newTestQueue(Config{MaxRetries: 3, RetryDelay: 10 * time.Millisecond})

	task := models.NewTask("doc", models.TaskTypeInitial, 1)
	require.NoError(t, q.Submit(task))

	got := q.NextTask()
	require.NotNil(t, got)
	require.NoError(t, q.MarkFailed(got.ID, errors.New("provider timeout")))

	// Still waiting out the backoff.
	assert.Nil(t, q.NextTask())
	assert.Equal(t, 1, q.Status().RetryingTasks)

	q.promoteReady(time.Now().Add(time.Minute))

	got = q.NextTask()
	require.NotNil(t, got)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "provider timeout", got.ErrorMessage)
}

func TestExhaustedRetriesGoTerminal(t *testing.T) {
	q := newTestQueue(Config{MaxRetries: 3, RetryDelay: time.Millisecond})

	task := models.NewTask("doc", models.TaskTypeInitial, 1)
	require.NoError(t, q.Submit(task))

	for i := 0; i < 3; i++ {
		q.promoteReady(time.Now().Add(time.Hour))
		got := q.NextTask()
		require.NotNil(t, got, "attempt %d", i)
		require.NoError(t, q.MarkFailed(got.ID, errors.New("boom")))
	}

	q.promoteReady(time.Now().Add(time.Hour))
	assert.Nil(t, q.NextTask())
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, 1, q.Status().FailedTasks)
	assert.False(t, task.CompletedAt.IsZero())
}

func TestMarkFailedRecordsErrorCode(t *testing.T) {
	q := newTestQueue(Config{MaxRetries: 1, RetryDelay: time.Millisecond})

	task := models.NewTask("doc", models.TaskTypeInitial, 1)
	task.MaxRetries = 1
	require.NoError(t, q.Submit(task))

	got := q.NextTask()
	require.NotNil(t, got)
	require.NoError(t, q.MarkFailed(got.ID, providers.NewTimeoutError("openai", "deadline exceeded")))

	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, providers.ErrCodeTimeout, task.ErrorCode)
	assert.Contains(t, task.ErrorMessage, "deadline exceeded")
}

func TestMarkFailedPlainErrorMapsToInternal(t *testing.T) {
	q := newTestQueue(Config{MaxRetries: 3, RetryDelay: time.Millisecond})

	task := models.NewTask("doc", models.TaskTypeInitial, 1)
	require.NoError(t, q.Submit(task))

	got := q.NextTask()
	require.NotNil(t, got)
	require.NoError(t, q.MarkFailed(got.ID, errors.New("boom")))

	assert.Equal(t, providers.ErrCodeInternal, task.ErrorCode)
}

func TestUtilization(t *testing.T) {
	q := newTestQueue(DefaultConfig())

	assert.Zero(t, q.Utilization(10))
	assert.Zero(t, q.Utilization(0))

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Submit(models.NewTask("doc", models.TaskTypeInitial, i)))
	}
	batch := q.NextBatch(4)
	require.Len(t, batch, 4)

	assert.InDelta(t, 0.4, q.Utilization(10), 1e-9)
	// Overcommit beyond the given capacity reads above 1.0.
	assert.InDelta(t, 2.0, q.Utilization(2), 1e-9)
	assert.Zero(t, q.Utilization(-1))

	require.NoError(t, q.MarkCompleted(batch[0].ID))
	assert.InDelta(t, 0.3, q.Utilization(10), 1e-9)
}

func TestRetryDelayDoubles(t *testing.T) {
	q := newTestQueue(Config{MaxRetries: 5, RetryDelay: time.Second})

	assert.Equal(t, time.Second, q.retryDelay(1))
	assert.Equal(t, 2*time.Second, q.retryDelay(2))
	assert.Equal(t, 4*time.Second, q.retryDelay(3))
}

func TestMarkCompleted(t *testing.T) {
	q := newTestQueue(DefaultConfig())

	task := models.NewTask("doc", models.TaskTypeInitial, 1)
	require.NoError(t, q.Submit(task))

	got := q.NextTask()
	require.NotNil(t, got)
	require.NoError(t, q.MarkCompleted(got.ID))

	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, 1, q.Status().CompletedTasks)

	assert.ErrorIs(t, q.MarkCompleted(got.ID), ErrUnknownTask)
}

func TestCancelPendingTask(t *testing.T) {
	q := newTestQueue(DefaultConfig())

	keep := models.NewTask("keep", models.TaskTypeInitial, 1)
	drop := models.NewTask("drop", models.TaskTypeInitial, 2)
	require.NoError(t, q.Submit(keep))
	require.NoError(t, q.Submit(drop))

	assert.True(t, q.Cancel(drop.ID))
	assert.False(t, q.Cancel("no-such-task"))
	assert.Equal(t, models.TaskStatusCancelled, drop.Status)

	got := q.NextTask()
	require.NotNil(t, got)
	assert.Equal(t, "keep", got.DocumentID)
	assert.Nil(t, q.NextTask())
}

func TestClear(t *testing.T) {
	q := newTestQueue(DefaultConfig())

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Submit(models.NewTask("doc", models.TaskTypeInitial, i)))
	}
	inFlight := q.NextTask()
	require.NotNil(t, inFlight)

	assert.Equal(t, 3, q.Clear())
	assert.Equal(t, 0, q.Size())
	// The in-flight task survives a clear.
	assert.Equal(t, 1, q.Status().ProcessingTasks)
}

func TestConcurrentDispatchNoDuplicates(t *testing.T) {
	q := newTestQueue(DefaultConfig())

	const total = 200
	for i := 0; i < total; i++ {
		require.NoError(t, q.Submit(models.NewTask("doc", models.TaskTypeInitial, i%10)))
	}

	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task := q.NextTask()
				if task == nil {
					return
				}
				mu.Lock()
				if seen[task.ID] {
					t.Errorf("task %s dispatched twice", task.ID)
				}
				seen[task.ID] = true
				mu.Unlock()
				_ = q.MarkCompleted(task.ID)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	assert.Equal(t, total, q.Status().CompletedTasks)
}

func TestRetryPumpPromotes(t *testing.T) {
	q := newTestQueue(Config{MaxRetries: 3, RetryDelay: 5 * time.Millisecond, PumpInterval: 5 * time.Millisecond})
	q.Start()
	defer q.Stop()

	task := models.NewTask("doc", models.TaskTypeInitial, 1)
	require.NoError(t, q.Submit(task))

	got := q.NextTask()
	require.NotNil(t, got)
	require.NoError(t, q.MarkFailed(got.ID, errors.New("transient")))

	require.Eventually(t, func() bool {
		return q.NextTask() != nil
	}, time.Second, 5*time.Millisecond)
}
