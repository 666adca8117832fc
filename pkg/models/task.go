package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskType classifies asynchronous embedding work.
type TaskType string

const (
	TaskTypeInitial      TaskType = "initial"
	TaskTypeReprocess    TaskType = "reprocess"
	TaskTypeQualityCheck TaskType = "quality_check"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeInitial, TaskTypeReprocess, TaskTypeQualityCheck:
		return true
	}
	return false
}

// TaskStatus tracks a task through the queue lifecycle.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status ends the task's lifecycle.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is a unit of asynchronous embedding work tied to a document. The task
// queue owns the task exclusively while it is queued or in flight; ownership
// transfers to the caller once the status is terminal. Lower priority values
// are served earlier.
type Task struct {
	ID           string     `json:"id"`
	DocumentID   string     `json:"document_id"`
	Type         TaskType   `json:"type"`
	Priority     int        `json:"priority"`
	Status       TaskStatus `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ScheduledAt  time.Time  `json:"scheduled_at,omitempty"`
	StartedAt    time.Time  `json:"started_at,omitempty"`
	CompletedAt  time.Time  `json:"completed_at,omitempty"`
}

// DefaultTaskPriority is used when a caller does not specify a priority.
const DefaultTaskPriority = 5

// NewTask creates a pending task for a document.
func NewTask(documentID string, taskType TaskType, priority int) *Task {
	return &Task{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Type:       taskType,
		Priority:   priority,
		Status:     TaskStatusPending,
		MaxRetries: 3,
		CreatedAt:  time.Now().UTC(),
	}
}

// CanRetry reports whether the task has retry budget left.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}
