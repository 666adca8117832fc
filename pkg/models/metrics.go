package models

import "time"

// ProcessingMetrics is a point-in-time snapshot of the vector processing
// system, consumed by the scheduler and the mode-switch strategy.
type ProcessingMetrics struct {
	TotalRequests         int64          `json:"total_requests"`
	SuccessfulRequests    int64          `json:"successful_requests"`
	FailedRequests        int64          `json:"failed_requests"`
	AverageProcessingTime float64        `json:"average_processing_time_ms"`
	TotalCostCents        int64          `json:"total_cost_cents"`
	CurrentQueueSize      int            `json:"current_queue_size"`
	SystemLoad            float64        `json:"system_load"`
	CurrentMode           ProcessingMode `json:"current_mode,omitempty"`
	StartTime             time.Time      `json:"start_time,omitempty"`
	LastUpdate            time.Time      `json:"last_update,omitempty"`
}

// SuccessRate returns the fraction of requests that succeeded, zero when no
// requests were recorded.
func (m ProcessingMetrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}

// ErrorRate returns the fraction of requests that failed.
func (m ProcessingMetrics) ErrorRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.FailedRequests) / float64(m.TotalRequests)
}

// RequestsPerMinute derives throughput from the snapshot's uptime.
func (m ProcessingMetrics) RequestsPerMinute() float64 {
	if m.StartTime.IsZero() {
		return 0
	}
	minutes := time.Since(m.StartTime).Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(m.TotalRequests) / minutes
}

// Uptime returns how long the collector behind this snapshot has been alive.
func (m ProcessingMetrics) Uptime() time.Duration {
	if m.StartTime.IsZero() {
		return 0
	}
	return time.Since(m.StartTime)
}

// QueueStatus summarizes the task queue for operators.
type QueueStatus struct {
	PendingTasks    int `json:"pending_tasks"`
	ProcessingTasks int `json:"processing_tasks"`
	RetryingTasks   int `json:"retrying_tasks"`
	TotalTasks      int `json:"total_tasks"`
	CompletedTasks  int `json:"completed_tasks"`
	FailedTasks     int `json:"failed_tasks"`
}

// SuccessRate returns the completed fraction of all submitted tasks.
func (s QueueStatus) SuccessRate() float64 {
	if s.TotalTasks == 0 {
		return 0
	}
	return float64(s.CompletedTasks) / float64(s.TotalTasks)
}
