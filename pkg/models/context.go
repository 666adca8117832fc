package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ProcessingContext describes a single embedding request: the text to embed
// and the constraints the caller placed on producing it. It is built once per
// request and read-only thereafter.
type ProcessingContext struct {
	RequestID      string                 `json:"request_id"`
	Content        string                 `json:"content"`
	DocumentID     string                 `json:"document_id,omitempty"`
	RequestedMode  ProcessingMode         `json:"requested_mode"`
	Urgent         bool                   `json:"urgent"`
	MaxRetries     int                    `json:"max_retries"`
	Timeout        time.Duration          `json:"timeout"`
	MaxCostCents   *int                   `json:"max_cost_cents,omitempty"`
	PreferredModel string                 `json:"preferred_model,omitempty"`
	Properties     map[string]interface{} `json:"properties,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// NewProcessingContext builds a context for the given content with a fresh
// request ID and the auto-switch mode. Callers adjust the exported fields
// before first use.
func NewProcessingContext(content string) *ProcessingContext {
	return &ProcessingContext{
		RequestID:     uuid.New().String(),
		Content:       content,
		RequestedMode: ModeAutoSwitch,
		MaxRetries:    3,
		Timeout:       30 * time.Second,
		CreatedAt:     time.Now().UTC(),
	}
}

// Validate checks the context invariants before processing starts.
func (c *ProcessingContext) Validate() error {
	if c.Content == "" {
		return errors.New("processing context content must not be empty")
	}
	if !c.RequestedMode.Valid() {
		return errors.New("processing context has an unknown requested mode")
	}
	return nil
}

// TimedOut reports whether the context's timeout has elapsed since creation.
// A zero timeout means the request never times out.
func (c *ProcessingContext) TimedOut() bool {
	if c.Timeout <= 0 {
		return false
	}
	return time.Since(c.CreatedAt) >= c.Timeout
}

// RemainingTimeout returns how long the caller should still wait for this
// request, zero when already timed out, and a negative value when no timeout
// was set.
func (c *ProcessingContext) RemainingTimeout() time.Duration {
	if c.Timeout <= 0 {
		return -1
	}
	remaining := c.Timeout - time.Since(c.CreatedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Property returns a free-form request property, or nil when absent.
func (c *ProcessingContext) Property(key string) interface{} {
	if c.Properties == nil {
		return nil
	}
	return c.Properties[key]
}
