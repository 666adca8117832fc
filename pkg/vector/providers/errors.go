package providers

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for provider failures. Each code has a fixed retryable
// classification: invalid input and authentication failures are never
// retried, transient transport and capacity failures are.
const (
	ErrCodeRateLimit        = "RATE_LIMIT"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeModelUnavailable = "MODEL_UNAVAILABLE"
	ErrCodeNetwork          = "NETWORK_ERROR"
	ErrCodeAuthentication   = "AUTHENTICATION_ERROR"
	ErrCodeQuotaExceeded    = "QUOTA_EXCEEDED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// ProviderError is the error value returned by providers. Retry logic at the
// task queue branches on the Code and Retryable fields; no exceptions-style
// control flow.
type ProviderError struct {
	Provider   string         `json:"provider"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	StatusCode int            `json:"status_code,omitempty"`
	RetryAfter *time.Duration `json:"retry_after,omitempty"`
	Retryable  bool           `json:"retryable"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error [%s]: %s", e.Provider, e.Code, e.Message)
}

// NewRateLimitError reports that the provider's rate-limit budget ran out.
func NewRateLimitError(provider, message string, retryAfter *time.Duration) *ProviderError {
	return &ProviderError{Provider: provider, Code: ErrCodeRateLimit, Message: message, RetryAfter: retryAfter, Retryable: true}
}

// NewTimeoutError reports that the backend did not answer in time.
func NewTimeoutError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: ErrCodeTimeout, Message: message, Retryable: true}
}

// NewInvalidInputError reports a rejected input; never retried.
func NewInvalidInputError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: ErrCodeInvalidInput, Message: message, Retryable: false}
}

// NewModelUnavailableError reports that no backend can serve the model.
func NewModelUnavailableError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: ErrCodeModelUnavailable, Message: message, Retryable: true}
}

// NewNetworkError reports a transport failure.
func NewNetworkError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: ErrCodeNetwork, Message: message, Retryable: true}
}

// NewAuthenticationError reports rejected credentials; never retried.
func NewAuthenticationError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: ErrCodeAuthentication, Message: message, Retryable: false}
}

// NewQuotaExceededError reports an exhausted billing quota; not retryable.
func NewQuotaExceededError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: ErrCodeQuotaExceeded, Message: message, Retryable: false}
}

// NewInternalError reports an unexpected provider-side failure.
func NewInternalError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: ErrCodeInternal, Message: message, Retryable: false}
}

// IsRetryable reports whether err carries a retryable provider error.
// Unknown error types are treated as not retryable so that bugs fail fast
// instead of looping.
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// ErrorCode extracts the provider error code, or ErrCodeInternal for
// non-provider errors.
func ErrorCode(err error) string {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Code
	}
	return ErrCodeInternal
}
