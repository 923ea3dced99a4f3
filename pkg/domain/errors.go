package domain

import "errors"

// Common domain errors
var (
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrInvalidPattern   = errors.New("invalid detection pattern")
	ErrInvalidWeights   = errors.New("invalid weight table")
	ErrInvalidThreshold = errors.New("invalid decision thresholds")
	ErrInvalidSpan      = errors.New("span outside text bounds")
	ErrProviderFailed   = errors.New("detector provider failed")
	ErrProviderTimeout  = errors.New("detector provider timed out")
)

// Machine-readable codes surfaced to operators.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidWeights = "INVALID_WEIGHTS"
	CodeReloadFailed   = "RELOAD_FAILED"
	CodeInternal       = "INTERNAL"
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ErrorResponse defines the standard JSON error model returned by the operator API.
// It intentionally avoids exposing sensitive details while providing a stable machine-readable code.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}
