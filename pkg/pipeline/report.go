package pipeline

import (
	"context"
	"errors"

	"github.com/polisai/polis-dlp/internal/governance"
	"github.com/polisai/polis-dlp/pkg/domain"
)

// Provider call outcomes reported in metadata and metrics.
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusCircuitOpen = "circuit_open"
	StatusCanceled    = "canceled"
)

// ProviderReport describes what one provider contributed to a run.
type ProviderReport struct {
	Status          string  `json:"status"`
	Proposals       int     `json:"proposals"`
	Accepted        int     `json:"accepted"`
	RejectedSpans   int     `json:"rejected_spans"`
	ValueMismatches int     `json:"value_mismatches,omitempty"`
	Error           string  `json:"error,omitempty"`
	DurationMS      float64 `json:"duration_ms"`
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, governance.ErrCircuitOpen):
		return StatusCircuitOpen
	case errors.Is(err, domain.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, context.Canceled):
		return StatusCanceled
	default:
		return StatusError
	}
}

// errorMessage keeps provider error text out of results for the outcomes
// that already say everything. Free-form errors may echo the request.
func errorMessage(status string) string {
	switch status {
	case StatusCircuitOpen, StatusTimeout, StatusCanceled:
		return status
	default:
		return "provider call failed"
	}
}
