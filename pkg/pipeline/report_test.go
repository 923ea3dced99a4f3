package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polisai/polis-dlp/internal/governance"
	"github.com/polisai/polis-dlp/pkg/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "timeout", err: fmt.Errorf("%w after 2s: %w", domain.ErrProviderTimeout, context.DeadlineExceeded), want: StatusTimeout},
		{name: "bare deadline", err: context.DeadlineExceeded, want: StatusTimeout},
		{name: "canceled", err: context.Canceled, want: StatusCanceled},
		{name: "circuit open", err: fmt.Errorf("ner: %w", governance.ErrCircuitOpen), want: StatusCircuitOpen},
		{name: "panic", err: fmt.Errorf("%w: panic: boom", domain.ErrProviderFailed), want: StatusError},
		{name: "other", err: errors.New("connection refused"), want: StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestErrorMessage_NeverEchoesProviderText(t *testing.T) {
	assert.Equal(t, StatusTimeout, errorMessage(StatusTimeout))
	assert.Equal(t, "provider call failed", errorMessage(StatusError))
}
