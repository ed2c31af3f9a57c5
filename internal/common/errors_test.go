package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/valuebench/coamap/internal/service"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"scorer contract violation", ErrScorerContract, false},
		{"wrapped contract violation", fmt.Errorf("judging: %w", ErrScorerContract), false},
		{"no valid candidates", ErrNoValidCandidates, false},
		{"already decided", ErrAlreadyDecided, false},
		{"not found", ErrNotFound, false},
		{"duplicate account id", ErrDuplicateAccountID, false},
		{"canceled context", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"scoring unavailable", ErrScoringUnavailable, true},
		{"wrapped scoring unavailable", fmt.Errorf("transport: %w", ErrScoringUnavailable), true},
		{"explicit retryable envelope", &RetryableError{Err: errors.New("flaky"), Retryable: true}, true},
		{"explicit non-retryable envelope", &RetryableError{Err: errors.New("hopeless"), Retryable: false}, false},
		{"unknown error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestUserErrorUnwraps(t *testing.T) {
	cause := ErrMissingConfig
	err := NewUserError("api key is not configured", cause)

	var userErr *UserError
	if !errors.As(err, &userErr) {
		t.Fatal("NewUserError() did not produce a *UserError")
	}
	if userErr.UserMessage != "api key is not configured" {
		t.Errorf("UserMessage = %q", userErr.UserMessage)
	}
	if !errors.Is(err, ErrMissingConfig) {
		t.Error("UserError did not unwrap to its cause")
	}
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return &RetryableError{Err: ErrScorerContract, Retryable: false}
	}, service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond})

	if attempts != 1 {
		t.Errorf("operation ran %d times, want 1", attempts)
	}
	if !errors.Is(err, ErrScorerContract) {
		t.Errorf("WithRetry() error = %v, want ErrScorerContract", err)
	}
}

func TestWithRetryExhaustsTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return fmt.Errorf("transport: %w", ErrScoringUnavailable)
	}, service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond})

	if attempts != 3 {
		t.Errorf("operation ran %d times, want 3", attempts)
	}
	if !errors.Is(err, ErrMaxRetries) {
		t.Errorf("WithRetry() error = %v, want ErrMaxRetries", err)
	}
}
