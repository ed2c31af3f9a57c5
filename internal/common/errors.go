// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Lookup and storage errors.
	ErrNotFound           = errors.New("not found")
	ErrDuplicateAccountID = errors.New("duplicate account id")

	// Scoring errors.
	ErrScorerContract     = errors.New("scorer contract violation")
	ErrScoringUnavailable = errors.New("scoring unavailable")
	ErrNoValidCandidates  = errors.New("no valid candidates")

	// Ledger errors.
	ErrAlreadyDecided = errors.New("mapping already decided")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	// Contract violations, decided records, and cancellations never resolve
	// by retrying.
	if errors.Is(err, ErrScorerContract) ||
		errors.Is(err, ErrNoValidCandidates) ||
		errors.Is(err, ErrAlreadyDecided) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateAccountID) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrScoringUnavailable) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
