// Package storage provides the data persistence layer for the mapping engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valuebench/coamap/internal/model"
)

// Validation errors.
var (
	ErrNilContext     = errors.New("context cannot be nil")
	ErrEmptyString    = errors.New("string parameter cannot be empty")
	ErrNilParameter   = errors.New("parameter cannot be nil")
	ErrEmptySlice     = errors.New("slice cannot be empty")
	ErrInvalidStatus  = errors.New("invalid mapping status")
	ErrInvalidRecord  = errors.New("invalid mapping record")
	ErrInvalidAccount = errors.New("invalid canonical account")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateAccounts validates a slice of canonical accounts.
func validateAccounts(accounts []model.CanonicalAccount) error {
	if accounts == nil {
		return fmt.Errorf("%w: accounts", ErrNilParameter)
	}
	if len(accounts) == 0 {
		return fmt.Errorf("%w: accounts", ErrEmptySlice)
	}

	for i, account := range accounts {
		if account.ID == "" {
			return fmt.Errorf("%w: account at index %d has no id", ErrInvalidAccount, i)
		}
		if account.Name == "" {
			return fmt.Errorf("%w: account %s has no name", ErrInvalidAccount, account.ID)
		}
	}
	return nil
}

// validateLineItems validates a slice of source line items.
func validateLineItems(items []model.SourceLineItem) error {
	if items == nil {
		return fmt.Errorf("%w: items", ErrNilParameter)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: items", ErrEmptySlice)
	}

	for i, item := range items {
		if item.ID == "" {
			return fmt.Errorf("line item at index %d has no id", i)
		}
		if item.RawLabel == "" {
			return fmt.Errorf("line item %s has no label", item.ID)
		}
	}
	return nil
}

// validateRecord validates a mapping record before persistence.
func validateRecord(record *model.MappingRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record", ErrNilParameter)
	}
	if record.SourceID == "" {
		return fmt.Errorf("%w: missing source id", ErrInvalidRecord)
	}

	switch record.Status {
	case model.StatusPending, model.StatusApproved, model.StatusRejected:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, record.Status)
	}

	if record.Confidence < 0.0 || record.Confidence > 1.0 {
		return fmt.Errorf("%w: confidence %.2f outside [0,1]", ErrInvalidRecord, record.Confidence)
	}

	return nil
}
