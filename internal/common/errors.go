// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Categorization errors.
	ErrInvalidExpense      = errors.New("invalid expense")
	ErrExpenseNotPersisted = errors.New("expense is not persisted")
	ErrCategoryNotFound    = errors.New("category not found")

	// Backend errors.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// Configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user. The
// wrapped error keeps full detail for logs while UserMessage stays generic.
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

// UserMessage extracts the caller-safe message from an error, falling back
// to a generic one so raw backend detail never leaks out of the engine.
func UserMessage(err error, fallback string) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMessage
	}
	return fallback
}

// IsBackendError reports whether an error indicates the storage backend is
// unreachable or failing, as opposed to a local validation problem.
func IsBackendError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidExpense) ||
		errors.Is(err, ErrExpenseNotPersisted) || errors.Is(err, ErrCategoryNotFound) {
		return false
	}
	return errors.Is(err, ErrBackendUnavailable)
}
