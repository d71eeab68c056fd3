package errors

import (
	"errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryNetwork Category = "network"
	CategoryCLI     Category = "cli"
)

// RealmError is a structured error with a code, an explanation and a hint.
type RealmError struct {
	// Code is a unique error identifier (e.g., "R101").
	Code string

	// Category is the error type (config, network, cli).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *RealmError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *RealmError) Unwrap() error {
	return e.Wrapped
}

// WithSuggestion adds a fix suggestion to the error.
func (e *RealmError) WithSuggestion(s string) *RealmError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *RealmError) WithDetail(d string) *RealmError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *RealmError) Wrap(err error) *RealmError {
	e.Wrapped = err
	return e
}

// New creates a RealmError from a registered error code.
func New(code string) *RealmError {
	template, ok := registry[code]
	if !ok {
		return &RealmError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &RealmError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new RealmError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *RealmError {
	return &RealmError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a RealmError. If err already
// carries a RealmError, that one is returned.
func FromError(err error, code string) *RealmError {
	if err == nil {
		return nil
	}
	var re *RealmError
	if errors.As(err, &re) {
		return re
	}
	return New(code).Wrap(err)
}
