// Package common defines shared constants and sentinel errors used across
// the supervisor, the workers and the HTTP layer. Callers should use
// errors.Is / errors.As to match these values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Auth errors. Each one is a distinct authentication failure.
	ErrTokenMissing = errors.New("no credential supplied")
	ErrInvalidToken = errors.New("invalid credential")
	ErrTokenExpired = errors.New("credential expired")

	// ErrUndecodableID is returned when an encrypted identifier cannot be
	// decrypted with the process key.
	ErrUndecodableID = errors.New("undecodable identifier")

	// ErrResponseContract marks an outgoing payload that failed its own schema.
	ErrResponseContract = errors.New("response contract violation")
)

// FieldError describes one violated field of a request.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every violated field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation error: " + strings.Join(parts, "; ")
}

// NewValidationError builds a ValidationError from field errors.
func NewValidationError(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}
