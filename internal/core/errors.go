package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a package or version is not stored.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input such as a file name or version is malformed.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a version already exists and overwriting is disabled.
	ErrConflict = errors.New("package version already exists")

	// ErrExtraction is returned when metadata cannot be read from an archive.
	ErrExtraction = errors.New("metadata extraction failed")

	// ErrUnauthorized is returned when an administrative operation has a missing or wrong API key.
	ErrUnauthorized = errors.New("unauthorized")
)

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError struct {
	Name    string
	Version string
}

func (e *NotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("package %s version %s not found", e.Name, e.Version)
	}
	return fmt.Sprintf("package %s not found", e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ValidationError wraps ErrValidation with the offending field.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConflictError wraps ErrConflict with the identity that already exists.
type ConflictError struct {
	Identity Identity
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("package %s version %s already exists", e.Identity.ID, e.Identity.Version)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}
