package engine

import (
	"context"
	"errors"
	"fmt"

	"checkline/internal/repo"
	"checkline/internal/workflow"
)

const (
	ReasonRequired            = "required"
	ReasonUnknownItem         = "unknown item"
	ReasonTypeMismatch        = "type mismatch"
	ReasonAmbiguousAttachment = "ambiguous attachment"
	ReasonMissingAttachment   = "missing attachment"
	ReasonSelector            = "exactly one selector is required"
)

// ValidationError reports input that can never succeed as given.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing checklist, target or actor.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError reports a uniqueness violation or a lost concurrent update.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string {
	return "conflict: " + e.Reason
}

type InvalidTransitionError = workflow.InvalidTransitionError

// StorageError wraps infrastructure failures. The operation may succeed if retried.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("%s: storage: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }

func (e StorageError) Retryable() bool { return true }

// classify turns whatever escaped an operation into one of the typed errors above.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve ValidationError
		ne NotFoundError
		ce ConflictError
		te InvalidTransitionError
		se StorageError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &ne), errors.As(err, &ce), errors.As(err, &te), errors.As(err, &se):
		return err
	case errors.Is(err, repo.ErrConflict):
		return ConflictError{Reason: err.Error()}
	}
	return StorageError{Op: op, Err: err}
}

// Kind names the error class, for metrics labels and logs.
func Kind(err error) string {
	var (
		ve ValidationError
		ne NotFoundError
		ce ConflictError
		te InvalidTransitionError
		se StorageError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ne):
		return "not_found"
	case errors.As(err, &ce):
		return "conflict"
	case errors.As(err, &te):
		return "invalid_transition"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &se):
		return "storage"
	}
	return "internal"
}

// IsRetryable reports whether err is a transient infrastructure failure.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
