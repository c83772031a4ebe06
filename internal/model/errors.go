package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the stable, serializable classification of a failure.
type ErrorKind string

const (
	KindRefusal          ErrorKind = "refusal"
	KindValidation       ErrorKind = "validation"
	KindNotFound         ErrorKind = "not_found"
	KindBackend          ErrorKind = "backend"
	KindBackendTimeout   ErrorKind = "backend_timeout"
	KindBackendCancelled ErrorKind = "backend_cancelled"
	KindAuditWrite       ErrorKind = "audit_write"
)

// RefusalError is returned when the intent gate rejects a request.
type RefusalError struct {
	Reason string
}

func (e *RefusalError) Error() string {
	return "request refused: " + e.Reason
}

// ValidationError is returned when a parameter is missing, undeclared or malformed.
// It is raised before any audit event is written.
type ValidationError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s: invalid arguments: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("%s: parameter %q: %s", e.Tool, e.Param, e.Reason)
}

// NotFoundError means an operation name was never registered. This is a wiring bug.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("operation %q is not registered", e.Name)
}

// BackendError wraps a collaborator failure.
type BackendError struct {
	Tool string
	Kind ErrorKind
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError classifies err as a timeout, cancellation or plain backend failure.
func NewBackendError(tool string, err error) *BackendError {
	kind := KindBackend
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindBackendTimeout
	case errors.Is(err, context.Canceled):
		kind = KindBackendCancelled
	}
	return &BackendError{Tool: tool, Kind: kind, Err: err}
}

// AuditWriteWarning reports a failed audit append. It never fails a dispatch.
type AuditWriteWarning struct {
	Event EventKind
	Err   error
}

func (e *AuditWriteWarning) Error() string {
	return fmt.Sprintf("audit write failed for %s: %v", e.Event, e.Err)
}

func (e *AuditWriteWarning) Unwrap() error {
	return e.Err
}

// KindOf maps any error to its ErrorKind. Unknown errors are backend failures.
func KindOf(err error) ErrorKind {
	var (
		refusal    *RefusalError
		validation *ValidationError
		notFound   *NotFoundError
		backend    *BackendError
		audit      *AuditWriteWarning
	)
	switch {
	case errors.As(err, &refusal):
		return KindRefusal
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &backend):
		return backend.Kind
	case errors.As(err, &audit):
		return KindAuditWrite
	case errors.Is(err, context.DeadlineExceeded):
		return KindBackendTimeout
	case errors.Is(err, context.Canceled):
		return KindBackendCancelled
	default:
		return KindBackend
	}
}

// DetailOf converts err into its serializable form.
func DetailOf(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	return &ErrorDetail{Kind: KindOf(err), Detail: err.Error()}
}
