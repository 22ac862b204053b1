package terminology

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/txserver/internal/platform/fhir"
)

// ErrorKind classifies terminology failures.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidRequest
	KindInvalidFilter
	KindNotFound
	KindCyclicReference
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid-request"
	case KindInvalidFilter:
		return "invalid-filter"
	case KindNotFound:
		return "not-found"
	case KindCyclicReference:
		return "cyclic-reference"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is matching against *Error values.
var (
	ErrInvalidRequest  = &Error{Kind: KindInvalidRequest}
	ErrInvalidFilter   = &Error{Kind: KindInvalidFilter}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrCyclicReference = &Error{Kind: KindCyclicReference}
	ErrInternal        = &Error{Kind: KindInternal}
)

// Error is a terminology failure with enough detail to build an OperationOutcome.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so that errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Severity returns the FHIR issue severity for the error.
func (e *Error) Severity() string {
	if e.Kind == KindInternal {
		return fhir.IssueSeverityFatal
	}
	return fhir.IssueSeverityError
}

// IssueType returns the FHIR issue type code for the error.
func (e *Error) IssueType() string {
	switch e.Kind {
	case KindInvalidRequest:
		return fhir.IssueTypeInvalid
	case KindInvalidFilter:
		return fhir.IssueTypeInvalid
	case KindNotFound:
		return fhir.IssueTypeNotFound
	case KindCyclicReference:
		return fhir.IssueTypeProcessing
	default:
		return fhir.IssueTypeException
	}
}

// Outcome converts any error into an OperationOutcome.
func Outcome(err error) *fhir.OperationOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return fhir.TimeoutOutcome()
	}
	var te *Error
	if errors.As(err, &te) {
		return fhir.NewOperationOutcome(te.Severity(), te.IssueType(), te.Error())
	}
	return fhir.InternalErrorOutcome(err.Error())
}

func invalidRequest(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func invalidFilter(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidFilter, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func cyclicReference(key string) *Error {
	return &Error{Kind: KindCyclicReference, Message: fmt.Sprintf("cyclic value set reference detected at %s", key)}
}

// storeError wraps an unexpected store failure with what was being resolved.
// Terminology errors raised by the store pass through unchanged.
func storeError(err error, what string) error {
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Kind: KindInternal, Message: "resolve " + what, Err: err}
}
