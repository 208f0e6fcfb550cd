// Package errors provides kind-tagged errors for the order pipeline and their
// RFC 7807 Problem Details rendering.
package errors

import (
	"errors"
	"fmt"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds
const (
	KindValidation        = "ValidationError"
	KindOrderNotFound     = "OrderNotFound"
	KindVenueUnavailable  = "VenueUnavailable"
	KindNoLiquidity       = "NoLiquidity"
	KindSlippageExceeded  = "SlippageExceeded"
	KindSettlementFailed  = "SettlementFailed"
	KindSettlementUnknown = "SettlementUnknown"
	KindInvalidPair       = "InvalidPair"
	KindInvalidAmount     = "InvalidAmount"
	KindInvalidTransition = "InvalidTransition"
	KindQueueClosed       = "QueueClosed"
	KindInternal          = "Internal"
)

// Sentinels, matched by kind with errors.Is
var (
	Validation        = NewWithKind(KindValidation)
	OrderNotFound     = NewWithKind(KindOrderNotFound)
	VenueUnavailable  = NewWithKind(KindVenueUnavailable)
	NoLiquidity       = NewWithKind(KindNoLiquidity)
	SlippageExceeded  = NewWithKind(KindSlippageExceeded)
	SettlementFailed  = NewWithKind(KindSettlementFailed)
	SettlementUnknown = NewWithKind(KindSettlementUnknown)
	InvalidPair       = NewWithKind(KindInvalidPair)
	InvalidAmount     = NewWithKind(KindInvalidAmount)
	InvalidTransition = NewWithKind(KindInvalidTransition)
	QueueClosed       = NewWithKind(KindQueueClosed)
	Internal          = NewWithKind(KindInternal)
)

// nonRetriable kinds are deterministic rejections, or attempts whose venue
// side effects may already have happened
var nonRetriable = map[string]bool{
	KindValidation:        true,
	KindOrderNotFound:     true,
	KindInvalidPair:       true,
	KindInvalidAmount:     true,
	KindInvalidTransition: true,
	KindSettlementUnknown: true,
}

// FieldError represents a validation error for a specific field
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

func NewFieldError(kind, field, reason string) FieldError {
	return FieldError{Kind: kind, Field: field, Message: reason}
}

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s]", e.Kind)
	if e.Message != "" {
		str += " " + e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the given cause
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// WithField returns a copy of error with the field appended.
func (e *Error) WithField(kind, field, message string) *Error {
	newError := *e
	newError.Fields = append(append([]FieldError(nil), e.Fields...), NewFieldError(kind, field, message))
	return &newError
}

// Is implements the needed interface for errors.Is
// It checks kind for equality
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetriable reports whether a failed attempt may succeed if re-run.
// Errors without a kind (store or cache I/O) are treated as transient.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if As(err, &e) {
		return !nonRetriable[e.Kind]
	}
	return true
}
