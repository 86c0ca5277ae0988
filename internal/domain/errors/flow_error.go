// Package errors defines the tagged error type returned by conversation flows.
package errors

import (
	"errors"
	"fmt"
)

// Kind tags a ConversationFlowError with the failure it represents.
type Kind string

const (
	KindDataAccess     Kind = "DATA_ACCESS_ERROR"
	KindClassification Kind = "CLASSIFICATION_ERROR"
	KindGeneration     Kind = "GENERATION_ERROR"
	KindStoppingIdle   Kind = "STOPPING_IDLE"
	KindEvaluation     Kind = "EVALUATION_ERROR"
)

// Kinds lists every Kind. Switches over Kind are expected to cover all of them.
var Kinds = []Kind{KindDataAccess, KindClassification, KindGeneration, KindStoppingIdle, KindEvaluation}

func (k Kind) String() string {
	return string(k)
}

// Retryable reports whether a caller may retry the failed operation.
// STOPPING_IDLE is benign and EVALUATION_ERROR never blocks generation,
// so neither is retried.
func (k Kind) Retryable() bool {
	switch k {
	case KindDataAccess, KindClassification, KindGeneration:
		return true
	case KindStoppingIdle, KindEvaluation:
		return false
	default:
		panic(fmt.Sprintf("unhandled flow error kind %q", string(k)))
	}
}

// ConversationFlowError is returned by every conversation and workflow operation.
type ConversationFlowError struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *ConversationFlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ConversationFlowError) Unwrap() error {
	return e.Cause
}

// Is matches another ConversationFlowError of the same kind, so
// errors.Is(err, &ConversationFlowError{Kind: KindStoppingIdle}) works.
func (e *ConversationFlowError) Is(target error) bool {
	var other *ConversationFlowError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && (other.Message == "" || other.Message == e.Message)
}

// New creates a flow error of the given kind.
func New(kind Kind, message string, cause error) *ConversationFlowError {
	return &ConversationFlowError{Kind: kind, Message: message, Cause: cause}
}

// DataAccess wraps a storage failure.
func DataAccess(cause error, message string) *ConversationFlowError {
	return New(KindDataAccess, message, cause)
}

// Classification wraps a failure to classify or plan a response.
func Classification(cause error, message string) *ConversationFlowError {
	return New(KindClassification, message, cause)
}

// Generation wraps a failure from the model call.
func Generation(cause error, message string) *ConversationFlowError {
	return New(KindGeneration, message, cause)
}

// StoppingIdle reports a stop request against a message that is not generating.
func StoppingIdle(messageID string) *ConversationFlowError {
	return New(KindStoppingIdle, fmt.Sprintf("message %s is not generating", messageID), nil)
}

// Evaluation wraps an offline evaluation failure.
func Evaluation(cause error, message string) *ConversationFlowError {
	return New(KindEvaluation, message, cause)
}

// As extracts a ConversationFlowError from err.
func As(err error) (*ConversationFlowError, bool) {
	var fe *ConversationFlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not a flow error.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err is a flow error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Ensure wraps err as a flow error of the given kind unless it already is one.
func Ensure(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return New(kind, message, err)
}
