// Package failure defines the typed errors raised while resolving, executing
// and encoding recorded steps.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindElementNotFound         Kind = "element_not_found"
	KindAmbiguousMatch          Kind = "ambiguous_match"
	KindAssertionFailed         Kind = "assertion_failed"
	KindUnexpectedLocation      Kind = "unexpected_location"
	KindUnrecognizedAction      Kind = "unrecognized_action"
	KindActionContractViolation Kind = "action_contract_violation"
	KindMalformedScript         Kind = "malformed_script"
	KindCodeGenerationFailed    Kind = "code_generation_failed"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrElementNotFound         = &Error{Kind: KindElementNotFound}
	ErrAmbiguousMatch          = &Error{Kind: KindAmbiguousMatch}
	ErrAssertionFailed         = &Error{Kind: KindAssertionFailed}
	ErrUnexpectedLocation      = &Error{Kind: KindUnexpectedLocation}
	ErrUnrecognizedAction      = &Error{Kind: KindUnrecognizedAction}
	ErrActionContractViolation = &Error{Kind: KindActionContractViolation}
	ErrMalformedScript         = &Error{Kind: KindMalformedScript}
	ErrCodeGenerationFailed    = &Error{Kind: KindCodeGenerationFailed}
)

// Error is a classified failure, optionally tied to a step.
type Error struct {
	Kind    Kind
	StepID  string
	Action  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.StepID != "" {
		return fmt.Sprintf("step %s: %s", e.StepID, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind. An UnexpectedLocation also
// matches AssertionFailed.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindAssertionFailed && e.Kind == KindUnexpectedLocation
}

// New returns a failure of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ForStep returns err annotated with the step id and action. Unclassified
// errors are wrapped as AssertionFailed so the playback engine treats them
// as retryable precondition failures.
func ForStep(err error, stepID, action string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.StepID != "" {
			return err
		}
		cp := *fe
		cp.StepID = stepID
		if cp.Action == "" {
			cp.Action = action
		}
		return &cp
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Kind: KindAssertionFailed, StepID: stepID, Action: action, Err: err, Message: "step failed"}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Retryable reports whether waiting could make err go away.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch KindOf(err) {
	case KindUnrecognizedAction, KindActionContractViolation, KindMalformedScript, KindCodeGenerationFailed:
		return false
	}
	return true
}
