// Package fault classifies failures the booking flow has to react to
// differently: reject, replay, retry, compensate, or page an operator.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindValidation marks a malformed command, rejected before any state change.
	KindValidation Kind = "validation"
	// KindConflict marks a duplicate/idempotency violation, treated as a success replay.
	KindConflict Kind = "conflict"
	// KindRetryable marks a transient condition (lock busy, downstream unavailable).
	KindRetryable Kind = "retryable"
	// KindBusiness marks a definitive domain refusal (no seats, payment declined).
	KindBusiness Kind = "business"
	// KindFatal marks an unrecoverable condition surfaced to operators.
	KindFatal Kind = "fatal"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or "" when err carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool { return KindOf(err) == kind }
