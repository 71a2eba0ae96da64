package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures so that callers can decide between retrying,
// dead-lettering and surfacing to the user without parsing messages.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindIdempotent    Kind = "idempotent_noop"
	KindTransient     Kind = "transient"
	KindTerminal      Kind = "terminal"
	KindStateConflict Kind = "state_conflict"
	KindRaceLoss      Kind = "race_loss"
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

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the classification of err, defaulting to transient so that
// unclassified failures are retried rather than dropped.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransient
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Terminal marks err as permanently failed; retries will not help.
func Terminal(msg string, err error) *Error {
	return &Error{Kind: KindTerminal, Msg: msg, Err: err}
}

// Transient marks err as retryable.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}
