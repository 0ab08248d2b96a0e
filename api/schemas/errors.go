package schemas

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy that drives retry policy.
type ErrorKind string

const (
	ErrorTransient         ErrorKind = "TRANSIENT"
	ErrorValidation        ErrorKind = "VALIDATION"
	ErrorStructural        ErrorKind = "STRUCTURAL"
	ErrorCaptchaUnresolved ErrorKind = "CAPTCHA_UNRESOLVED"
	ErrorFatal             ErrorKind = "FATAL"
)

// AttemptError is the typed outcome sub-components return to the orchestrator.
type AttemptError struct {
	Kind    ErrorKind
	Step    string
	Message string
	Err     error
}

func (e *AttemptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Step, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Step, e.Kind, e.Message)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// NewAttemptError builds an AttemptError.
func NewAttemptError(kind ErrorKind, step, msg string, err error) *AttemptError {
	return &AttemptError{Kind: kind, Step: step, Message: msg, Err: err}
}

// KindOf returns the kind of the first AttemptError in the chain, or "" if none.
func KindOf(err error) ErrorKind {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
