package plan

import (
	"errors"
	"fmt"
)

// ErrorClass classifies the failures raised while building, applying or
// checking a reconfiguration plan.
type ErrorClass string

const (
	// ErrorClassInvalid indicates a caller error: bad index, bad interval,
	// duplicate action, unknown constraint parameter.
	ErrorClassInvalid ErrorClass = "invalid"

	// ErrorClassMalformed indicates an action whose preconditions do not hold
	// on the model it is applied to.
	ErrorClassMalformed ErrorClass = "malformed"

	// ErrorClassDeadlock indicates actions that can never be unblocked.
	ErrorClassDeadlock ErrorClass = "deadlock"

	// ErrorClassViolation indicates a constraint that does not hold.
	ErrorClassViolation ErrorClass = "violation"
)

// Error is a classified error with plan context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Action is the textual form of the action involved, if any.
	Action string `json:"action,omitempty"`

	// Index is the plan index of the action involved, -1 when unset.
	Index int `json:"index"`

	// Constraint names the violated constraint, if any.
	Constraint string `json:"constraint,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Constraint != "" && e.Action != "":
		msg += fmt.Sprintf(" (constraint=%s, action=%s)", e.Constraint, e.Action)
	case e.Constraint != "":
		msg += fmt.Sprintf(" (constraint=%s)", e.Constraint)
	case e.Action != "":
		msg += fmt.Sprintf(" (action=%s)", e.Action)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same class and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *Error {
	return &Error{Class: class, Message: message, Index: -1, Err: err}
}

// NewInvalidError creates an invalid-argument error.
func NewInvalidError(message string, err error) *Error {
	return newError(ErrorClassInvalid, message, err)
}

// NewMalformedError creates a malformed-action error.
func NewMalformedError(message string, err error) *Error {
	return newError(ErrorClassMalformed, message, err)
}

// NewDeadlockError creates a deadlock error.
func NewDeadlockError(message string, err error) *Error {
	return newError(ErrorClassDeadlock, message, err)
}

// NewViolationError creates a constraint violation error.
func NewViolationError(message string, err error) *Error {
	return newError(ErrorClassViolation, message, err)
}

// WithAction records the action involved and its plan index.
func (e *Error) WithAction(index int, a Action) *Error {
	e.Index = index
	if a != nil {
		e.Action = a.String()
	}
	return e
}

// WithConstraint records the constraint involved.
func (e *Error) WithConstraint(name string) *Error {
	e.Constraint = name
	return e
}

// WithCode adds an error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func isClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsInvalid returns true if the error is classified as invalid.
func IsInvalid(err error) bool { return isClass(err, ErrorClassInvalid) }

// IsMalformed returns true if the error is classified as malformed.
func IsMalformed(err error) bool { return isClass(err, ErrorClassMalformed) }

// IsDeadlock returns true if the error is classified as a deadlock.
func IsDeadlock(err error) bool { return isClass(err, ErrorClassDeadlock) }

// IsViolation returns true if the error is classified as a violation.
func IsViolation(err error) bool { return isClass(err, ErrorClassViolation) }

// Common error codes.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeOutOfRange   = "OUT_OF_RANGE"
	ErrCodeCycle        = "CYCLE"
	ErrCodeBlocked      = "BLOCKED"
	ErrCodeApplyFailed  = "APPLY_FAILED"
	ErrCodeStartState   = "START_STATE"
	ErrCodeActionRule   = "ACTION_RULE"
	ErrCodeEndState     = "END_STATE"
	ErrCodeUnclosedPlan = "UNCLOSED_PLAN"
)

// Sentinel errors.
var (
	// ErrInvalidInterval is returned by action constructors when the interval
	// does not satisfy 0 <= start <= end.
	ErrInvalidInterval = errors.New("invalid action interval")

	// ErrDuplicateAction is returned when the same action is added twice.
	ErrDuplicateAction = errors.New("duplicate action")

	// ErrBlocked is returned when committing an action with uncommitted dependencies.
	ErrBlocked = errors.New("action is blocked")

	// ErrAlreadyCommitted is returned when committing an action twice.
	ErrAlreadyCommitted = errors.New("action already committed")
)
