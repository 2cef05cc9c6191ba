package model

import (
	"errors"
	"fmt"
)

// Error codes carried by failed Responses and ErrorEnvelopes.
const (
	ErrNotFound            = "NOT_FOUND"
	ErrDisabled            = "DISABLED"
	ErrTimeout             = "TIMEOUT"
	ErrDispatchFailure     = "DISPATCH_FAILURE"
	ErrConditionEvaluation = "CONDITION_EVALUATION_ERROR"
	ErrBadRequest          = "BAD_REQUEST"
	ErrInternalError       = "INTERNAL_ERROR"
	ErrCancelled           = "CANCELLED"
	ErrConflict            = "CONFLICT"
	ErrUnauthorized        = "UNAUTHORIZED"

	ErrApprovalRejected  = "APPROVAL_REJECTED"
	ErrStepLimitExceeded = "STEP_LIMIT_EXCEEDED"
)

// ErrorEnvelope is returned by the management APIs: definition loading,
// toggles, approvals and run lookup. Execution never returns it; connector
// and workflow failures travel inside a Response.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// FieldError locates one problem in a definition file.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEnvelope) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches any ErrorEnvelope with the same code, so callers can test
// errors.Is(err, &ErrorEnvelope{Code: ErrNotFound}).
func (e *ErrorEnvelope) Is(target error) bool {
	t, ok := target.(*ErrorEnvelope)
	return ok && t.Code == e.Code
}

// Errorf builds an envelope with a formatted message.
func Errorf(code, format string, args ...any) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the envelope code of err, or ErrInternalError when err does
// not wrap an envelope.
func CodeOf(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ErrInternalError
}

// NewBadRequestError rejects malformed input.
func NewBadRequestError(msg string) *ErrorEnvelope { return Errorf(ErrBadRequest, "%s", msg) }

// NewNotFoundError reports an unknown connector, workflow, run or gate.
func NewNotFoundError(msg string) *ErrorEnvelope { return Errorf(ErrNotFound, "%s", msg) }

// NewUnauthorizedError rejects a missing or invalid bearer token.
func NewUnauthorizedError(msg string) *ErrorEnvelope { return Errorf(ErrUnauthorized, "%s", msg) }

// NewConflictError reports a request that contradicts recorded state.
func NewConflictError(msg string) *ErrorEnvelope { return Errorf(ErrConflict, "%s", msg) }

// NewValidationError reports every problem found in a definition set.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	e := Errorf(ErrBadRequest, "%d definition problem(s)", len(details))
	e.Details = details
	return e
}

// NewInternalError hides the cause from clients; log it before returning.
func NewInternalError() *ErrorEnvelope {
	return Errorf(ErrInternalError, "internal error")
}
