// Package transport contains the HTTP router, middleware chain, and request
// handlers that expose the engine over HTTP.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/switchboard/model"
)

// statusClientClosedRequest is reported when the caller went away before
// the invocation finished.
const statusClientClosedRequest = 499

// statusForCode maps error codes to HTTP status codes. It serves both
// ErrorEnvelope errors and failed execution envelopes.
var statusForCode = map[string]int{
	model.ErrBadRequest:          http.StatusBadRequest,
	model.ErrUnauthorized:        http.StatusUnauthorized,
	model.ErrNotFound:            http.StatusNotFound,
	model.ErrConflict:            http.StatusConflict,
	model.ErrDisabled:            http.StatusConflict,
	model.ErrApprovalRejected:    http.StatusConflict,
	model.ErrConditionEvaluation: http.StatusUnprocessableEntity,
	model.ErrStepLimitExceeded:   http.StatusUnprocessableEntity,
	model.ErrDispatchFailure:     http.StatusBadGateway,
	model.ErrTimeout:             http.StatusGatewayTimeout,
	model.ErrCancelled:           statusClientClosedRequest,
	model.ErrInternalError:       http.StatusInternalServerError,
}

func statusFor(code string) int {
	if status := statusForCode[code]; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is returned.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, statusFor(ee.Code), errorResponse{Error: ee})
}

// WriteResponse writes an execution envelope. Successful envelopes are sent
// with 200; failed ones carry the status mapped from their code and the
// envelope itself as the body.
func WriteResponse(w http.ResponseWriter, resp model.Response) {
	status := http.StatusOK
	if !resp.Success {
		status = statusFor(resp.Code)
	}
	WriteJSON(w, status, resp)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}
