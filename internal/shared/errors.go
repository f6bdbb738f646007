package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// sane defaults are listed below. For routes that need custom error messages,
// a request error can be generated and a handler expects the router to return
// the exact message inside the request error msg
//
// Error codes should be bubbled where the RequestError msg is expected to be
// returned to the user. If the user should see a generic error message but
// the error chain should include more detail for logging purposes, then a generic
// error should be added that provides context
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

func (r *RequestError) Unwrap() error {
	return r.Err
}

// Message is the part of the error that is safe to hand back to a client
func (r *RequestError) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

var (
	ErrMissingAuth   = &RequestError{Err: errors.New("missing authorization header"), StatusCode: 401}
	ErrInvalidFormat = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}
	ErrInvalidKeyLen = &RequestError{Err: errors.New("invalid API key length"), StatusCode: 401}
	ErrUnauthorized  = &RequestError{Err: errors.New("unauthorized"), StatusCode: 401}

	ErrInvalidRequest      = &RequestError{Err: errors.New("invalid request body"), StatusCode: 400}
	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), StatusCode: 500}
	ErrNotFound            = &RequestError{Err: errors.New("not found"), StatusCode: 404}
)

// Dispatch taxonomy. These are wrapped inside a RequestError so routers can
// pull the status with errors.As and classify with errors.Is.
var (
	ErrUnknownModel = errors.New("unknown model")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)

// ErrorCode maps an error chain onto the wire code used in error payloads
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownModel):
		return "unknown_model"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrMissingAuth),
		errors.Is(err, ErrInvalidFormat), errors.Is(err, ErrInvalidKeyLen):
		return "unauthorized"
	default:
		return "internal"
	}
}

// StatusCode returns the status carried by a RequestError in the chain, or 500
func StatusCode(err error) int {
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr.StatusCode
	}
	return 500
}

// PublicMessage returns a message safe to send to clients. Internal faults
// never leak details.
func PublicMessage(err error) string {
	var rerr *RequestError
	if !errors.As(err, &rerr) || rerr.StatusCode >= 500 {
		return ErrInternalServerError.Message()
	}
	return rerr.Message()
}
