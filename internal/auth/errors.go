package auth

import (
	"errors"
	"net/http"
)

// ErrorCode is the closed set of failure kinds the service reports.
type ErrorCode string

const (
	CodeAuth         ErrorCode = "AUTH_ERROR"
	CodeValidation   ErrorCode = "VALIDATION_ERROR"
	CodeService      ErrorCode = "SERVICE_ERROR"
	CodeExpiredToken ErrorCode = "EXPIRED_TOKEN"
	CodeInvalidToken ErrorCode = "INVALID_TOKEN"
	CodeServer       ErrorCode = "SERVER_ERROR"
)

// Error is the only error type returned across the Service boundary.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Details carries caller-safe extra data, e.g. field errors.
	Details any `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// HTTPStatus maps the error code onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidToken:
		return http.StatusBadRequest
	case CodeAuth, CodeExpiredToken:
		return http.StatusUnauthorized
	case CodeService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ValidationError builds a VALIDATION_ERROR carrying field-level messages.
func ValidationError(message string, fields map[string]string) *Error {
	e := newError(CodeValidation, message)
	if len(fields) > 0 {
		e.Details = fields
	}
	return e
}

// AsError extracts an *Error from err. Anything else is reported as a
// generic SERVER_ERROR so callers never see foreign error types.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(CodeServer, MsgUnexpected)
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
