// Package autherr defines the authentication error taxonomy shared by the identity
// client, the session layer and the HTTP handlers.
package autherr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Code identifies an authentication failure independent of the identity provider.
type Code string

const (
	CodeInvalidUserPassword  Code = "INVALID_USER_PASSWORD"
	CodeBlockedUser          Code = "BLOCKED_USER"
	CodeTooManyAttempts      Code = "TOO_MANY_ATTEMPTS"
	CodeExpiredToken         Code = "EXPIRED_TOKEN"
	CodeInvalidToken         Code = "INVALID_TOKEN"
	CodeInvalidConfiguration Code = "INVALID_CONFIGURATION"
	CodeNetworkError         Code = "NETWORK_ERROR"
	CodeTimeout              Code = "TIMEOUT"
	CodeUnknown              Code = "UNKNOWN_ERROR"
)

// Error is an authentication error carrying a normalized code.
type Error struct {
	Code        Code
	Description string
	Err         error
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrInvalidUserPassword  = &Error{Code: CodeInvalidUserPassword}
	ErrBlockedUser          = &Error{Code: CodeBlockedUser}
	ErrTooManyAttempts      = &Error{Code: CodeTooManyAttempts}
	ErrExpiredToken         = &Error{Code: CodeExpiredToken}
	ErrInvalidToken         = &Error{Code: CodeInvalidToken}
	ErrInvalidConfiguration = &Error{Code: CodeInvalidConfiguration}
	ErrNetwork              = &Error{Code: CodeNetworkError}
	ErrTimeout              = &Error{Code: CodeTimeout}
	ErrUnknown              = &Error{Code: CodeUnknown}
)

// New creates an error with the given code and description.
func New(code Code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error) *Error {
	e := &Error{Code: code, Err: err}
	if err != nil {
		e.Description = err.Error()
	}
	return e
}

// Configuration returns an INVALID_CONFIGURATION error for a missing or malformed setting.
func Configuration(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidConfiguration, Description: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code carried by err. Context and network failures that were
// never normalized map to TIMEOUT and NETWORK_ERROR; anything else is UNKNOWN_ERROR.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetworkError
	}
	return CodeUnknown
}

// HTTPStatus maps a code onto the status returned to HTTP clients.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidUserPassword, CodeExpiredToken, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeBlockedUser:
		return http.StatusForbidden
	case CodeTooManyAttempts:
		return http.StatusTooManyRequests
	case CodeNetworkError:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
