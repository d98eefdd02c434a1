package bridge

import (
	"errors"
	"fmt"
)

// Code is the error code reported to channel clients.
type Code string

const (
	CodeInvalidArguments Code = "INVALID_ARGUMENTS"
	CodeNoContext        Code = "NO_CONTEXT"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeSendFailed       Code = "SEND_FAILED"
)

var (
	// ErrClosed is wrapped by NO_CONTEXT errors once the bridge is closed.
	ErrClosed = errors.New("bridge closed")
	// ErrSetup is wrapped when completion handles could not be allocated.
	ErrSetup = errors.New("transport setup failed")
)

// Error is a synchronous send failure. No event is published for errors with
// codes other than SEND_FAILED.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code carried by err, or SEND_FAILED for foreign errors.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeSendFailed
}

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}
