package sbi

import (
	"fmt"
	"strings"
)

// Error is an SBI return code (passed back in a0). Success is the only
// non-error value; every failure lies in the closed range [LastErr, ErrFailed].
type Error int64

// SBI return error codes
const (
	Success             Error = 0
	ErrFailed           Error = -1
	ErrNotSupported     Error = -2
	ErrInvalidParam     Error = -3
	ErrDenied           Error = -4
	ErrInvalidAddress   Error = -5
	ErrAlreadyAvailable Error = -6
	ErrAlreadyStarted   Error = -7
	ErrAlreadyStopped   Error = -8

	LastErr = ErrAlreadyStopped
)

var errorNames = [...]string{
	"SUCCESS",
	"ERR_FAILED",
	"ERR_NOT_SUPPORTED",
	"ERR_INVALID_PARAM",
	"ERR_DENIED",
	"ERR_INVALID_ADDRESS",
	"ERR_ALREADY_AVAILABLE",
	"ERR_ALREADY_STARTED",
	"ERR_ALREADY_STOPPED",
}

// Valid reports whether e is Success or one of the defined error codes.
func (e Error) Valid() bool {
	return e <= Success && e >= LastErr
}

// Name returns the symbolic name of e, or "" if e is not a defined code.
func (e Error) Name() string {
	if !e.Valid() {
		return ""
	}
	return errorNames[-e]
}

func (e Error) String() string {
	if name := e.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("ERR_UNKNOWN(%d)", int64(e))
}

// Error implements error. Success should never be returned as a non-nil
// error, callers use AsError to convert.
func (e Error) Error() string {
	return "sbi: " + e.String()
}

// Code returns the register encoding of e.
func (e Error) Code() uint64 {
	return uint64(int64(e))
}

// ErrorFromCode converts a raw a0 value into an Error. Values outside the
// closed error range are rejected.
func ErrorFromCode(code int64) (Error, bool) {
	e := Error(code)
	if !e.Valid() {
		return ErrFailed, false
	}
	return e, true
}

// ParseError resolves a symbolic code such as "SUCCESS", "ERR_DENIED" or
// "invalid_param".
func ParseError(name string) (Error, bool) {
	name = strings.ToUpper(name)
	for i, n := range errorNames {
		if n == name || n == "ERR_"+name {
			return Error(-i), true
		}
	}
	return 0, false
}

// AsError returns nil for Success and e otherwise.
func AsError(e Error) error {
	if e == Success {
		return nil
	}
	return e
}

// Errors returns every defined code from Success down to LastErr.
func Errors() []Error {
	out := make([]Error, 0, len(errorNames))
	for e := Success; e >= LastErr; e-- {
		out = append(out, e)
	}
	return out
}
