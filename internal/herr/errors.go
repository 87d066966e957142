// Package herr defines the structured error taxonomy (§7) shared by the
// root hvac package and every internal component. It lives in its own
// package so internal components (lockutil, cache, serialio, protocol...)
// can construct typed errors without an import cycle through the root
// package.
package herr

import (
	"errors"
	"fmt"
	"syscall"
)

// Code categorizes failures per the error taxonomy (§7).
type Code string

const (
	CodeLockError        Code = "lock error"
	CodeConnectionError  Code = "connection error"
	CodeNetworkError     Code = "network error"
	CodeProtocolError    Code = "protocol error"
	CodeMessageOverflow  Code = "message overflow"
	CodeMessageUnderflow Code = "message underflow"
	CodeOutOfRange       Code = "out of range"
	CodeInvalidArgument  Code = "invalid argument"
	CodeRuntimeError     Code = "runtime error"
)

// Error is a structured error carrying the operation that failed, the
// high-level category, and (where applicable) the underlying errno.
type Error struct {
	Op    string
	Code  Code
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op == "" {
		return fmt.Sprintf("hvac: %s", msg)
	}
	if e.Errno != 0 {
		return fmt.Sprintf("hvac: %s: op=%s errno=%d", msg, e.Op, e.Errno)
	}
	return fmt.Sprintf("hvac: %s: op=%s", msg, e.Op)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// New builds a structured error with an explicit message.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrno builds a structured error from a syscall errno, mapping it to
// the closest error code.
func NewErrno(op string, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error()}
}

// Wrap wraps an arbitrary error with operation context, preserving
// code/errno if the wrapped error is already structured.
func Wrap(op string, code Code, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ie, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: ie.Code, Errno: ie.Errno, Msg: ie.Msg, Inner: ie}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT, syscall.ENODEV:
		return CodeRuntimeError
	case syscall.EBUSY:
		return CodeConnectionError
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidArgument
	case syscall.EAGAIN, syscall.ETIMEDOUT:
		return CodeNetworkError
	default:
		return CodeRuntimeError
	}
}

// Is reports whether err is a structured *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Sentinel errors for common programmer-error conditions (§4.5, §7).
var (
	ErrChannelOutOfRange = &Error{Code: CodeOutOfRange, Msg: "AI/DO channel index out of range"}
	ErrNotFound          = &Error{Code: CodeInvalidArgument, Msg: "point or setpoint not found"}
	ErrNotNegotiated     = &Error{Code: CodeProtocolError, Msg: "message received before HELLO negotiation"}
	ErrArityMismatch     = &Error{Code: CodeProtocolError, Msg: "message arity mismatch"}
	ErrUnknownType       = &Error{Code: CodeProtocolError, Msg: "unknown message type"}
	ErrLengthMismatch    = &Error{Code: CodeProtocolError, Msg: "frame length prefix mismatch"}
	ErrQueueFull         = &Error{Code: CodeMessageOverflow, Msg: "queue full"}
	ErrQueueEmpty        = &Error{Code: CodeMessageUnderflow, Msg: "queue empty"}
	ErrLockFailed        = &Error{Code: CodeLockError, Msg: "mutex acquire/release failed"}
)
