// Package hvac is the shared systems library for the logic-core daemon: the
// lock/sleep primitive, thread registry, watchdog, configuration store,
// board state cache, serial I/O workers, message codec, connection
// contexts, server dispatch, listener, HVAC logic loop and process
// supervisor described in the system specification.
package hvac

import "github.com/bbbhvac/hvaccore/internal/herr"

// Re-export the error taxonomy for public API consumers.
type (
	Error     = herr.Error
	ErrorCode = herr.Code
)

const (
	CodeLockError        = herr.CodeLockError
	CodeConnectionError  = herr.CodeConnectionError
	CodeNetworkError     = herr.CodeNetworkError
	CodeProtocolError    = herr.CodeProtocolError
	CodeMessageOverflow  = herr.CodeMessageOverflow
	CodeMessageUnderflow = herr.CodeMessageUnderflow
	CodeOutOfRange       = herr.CodeOutOfRange
	CodeInvalidArgument  = herr.CodeInvalidArgument
	CodeRuntimeError     = herr.CodeRuntimeError
)

var (
	NewError      = herr.New
	NewErrnoError = herr.NewErrno
	WrapError     = herr.Wrap
	IsCode        = herr.Is
)

var (
	ErrChannelOutOfRange = herr.ErrChannelOutOfRange
	ErrNotFound          = herr.ErrNotFound
	ErrNotNegotiated     = herr.ErrNotNegotiated
	ErrArityMismatch     = herr.ErrArityMismatch
	ErrUnknownType       = herr.ErrUnknownType
	ErrLengthMismatch    = herr.ErrLengthMismatch
	ErrQueueFull         = herr.ErrQueueFull
	ErrQueueEmpty        = herr.ErrQueueEmpty
	ErrLockFailed        = herr.ErrLockFailed
)
