package errorx

import (
	"errors"
	"fmt"
)

// CodeError is an error carrying a business code.
// It wraps an optional cause so errors.Is/errors.As keep working.
type CodeError struct {
	Code  int    // business code
	Msg   string // client facing message
	cause error  // wrapped cause
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

func (e *CodeError) Unwrap() error {
	return e.cause
}

// Is matches two CodeErrors by code, so predefined instances work with errors.Is.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a CodeError.
func New(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

// Newf creates a CodeError with a formatted message.
func Newf(code int, format string, args ...any) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// Wrap attaches a business code and message to err.
// Usage: errorx.Wrap(err, CodeNotFound, "message not found")
func Wrap(err error, code int, msg string) *CodeError {
	return &CodeError{
		Code:  code,
		Msg:   msg,
		cause: err,
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code int, format string, args ...any) *CodeError {
	return &CodeError{
		Code:  code,
		Msg:   fmt.Sprintf(format, args...),
		cause: err,
	}
}

// GetCode extracts the business code, CodeServerBusy for foreign errors.
func GetCode(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return CodeServerBusy
}

// GetMsg extracts the client facing message, hiding foreign error text.
func GetMsg(err error) string {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Msg
	}
	return "server busy"
}

const (
	CodeSuccess      = 1000 // success
	CodeInvalidParam = 1001 // bad request parameters
	CodeInvalidOTP   = 1004 // wrong or expired otp
	CodeServerBusy   = 1005 // server busy
	CodeUnauthorized = 1006 // authentication failed
	CodeForbidden    = 1007 // authenticated but not allowed
	CodeNotFound     = 1008 // resource not found
	CodeTooFrequent  = 1009 // throttled
	CodeDBError      = 1010 // database error
	CodeCacheError   = 1011 // cache error

	// relay codes
	CodeTargetUnavailable = 1101
	CodeInvalidTransition = 1102
	CodeTargetBusy        = 1103
	CodeNotJoined         = 1104
	CodeInvalidSignal     = 1105
	CodeUnknownEvent      = 1106
)

// Reason returns the stable snake_case name of a relay code, used on the wire.
func Reason(code int) string {
	switch code {
	case CodeTargetUnavailable:
		return "target_unavailable"
	case CodeInvalidTransition:
		return "invalid_transition"
	case CodeTargetBusy:
		return "busy"
	case CodeNotJoined:
		return "not_joined"
	case CodeInvalidSignal:
		return "invalid_signal"
	case CodeUnknownEvent:
		return "unknown_event"
	case CodeInvalidParam:
		return "invalid_param"
	case CodeForbidden:
		return "forbidden"
	case CodeNotFound:
		return "not_found"
	default:
		return "server_error"
	}
}

var (
	ErrInvalidParam = New(CodeInvalidParam, "invalid parameters")
	ErrServerBusy   = New(CodeServerBusy, "server busy")
)

// IsNotFound reports whether err is a not-found error, gorm's included.
func IsNotFound(err error) bool {
	var codeErr *CodeError
	if errors.As(err, &codeErr) && codeErr.Code == CodeNotFound {
		return true
	}
	return err != nil && err.Error() == "record not found"
}
