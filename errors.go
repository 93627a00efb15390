package vrdma

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/ehrlich-b/go-vrdma/internal/queue"
)

// Error represents a structured vrdma error with context and errno mapping
type Error struct {
	Op     string        // Operation that failed (e.g., "CREATE_QP", "POST_SEND")
	Handle uint32        // CQ or QP handle (0 if not applicable)
	QPN    uint32        // Queue pair number (0 if not applicable)
	Queue  string        // "sq", "rq" or "cq" (empty if not applicable)
	Code   ErrorCode     // High-level error category
	Errno  syscall.Errno // Device errno (0 if not applicable)
	WRID   uint64        // wr_id of the refused work request
	// Posted and Requested describe a partial post: Posted of Requested
	// work requests were accepted.
	Posted    int
	Requested int
	Msg       string // Human-readable message
	Inner     error  // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Handle != 0 {
		parts = append(parts, fmt.Sprintf("handle=%d", e.Handle))
	}
	if e.QPN != 0 {
		parts = append(parts, fmt.Sprintf("qpn=%#x", e.QPN))
	}
	if e.Queue != "" {
		parts = append(parts, "queue="+e.Queue)
	}
	if e.Requested > 0 {
		parts = append(parts, fmt.Sprintf("posted=%d/%d", e.Posted, e.Requested), fmt.Sprintf("wr_id=%#x", e.WRID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("vrdma: %s (%s)", msg, strings.Join(parts, " "))
	}
	return "vrdma: " + msg
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches sentinel VError values and other *Error values by code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if ve, ok := target.(VError); ok {
		return e.Code == ErrorCode(ve)
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeResourceExhausted    ErrorCode = "resource exhausted"
	ErrCodeUnsupportedOperation ErrorCode = "unsupported operation"
	ErrCodeMappingFailed        ErrorCode = "mapping failed"
	ErrCodeProtocolMismatch     ErrorCode = "protocol mismatch"
	ErrCodeInvalidParameters    ErrorCode = "invalid parameters"
	ErrCodeDeviceError          ErrorCode = "device error"
	ErrCodePermissionDenied     ErrorCode = "permission denied"
	ErrCodeInsufficientMemory   ErrorCode = "insufficient memory"
	ErrCodeDeviceNotFound       ErrorCode = "device not found"
	ErrCodeDeviceBusy           ErrorCode = "device busy"
	ErrCodeNotImplemented       ErrorCode = "not implemented"
	ErrCodeClosed               ErrorCode = "closed"
)

// VError is a sentinel matching any *Error with the same code.
type VError string

func (e VError) Error() string {
	return string(e)
}

const (
	ErrResourceExhausted    VError = "resource exhausted"
	ErrUnsupportedOperation VError = "unsupported operation"
	ErrMappingFailed        VError = "mapping failed"
	ErrProtocolMismatch     VError = "protocol mismatch"
	ErrInvalidParameters    VError = "invalid parameters"
	ErrDeviceError          VError = "device error"
	ErrPermissionDenied     VError = "permission denied"
	ErrInsufficientMemory   VError = "insufficient memory"
	ErrDeviceNotFound       VError = "device not found"
	ErrDeviceBusy           VError = "device busy"
	ErrNotImplemented       VError = "not implemented"
	ErrClosed               VError = "closed"
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewErrorWithErrno creates a new structured error with errno
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:    op,
		Code:  code,
		Errno: errno,
		Msg:   errno.Error(),
	}
}

// WrapError wraps an existing error with vrdma context. Queue engine
// sentinels and device errnos anywhere in the chain pick the code.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var ve *Error
	if errors.As(inner, &ve) {
		e := *ve
		e.Op = op
		return &e
	}

	e := &Error{
		Op:    op,
		Code:  codeOf(inner),
		Msg:   inner.Error(),
		Inner: inner,
	}
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		e.Errno = errno
	}
	var re *queue.RequestError
	if errors.As(inner, &re) {
		e.WRID = re.WRID
	}
	return e
}

func codeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, queue.ErrResourceExhausted):
		return ErrCodeResourceExhausted
	case errors.Is(err, queue.ErrUnsupportedOperation):
		return ErrCodeUnsupportedOperation
	case errors.Is(err, queue.ErrInvalidArgument):
		return ErrCodeInvalidParameters
	case errors.Is(err, queue.ErrProtocolMismatch):
		return ErrCodeProtocolMismatch
	case errors.Is(err, queue.ErrMapping):
		return ErrCodeMappingFailed
	case errors.Is(err, queue.ErrClosed):
		return ErrCodeClosed
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return mapErrnoToCode(errno)
	}
	return ErrCodeDeviceError
}

// mapErrnoToCode maps device errnos to vrdma error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ENODEV, syscall.ENXIO:
		return ErrCodeDeviceNotFound
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeUnsupportedOperation
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.EBADF:
		return ErrCodeClosed
	default:
		return ErrCodeDeviceError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Errno == errno
	}
	return false
}
