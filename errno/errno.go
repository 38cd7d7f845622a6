// Package errno defines the error sentinels used throughout bfs and a small
// wrapper type that carries both a POSIX-style code and a human-readable
// message, mirroring what a host's errno mapping layer expects to receive.
package errno

import (
	"fmt"
	"syscall"
)

// Code is one of this package's sentinel error codes. Success has no Code
// value of its own: it is always represented as a nil error.
type Code string

const (
	EINVAL  = Code("invalid argument")
	ENOENT  = Code("no such file or directory")
	EEXIST  = Code("file exists")
	ENODEV  = Code("no such device")
	ENOMEM  = Code("cannot allocate memory")
	ENOSPC  = Code("no space left on device")
	EIO     = Code("input/output error")
	ENOTSUP = Code("operation not supported")
	EFAULT  = Code("bad address")
)

func (c Code) Error() string {
	return string(c)
}

// Errno maps a Code onto the platform's syscall.Errno where a direct
// equivalent exists, for hosts that want to propagate a real errno value.
func (c Code) Errno() syscall.Errno {
	switch c {
	case EINVAL:
		return syscall.EINVAL
	case ENOENT:
		return syscall.ENOENT
	case EEXIST:
		return syscall.EEXIST
	case ENODEV:
		return syscall.ENODEV
	case ENOMEM:
		return syscall.ENOMEM
	case ENOSPC:
		return syscall.ENOSPC
	case EIO:
		return syscall.EIO
	case ENOTSUP:
		return syscall.ENOTSUP
	case EFAULT:
		return syscall.EFAULT
	default:
		return syscall.EINVAL
	}
}

// Error is a DriverError-shaped value: a sentinel Code plus an optional
// message describing the specific circumstance. The fat, ext and mount
// packages return it in place of a generic `error`; blockdev and fsapi
// return plain `error` values.
type Error struct {
	Code    Code
	message string
}

func (e *Error) Error() string {
	if e.message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.message)
	}
	return e.Code.Error()
}

// Unwrap lets callers use errors.Is(err, errno.ENOENT) style checks, since
// Code itself implements error.
func (e *Error) Unwrap() error {
	return e.Code
}

// New creates an *Error with the default message for the given Code.
func New(code Code) *Error {
	return &Error{Code: code}
}

// Newf creates an *Error with a formatted message appended to the code's
// default description.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, message: fmt.Sprintf(format, args...)}
}

// Is reports whether err wraps the given Code, so callers can write
// `errno.Is(err, errno.ENOSPC)` instead of manual type assertions.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Code == code
}
