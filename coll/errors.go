package coll

import (
	"errors"
	"fmt"
)

// Errno is the host runtime's error-code convention for collective calls.
type Errno int32

const (
	Success Errno = iota
	// ErrCollective reports a failure while executing a collective.
	ErrCollective
	// ErrNotInstalled reports that the group's table has no entry for the operation.
	ErrNotInstalled
	// ErrInvalidArgument reports malformed call arguments.
	ErrInvalidArgument
	// ErrTruncate reports a buffer too small for the described data.
	ErrTruncate
	// ErrRequestFreed reports use of a request after Free.
	ErrRequestFreed
	// ErrNotSupported reports an operation the implementation cannot perform.
	ErrNotSupported
)

var errnoNames = map[Errno]string{
	Success:            "success",
	ErrCollective:      "collective operation failed",
	ErrNotInstalled:    "operation not installed",
	ErrInvalidArgument: "invalid argument",
	ErrTruncate:        "message truncated",
	ErrRequestFreed:    "request already freed",
	ErrNotSupported:    "operation not supported",
}

func (e Errno) Error() string {
	return e.String()
}

func (e Errno) String() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("errno(%d)", int32(e))
}

// OpError carries the operation, the host error code and the underlying cause
// of a failed collective call.
type OpError struct {
	Kind OpKind
	Code Errno
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("coll %s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("coll %s: %s: %v", e.Kind, e.Code, e.Err)
}

// Unwrap allows errors.Is / errors.As to match both the code and the cause.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Err}
}

// Code extracts the Errno carried by err, ErrCollective for foreign errors and
// Success for nil.
func Code(err error) Errno {
	if err == nil {
		return Success
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	var code Errno
	if errors.As(err, &code) {
		return code
	}
	return ErrCollective
}

func opError(kind OpKind, code Errno, format string, args ...any) error {
	return &OpError{Kind: kind, Code: code, Err: fmt.Errorf(format, args...)}
}
