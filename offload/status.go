package offload

import (
	"errors"
	"fmt"
)

// Status is a library status code.
type Status int32

const (
	StatusOK Status = iota
	StatusInProgress
	StatusNotSupported
	StatusNoResource
	StatusInvalidParam
	StatusTimedOut
	StatusCanceled
	StatusErrGeneric
)

var statusNames = map[Status]string{
	StatusOK:           "success",
	StatusInProgress:   "operation in progress",
	StatusNotSupported: "operation not supported",
	StatusNoResource:   "out of resources",
	StatusInvalidParam: "invalid parameter",
	StatusTimedOut:     "operation timed out",
	StatusCanceled:     "operation canceled",
	StatusErrGeneric:   "operation failed",
}

// Error returns the human-readable status message.
func (s Status) Error() string {
	return s.String()
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// WithOp adds operation context to the status.
func (s Status) WithOp(op string) error {
	if op == "" {
		return s
	}
	return fmt.Errorf("%s: %w", op, s)
}

// StatusError converts a status into an error. StatusOK maps to nil.
func StatusError(status Status, op string) error {
	if status == StatusOK {
		return nil
	}
	return status.WithOp(op)
}

// StatusOf extracts the status carried by err. Errors without one report
// StatusErrGeneric; nil reports StatusOK.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusErrGeneric
}
