package distxn

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrAllocation is reported when the coordinator has no room for another
	// transaction or participant.
	ErrAllocation = errors.New("distxn: allocation failed")
	// ErrDeviceCreate wraps a device that could not create its local transaction.
	ErrDeviceCreate = errors.New("distxn: device create failed")
	// ErrDeviceStart wraps a device that could not start its local transaction.
	ErrDeviceStart = errors.New("distxn: device start failed")
	// ErrDeviceStop wraps a device whose commit or abort failed.
	ErrDeviceStop = errors.New("distxn: device stop failed")
	// ErrNotFound is returned by Lookup for a device that was never attached.
	ErrNotFound = errors.New("distxn: device not attached")
	// ErrDestroyed is returned for any call made after Stop.
	ErrDestroyed = errors.New("distxn: transaction already stopped")
)

// Op names the lifecycle step that failed
type Op string

const (
	OpAllocate Op = "allocate"
	OpCreate   Op = "create"
	OpStart    Op = "start"
	OpStop     Op = "stop"
)

// Error describes a failure of one participant.
type Error struct {
	// Distributed transaction ID
	TxnID string

	// Device that failed
	Device DeviceID

	// Step that failed
	Op Op

	// Underlying error
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("transaction %s: %s on device %s failed: %v", e.TxnID, e.Op, e.Device, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the failed step.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAllocation:
		return e.Op == OpAllocate
	case ErrDeviceCreate:
		return e.Op == OpCreate
	case ErrDeviceStart:
		return e.Op == OpStart
	case ErrDeviceStop:
		return e.Op == OpStop
	}
	return false
}

// Code maps an error to a negative status code: 0 for nil, the negated errno for
// syscall errors, the value of Code() for errors that carry one and -1 otherwise.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return -1
}
