package dpm86xx

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout        = errors.New("communication timeout")
	ErrNoResponse     = errors.New("no response from device")
	ErrInvalidFrame   = errors.New("invalid frame")
	ErrBusClosed      = errors.New("bus is closed")
	ErrInvalidAddress = errors.New("invalid device address")
	ErrOutOfRange     = errors.New("value out of range")
)

// CommError represents a transport-level error.
type CommError struct {
	Op  string // Operation that failed (e.g., "read", "write")
	Err error  // Underlying error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("communication error during %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// DeviceError represents an error from a specific device address.
type DeviceError struct {
	Address int    // RS-485 device address
	Op      string // Operation that failed
	Err     error  // Underlying error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %d %s failed: %v", e.Address, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNoResponse returns true if the error indicates no response was received.
func IsNoResponse(err error) bool {
	return errors.Is(err, ErrNoResponse)
}

// GetDeviceError extracts a DeviceError from an error chain, if present.
func GetDeviceError(err error) (*DeviceError, bool) {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr, true
	}
	return nil, false
}
