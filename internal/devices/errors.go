// ABOUTME: Error types for device connection operations
// ABOUTME: Typed errors carry the address or reason and unwrap to the cause
package devices

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownDevice is returned for an address the registry has never seen
	ErrUnknownDevice = errors.New("unknown device")

	// ErrNotConnected is returned when selecting a sink that is not connected
	ErrNotConnected = errors.New("device not connected")
)

// BusyError reports that another operation on the address is in flight
type BusyError struct {
	Address string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("device %s is busy", e.Address)
}

// ConnectError reports a failed connect
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("Could not connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// DisconnectError reports a failed disconnect
type DisconnectError struct {
	Address string
	Err     error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("Could not disconnect from %s: %v", e.Address, e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// SinkError reports a failed sink selection
type SinkError struct {
	Reason string
	Err    error
}

func (e *SinkError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
