package printer

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNoDevicesFound      = errors.New("no printers found nearby")
	ErrUserCancelled       = errors.New("printer selection cancelled")
	ErrNoCompatibleService = errors.New("printer has no supported service")
	ErrNotConnected        = errors.New("printer not connected")
	ErrNotSupported        = errors.New("operation not supported on this platform")

	errNoSavedPrinter = errors.New("no saved printer")
	errNotAuthorized  = errors.New("saved printer is not authorized")
	errNotInRange     = errors.New("saved printer not in range")
	errPairNotFound   = errors.New("service or characteristic not found")
)

// WriteError is a characteristic write rejected part way through a job
type WriteError struct {
	Offset int // bytes of the segment already written
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed at offset %d: %v", e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Device is a printer seen while scanning
type Device struct {
	Name    string
	Address string // MAC address on Linux
	RSSI    int
}

func (d Device) String() string {
	if d.Name == "" {
		return d.Address
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Address)
}
