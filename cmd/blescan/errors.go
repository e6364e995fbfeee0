package main

import (
	"errors"
	"fmt"

	"github.com/srg/blescan/inspector"
	"github.com/srg/blescan/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	// This is distinct from device.ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")

	ErrScanFailed = errors.New("scan failed")
)

// FormatUserError turns an error chain into a one-line message with a hint
// for the failures a user can act on.
func FormatUserError(err error) string {
	var nf *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return fmt.Sprintf("%v (turn Bluetooth on and retry)", err)
	case errors.Is(err, device.ErrTransportUnavailable):
		return fmt.Sprintf("%v (no usable Bluetooth adapter)", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%v (is the device in range and advertising?)", err)
	case errors.Is(err, inspector.ErrConnectionFailed):
		return fmt.Sprintf("%v (the device refused or dropped the connection)", err)
	case errors.As(err, &nf):
		return fmt.Sprintf("%v (run 'blescan inspect' to list characteristics)", err)
	default:
		return err.Error()
	}
}
