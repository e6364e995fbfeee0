package goble

import (
	"context"
	"errors"
	"strings"

	"github.com/srg/blescan/internal/device"
)

// scanFailureCode maps an error returned by ble.Device.Scan to a scan failure code.
func scanFailureCode(err error) int {
	err = device.NormalizeError(err)
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return device.ScanFailedBluetoothOff
	case errors.Is(err, device.ErrUnsupported):
		return device.ScanFailedFeatureUnsupported
	case strings.Contains(msg, "already"):
		return device.ScanFailedAlreadyStarted
	case strings.Contains(msg, "resource"):
		return device.ScanFailedOutOfHardwareResources
	default:
		return device.ScanFailedInternalError
	}
}

// gattStatus maps a GATT operation error to a status code; nil is success.
func gattStatus(err error) int {
	switch {
	case err == nil:
		return device.StatusSuccess
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return device.StatusGattError
	case errors.Is(device.NormalizeError(err), device.ErrNotConnected):
		return device.StatusGattError
	default:
		return device.StatusFailure
	}
}

// isCancellation reports whether err only reflects the scan context being cancelled.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
