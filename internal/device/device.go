package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "device", "characteristic"
	UUIDs    []string // One or more identifiers
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[len(e.UUIDs)-1])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected         ConnectionState = "not_connected"
	NotReady             ConnectionState = "not_ready"
	TransportUnavailable ConnectionState = "transport_unavailable"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected         = &ConnectionError{State: NotConnected}
	ErrNotReady             = &ConnectionError{State: NotReady}
	ErrTransportUnavailable = &ConnectionError{State: TransportUnavailable}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps known transport error strings to the structured errors of this package.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is Bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "not supported"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	default:
		return err
	}
}
