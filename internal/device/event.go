package device

// SessionState is the state of the connection session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateDiscovering
	StateReady
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// EventType identifies a connectivity event.
type EventType int

const (
	ScanStarted EventType = iota
	ScanFinished
	ScanFailed
	DeviceFound
	Connecting
	DeviceConnected
	DeviceDisconnected
	ConnectionFailed
	ServicesDiscovered
	ServicesDiscoveryFailed
	CharacteristicRead
	CharacteristicReadFailed
	CharacteristicChanged
)

var eventNames = [...]string{
	ScanStarted:              "scan_started",
	ScanFinished:             "scan_finished",
	ScanFailed:               "scan_failed",
	DeviceFound:              "device_found",
	Connecting:               "connecting",
	DeviceConnected:          "device_connected",
	DeviceDisconnected:       "device_disconnected",
	ConnectionFailed:         "connection_failed",
	ServicesDiscovered:       "services_discovered",
	ServicesDiscoveryFailed:  "services_discovery_failed",
	CharacteristicRead:       "characteristic_read",
	CharacteristicReadFailed: "characteristic_read_failed",
	CharacteristicChanged:    "characteristic_changed",
}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[t]
}

// Event is delivered to every registered Observer.
// Only the fields relevant to Type are set.
type Event struct {
	Type EventType

	Device          *DeviceRecord          // DeviceFound
	Characteristic  *CharacteristicRecord  // CharacteristicRead, CharacteristicReadFailed, CharacteristicChanged
	Characteristics []CharacteristicRecord // ServicesDiscovered

	// Code is the scan failure code for ScanFailed and the GATT status
	// for ConnectionFailed, ServicesDiscoveryFailed and CharacteristicReadFailed.
	Code int

	// SessionID identifies the connection session for connection events.
	SessionID string
}

// Observer consumes connectivity events. HandleEvent is always called from
// the single delivery goroutine, so implementations need no locking of their own
// for state touched only there.
type Observer interface {
	HandleEvent(ev Event)
}

type funcObserver struct {
	fn func(Event)
}

func (o *funcObserver) HandleEvent(ev Event) { o.fn(ev) }

// ObserverFunc wraps fn into an Observer with a stable identity, so the
// returned value can be unregistered later.
func ObserverFunc(fn func(Event)) Observer {
	return &funcObserver{fn: fn}
}

// EventSink accepts events for asynchronous delivery to observers.
// Dispatch must not block and must not call back into the caller.
type EventSink interface {
	Dispatch(ev Event)
}
