package device

// GATT status codes reported by the transport.
const (
	StatusSuccess   = 0
	StatusGattError = 133
	StatusFailure   = 257
)

// Scan failure codes reported by the transport.
const (
	ScanFailedAlreadyStarted          = 1
	ScanFailedApplicationRegistration = 2
	ScanFailedInternalError           = 3
	ScanFailedFeatureUnsupported      = 4
	ScanFailedOutOfHardwareResources  = 5
	ScanFailedScanningTooFrequently   = 6
	ScanFailedBluetoothOff            = 7
	ScanFailedUnknown                 = 255
)

// LinkState is the link-layer state carried by a connection-state callback.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnected
)

func (s LinkState) String() string {
	if s == LinkConnected {
		return "connected"
	}
	return "disconnected"
}

// Advertisement is a single advertising report delivered by the transport.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Services() []string
	ManufacturerData() []byte
	Connectable() bool
	// Payload returns the advertisement bytes, nil when unavailable.
	Payload() []byte
}

// ScanFilter narrows a scan at the transport level.
// A nil filter means "report everything".
type ScanFilter struct {
	ServiceUUIDs    []string
	AllowDuplicates bool
}

// ServiceInfo is a discovered GATT service.
type ServiceInfo struct {
	UUID            string
	Characteristics []CharacteristicInfo
}

// CharacteristicInfo is a characteristic as reported by the transport.
type CharacteristicInfo struct {
	UUID        string
	ServiceUUID string
	Properties  PropertyFlags
	Value       []byte
}

// HandleCallbacks are the per-connection feeds the transport calls into.
// Both may be invoked from any goroutine.
type HandleCallbacks struct {
	OnStateChange           func(status int, state LinkState)
	OnCharacteristicChanged func(ch CharacteristicInfo)
}

// Transport is the capability surface of the BLE stack.
// Every operation completes asynchronously through the supplied callbacks,
// which may run on any goroutine but never from within the submitting call.
type Transport interface {
	// Ready reports whether the radio is present and enabled.
	Ready() bool
	StartScan(filter *ScanFilter, onResult func(Advertisement), onFailure func(code int)) error
	StopScan()
	Connect(address string, cb HandleCallbacks) (Handle, error)
}

// Handle is a live transport connection to one peripheral.
type Handle interface {
	// DiscoverServices starts service discovery. Returns false if the request was not submitted.
	DiscoverServices(onComplete func(status int, services []ServiceInfo)) bool
	// ReadCharacteristic starts a read. Returns false if the request was not submitted.
	ReadCharacteristic(uuid string, onComplete func(status int, ch CharacteristicInfo)) bool
	// Disconnect requests link teardown; completion arrives via OnStateChange.
	Disconnect()
	// Release frees native resources without blocking and stops callback delivery.
	// A callback already in flight may still complete; callers drop it as stale.
	Release()
}
