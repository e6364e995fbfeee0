package device

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/srg/blescan/internal/bledb"
)

// UnknownDeviceName is shown for devices that advertise no name.
const UnknownDeviceName = "Unknown Device"

// DeviceRecord is a peripheral observed during a scan.
// Identity is the transport address (ID); every other field is observed state.
type DeviceRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	RSSI    int    `json:"rssi"`
	Payload []byte `json:"payload,omitempty"`
}

// NewDeviceRecord normalizes a transport advertisement into a DeviceRecord.
func NewDeviceRecord(adv Advertisement) DeviceRecord {
	var payload []byte
	if p := adv.Payload(); len(p) > 0 {
		payload = bytes.Clone(p)
	}
	return DeviceRecord{
		ID:      adv.Addr(),
		Name:    adv.LocalName(),
		RSSI:    adv.RSSI(),
		Payload: payload,
	}
}

// DisplayName returns the advertised name, or UnknownDeviceName when none was seen.
func (d DeviceRecord) DisplayName() string {
	if d.Name == "" {
		return UnknownDeviceName
	}
	return d.Name
}

// SameDevice reports whether both records describe the same peripheral.
func (d DeviceRecord) SameDevice(other DeviceRecord) bool {
	return d.ID == other.ID
}

// Clone returns a deep copy.
func (d DeviceRecord) Clone() DeviceRecord {
	d.Payload = bytes.Clone(d.Payload)
	return d
}

// PropertyFlags is the GATT characteristic property bitmask.
type PropertyFlags uint8

// GATT characteristic property bits. PropNone is a valid state.
const (
	PropNone            PropertyFlags = 0
	PropRead            PropertyFlags = 0x02
	PropWriteNoResponse PropertyFlags = 0x04
	PropWrite           PropertyFlags = 0x08
	PropNotify          PropertyFlags = 0x10
	PropIndicate        PropertyFlags = 0x20
)

var propertyNames = []struct {
	flag PropertyFlags
	name string
}{
	{PropRead, "READ"},
	{PropWrite, "WRITE"},
	{PropWriteNoResponse, "WRITE NO RESPONSE"},
	{PropNotify, "NOTIFY"},
	{PropIndicate, "INDICATE"},
}

// Has reports whether every bit of flag is set.
func (p PropertyFlags) Has(flag PropertyFlags) bool {
	return flag != 0 && p&flag == flag
}

func (p PropertyFlags) Readable() bool { return p.Has(PropRead) }
func (p PropertyFlags) Writable() bool { return p.Has(PropWrite) || p.Has(PropWriteNoResponse) }
func (p PropertyFlags) Notifiable() bool {
	return p.Has(PropNotify) || p.Has(PropIndicate)
}

// Names lists the set properties in display order, or ["NONE"] when nothing is set.
func (p PropertyFlags) Names() []string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p.Has(pn.flag) {
			names = append(names, pn.name)
		}
	}
	if len(names) == 0 {
		names = append(names, "NONE")
	}
	return names
}

func (p PropertyFlags) String() string {
	return strings.Join(p.Names(), ", ")
}

// CharacteristicRecord is a characteristic of the connected peripheral.
// Value is nil until the first read or notification.
type CharacteristicRecord struct {
	UUID        string        `json:"uuid"`
	ServiceUUID string        `json:"service"`
	Properties  PropertyFlags `json:"properties"`
	Value       []byte        `json:"value,omitempty"`
}

// NewCharacteristicRecord normalizes transport characteristic info into a record.
func NewCharacteristicRecord(info CharacteristicInfo) CharacteristicRecord {
	rec := CharacteristicRecord{
		UUID:        NormalizeUUID(info.UUID),
		ServiceUUID: NormalizeUUID(info.ServiceUUID),
		Properties:  info.Properties,
	}
	if rec.UUID == "" {
		rec.UUID = strings.ToLower(info.UUID)
	}
	if info.Value != nil {
		rec.Value = bytes.Clone(info.Value)
	}
	return rec
}

// HasValue reports whether a value has been observed.
func (c CharacteristicRecord) HasValue() bool {
	return c.Value != nil
}

// KnownName returns the SIG name of the characteristic, or "" when unknown.
func (c CharacteristicRecord) KnownName() string {
	return bledb.LookupCharacteristic(c.UUID)
}

// ValueString renders the value as text when every byte is printable ASCII,
// otherwise as space-separated uppercase hex.
func (c CharacteristicRecord) ValueString() string {
	if c.Value == nil {
		return "No value"
	}
	if isPrintable(c.Value) {
		return string(c.Value)
	}

	parts := make([]string, len(c.Value))
	for i, b := range c.Value {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// Clone returns a deep copy.
func (c CharacteristicRecord) Clone() CharacteristicRecord {
	if c.Value != nil {
		c.Value = bytes.Clone(c.Value)
	}
	return c
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 32 || c >= 127 {
			return false
		}
	}
	return true
}
