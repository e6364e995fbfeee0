// Package bledb normalizes Bluetooth UUIDs and resolves well-known SIG
// services and characteristics to human-readable names.
package bledb

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the tail shared by every UUID derived from the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal form: lowercase, no dashes.
// The 0x prefix is stripped, and full 128-bit UUIDs in SIG base form are shortened
// to their 16-bit alias. Returns "" when the input is not a UUID.
func NormalizeUUID(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}

	compact := strings.ToLower(strings.ReplaceAll(s, "-", ""))
	switch len(compact) {
	case 4, 8:
		if _, err := hex.DecodeString(compact); err != nil {
			return ""
		}
		return compact
	}

	// Dashed, braced and urn forms all go through uuid.Parse
	candidate := s
	if len(compact) == 32 {
		candidate = compact
	}
	parsed, err := uuid.Parse(candidate)
	if err != nil {
		return ""
	}

	full := strings.ReplaceAll(parsed.String(), "-", "")
	if strings.HasPrefix(full, "0000") && strings.HasSuffix(full, sigBaseSuffix) {
		return full[4:8]
	}
	return full
}

// NormalizeUUIDs normalizes each UUID, dropping the ones that do not parse.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if n := NormalizeUUID(u); n != "" {
			result = append(result, n)
		}
	}
	return result
}

// LookupService returns the SIG name of a service UUID, or "" when unknown.
func LookupService(u string) string {
	return services[NormalizeUUID(u)]
}

// LookupCharacteristic returns the SIG name of a characteristic UUID, or "" when unknown.
func LookupCharacteristic(u string) string {
	return characteristics[NormalizeUUID(u)]
}

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1802": "Immediate Alert",
	"1803": "Link Loss",
	"1804": "Tx Power",
	"1805": "Current Time Service",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1809": "Health Thermometer",
	"1810": "Blood Pressure",
	"1812": "Human Interface Device",
	"1814": "Running Speed and Cadence",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"181a": "Environmental Sensing",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a04": "Peripheral Preferred Connection Parameters",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a23": "System ID",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
	"2a6e": "Temperature",
	"2a6f": "Humidity",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
}
