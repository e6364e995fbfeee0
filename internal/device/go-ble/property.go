package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blescan/internal/device"
)

var propertyMap = []struct {
	ble  ble.Property
	flag device.PropertyFlags
}{
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteNoResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
}

// propertiesFrom converts go-ble characteristic property bits to device.PropertyFlags.
// Bits without a device counterpart (broadcast, signed write, extended) are dropped.
func propertiesFrom(p ble.Property) device.PropertyFlags {
	var flags device.PropertyFlags
	for _, m := range propertyMap {
		if p&m.ble != 0 {
			flags |= m.flag
		}
	}
	return flags
}
