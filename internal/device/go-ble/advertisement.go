package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blescan/internal/device"
)

// AD structure types used when rebuilding an advertising payload.
const (
	adIncomplete16     = 0x02
	adComplete16       = 0x03
	adComplete128      = 0x07
	adCompleteName     = 0x09
	adTxPower          = 0x0A
	adServiceData16    = 0x16
	adServiceData128   = 0x21
	adManufacturerData = 0xFF

	txPowerUnknown = 127
)

// bleAdvertisement adapts ble.Advertisement to device.Advertisement.
type bleAdvertisement struct {
	adv     ble.Advertisement
	payload []byte
}

func newAdvertisement(adv ble.Advertisement) *bleAdvertisement {
	return &bleAdvertisement{adv: adv}
}

func (a *bleAdvertisement) Addr() string             { return a.adv.Addr().String() }
func (a *bleAdvertisement) LocalName() string        { return a.adv.LocalName() }
func (a *bleAdvertisement) RSSI() int                { return a.adv.RSSI() }
func (a *bleAdvertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *bleAdvertisement) Connectable() bool        { return a.adv.Connectable() }

func (a *bleAdvertisement) Services() []string {
	svcs := a.adv.Services()
	out := make([]string, len(svcs))
	for i, u := range svcs {
		out[i] = u.String()
	}
	return out
}

// Payload rebuilds the AD structures go-ble decoded, since the raw report is
// not exposed on every platform. The result is computed once per advertisement.
func (a *bleAdvertisement) Payload() []byte {
	if a.payload == nil {
		a.payload = buildPayload(a.adv)
	}
	return a.payload
}

func buildPayload(adv ble.Advertisement) []byte {
	var out []byte

	if name := adv.LocalName(); name != "" {
		out = appendAD(out, adCompleteName, []byte(name))
	}

	var short, long []byte
	for _, u := range adv.Services() {
		switch len(u) {
		case 2:
			short = append(short, u...)
		case 16:
			long = append(long, u...)
		}
	}
	if len(short) > 0 {
		out = appendAD(out, adComplete16, short)
	}
	if len(long) > 0 {
		out = appendAD(out, adComplete128, long)
	}

	for _, u := range adv.OverflowService() {
		if len(u) == 2 {
			out = appendAD(out, adIncomplete16, u)
		}
	}

	if tx := adv.TxPowerLevel(); tx != 0 && tx != txPowerUnknown {
		out = appendAD(out, adTxPower, []byte{byte(int8(tx))})
	}

	for _, sd := range adv.ServiceData() {
		typ := byte(adServiceData16)
		if len(sd.UUID) == 16 {
			typ = adServiceData128
		}
		out = appendAD(out, typ, append(append([]byte{}, sd.UUID...), sd.Data...))
	}

	if md := adv.ManufacturerData(); len(md) > 0 {
		out = appendAD(out, adManufacturerData, md)
	}

	if out == nil {
		return []byte{}
	}
	return out
}

// appendAD appends one length-type-value AD structure. Data that does not fit
// the one-byte length field is truncated.
func appendAD(dst []byte, typ byte, data []byte) []byte {
	if len(data) > 254 {
		data = data[:254]
	}
	dst = append(dst, byte(len(data)+1), typ)
	return append(dst, data...)
}

// matchesServices reports whether adv advertises any of the wanted services.
// wanted must already be normalized; an empty set matches everything.
func matchesServices(adv device.Advertisement, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, s := range adv.Services() {
		n := device.NormalizeUUID(s)
		for _, w := range wanted {
			if n == w {
				return true
			}
		}
	}
	return false
}
