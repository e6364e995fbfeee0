package connectivity

import (
	"bytes"
	"strings"
	"sync"

	"github.com/srg/blescan/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DeviceList is an observer keeping the devices of the current scan session,
// one entry per device id in discovery order. Rediscovering a known id updates
// its RSSI in place. The list is cleared when a new scan starts.
type DeviceList struct {
	mu      sync.RWMutex
	devices *orderedmap.OrderedMap[string, device.DeviceRecord]
}

func NewDeviceList() *DeviceList {
	return &DeviceList{devices: orderedmap.New[string, device.DeviceRecord]()}
}

func (l *DeviceList) HandleEvent(ev device.Event) {
	switch ev.Type {
	case device.ScanStarted:
		l.mu.Lock()
		l.devices = orderedmap.New[string, device.DeviceRecord]()
		l.mu.Unlock()
	case device.DeviceFound:
		if ev.Device != nil {
			l.upsert(*ev.Device)
		}
	}
}

func (l *DeviceList) upsert(rec device.DeviceRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.devices.Get(rec.ID)
	if !ok {
		l.devices.Set(rec.ID, rec.Clone())
		return
	}

	existing.RSSI = rec.RSSI
	if rec.Name != "" {
		existing.Name = rec.Name
	}
	if len(rec.Payload) > 0 {
		existing.Payload = bytes.Clone(rec.Payload)
	}
	l.devices.Set(rec.ID, existing)
}

// Devices returns a copy of the list in discovery order.
func (l *DeviceList) Devices() []device.DeviceRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]device.DeviceRecord, 0, l.devices.Len())
	for pair := l.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.Clone())
	}
	return out
}

func (l *DeviceList) Get(id string) (device.DeviceRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.devices.Get(id)
	if !ok {
		return device.DeviceRecord{}, false
	}
	return rec.Clone(), true
}

func (l *DeviceList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.devices.Len()
}

// CharacteristicTable is an observer mirroring the characteristic set of the
// connected peripheral: replaced on ServicesDiscovered, updated by uuid on reads
// and notifications, emptied when the session ends or a new one starts.
type CharacteristicTable struct {
	mu    sync.RWMutex
	chars []device.CharacteristicRecord
}

func NewCharacteristicTable() *CharacteristicTable {
	return &CharacteristicTable{}
}

func (t *CharacteristicTable) HandleEvent(ev device.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case device.ServicesDiscovered:
		t.chars = make([]device.CharacteristicRecord, len(ev.Characteristics))
		for i, ch := range ev.Characteristics {
			t.chars[i] = ch.Clone()
		}
	case device.Connecting, device.DeviceDisconnected, device.ConnectionFailed:
		t.chars = nil
	case device.CharacteristicRead, device.CharacteristicChanged:
		if ev.Characteristic == nil {
			return
		}
		for i := range t.chars {
			if t.chars[i].UUID == ev.Characteristic.UUID {
				t.chars[i].Value = bytes.Clone(ev.Characteristic.Value)
			}
		}
	}
}

// Characteristics returns a copy of the table in discovery order.
func (t *CharacteristicTable) Characteristics() []device.CharacteristicRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]device.CharacteristicRecord, len(t.chars))
	for i, ch := range t.chars {
		out[i] = ch.Clone()
	}
	return out
}

// Get returns the first record matching uuid, given in short or full form.
func (t *CharacteristicTable) Get(uuid string) (device.CharacteristicRecord, bool) {
	n := device.NormalizeUUID(uuid)
	if n == "" {
		n = strings.ToLower(uuid)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.chars {
		if ch.UUID == n {
			return ch.Clone(), true
		}
	}
	return device.CharacteristicRecord{}, false
}

func (t *CharacteristicTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.chars)
}
