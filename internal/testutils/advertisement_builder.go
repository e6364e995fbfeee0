package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blescan/internal/device"
)

// Advertisement is a plain device.Advertisement value produced by AdvertisementBuilder.
type Advertisement struct {
	Address     string
	Name        string
	Rssi        int
	ServiceList []string
	ManufData   []byte
	Raw         []byte
	IsConnect   bool
}

func (a *Advertisement) Addr() string             { return a.Address }
func (a *Advertisement) LocalName() string        { return a.Name }
func (a *Advertisement) RSSI() int                { return a.Rssi }
func (a *Advertisement) Services() []string       { return a.ServiceList }
func (a *Advertisement) ManufacturerData() []byte { return a.ManufData }
func (a *Advertisement) Connectable() bool        { return a.IsConnect }
func (a *Advertisement) Payload() []byte          { return a.Raw }

// AdvertisementBuilder builds advertisements for scan tests with a fluent API.
//
//	adv := testutils.NewAdvertisementBuilder().
//	    WithAddress("AA:BB:CC:DD:EE:FF").
//	    WithName("HeartRate").
//	    WithRSSI(-60).
//	    Build()
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement with RSSI -50.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{Rssi: -50, IsConnect: true}}
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Rssi = rssi
	return b
}

// WithServices adds advertised service UUIDs, short or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceList = append(b.adv.ServiceList, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.ManufData = data
	return b
}

// WithPayload sets the raw advertisement bytes.
func (b *AdvertisementBuilder) WithPayload(payload []byte) *AdvertisementBuilder {
	b.adv.Raw = payload
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnect = c
	return b
}

// FromJSON fills builder fields from a JSON document with format support.
// Only keys present in the document are applied. Panics on invalid JSON as this
// is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Address          *string  `json:"address"`
		Name             *string  `json:"name"`
		RSSI             *int     `json:"rssi"`
		Services         []string `json:"services"`
		ManufacturerData []byte   `json:"manufacturerData"`
		Payload          []byte   `json:"payload"`
		Connectable      *bool    `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if data.Services != nil {
		b.WithServices(data.Services...)
	}
	if data.ManufacturerData != nil {
		b.WithManufacturerData(data.ManufacturerData)
	}
	if data.Payload != nil {
		b.WithPayload(data.Payload)
	}
	if data.Connectable != nil {
		b.WithConnectable(*data.Connectable)
	}
	return b
}

// Build returns a copy of the configured advertisement.
func (b *AdvertisementBuilder) Build() *Advertisement {
	adv := b.adv
	adv.ServiceList = append([]string(nil), b.adv.ServiceList...)
	return &adv
}

// BuildRecord returns the device.DeviceRecord a scan would report for this advertisement.
func (b *AdvertisementBuilder) BuildRecord() device.DeviceRecord {
	return device.NewDeviceRecord(b.Build())
}

// ServiceBuilder assembles the []device.ServiceInfo a discovery completes with.
//
//	services := testutils.NewServiceBuilder().
//	    WithService("180D").
//	    WithCharacteristic("2A37", device.PropRead|device.PropNotify, []byte{80}).
//	    WithService("180F").
//	    WithCharacteristic("2A19", device.PropRead, []byte{100}).
//	    Build()
type ServiceBuilder struct {
	services []device.ServiceInfo
}

func NewServiceBuilder() *ServiceBuilder {
	return &ServiceBuilder{}
}

// WithService starts a new service; following WithCharacteristic calls attach to it.
func (b *ServiceBuilder) WithService(uuid string) *ServiceBuilder {
	b.services = append(b.services, device.ServiceInfo{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last service. value is what
// an auto-responding handle answers to reads of it.
// Panics if no service was added yet.
func (b *ServiceBuilder) WithCharacteristic(uuid string, props device.PropertyFlags, value []byte) *ServiceBuilder {
	if len(b.services) == 0 {
		panic("WithCharacteristic: call WithService first")
	}
	svc := &b.services[len(b.services)-1]
	svc.Characteristics = append(svc.Characteristics, device.CharacteristicInfo{
		UUID:        uuid,
		ServiceUUID: svc.UUID,
		Properties:  props,
		Value:       value,
	})
	return b
}

func (b *ServiceBuilder) Build() []device.ServiceInfo {
	out := make([]device.ServiceInfo, len(b.services))
	for i, svc := range b.services {
		out[i] = device.ServiceInfo{
			UUID:            svc.UUID,
			Characteristics: append([]device.CharacteristicInfo(nil), svc.Characteristics...),
		}
	}
	return out
}
