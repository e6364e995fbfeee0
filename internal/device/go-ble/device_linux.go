package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newPlatformDevice() (ble.Device, error) {
	d, err := linux.NewDevice()
	if err != nil {
		return nil, err
	}
	return d, nil
}
