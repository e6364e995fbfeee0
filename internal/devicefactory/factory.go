package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/device/go-ble"
)

// NewTransport creates the device.Transport backing a connectivity manager.
// This is a variable so that it can be overridden in tests.
var NewTransport = func(logger *logrus.Logger, opts *goble.Options) device.Transport {
	return goble.NewTransport(logger, opts)
}
