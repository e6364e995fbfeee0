package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/bledb"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/device/go-ble"
	"github.com/srg/blescan/internal/devicefactory"
	"github.com/srg/blescan/pkg/config"
	"github.com/srg/blescan/pkg/connectivity"
	"github.com/srg/blescan/scanner"
)

// newManager builds a connectivity manager over the default transport.
// The caller owns the manager and must Close it.
func newManager(cfg *config.Config, scanOpts *scanner.ScanOptions, logger *logrus.Logger) (*connectivity.Manager, error) {
	transport := devicefactory.NewTransport(logger, &goble.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		AutoSubscribe:  cfg.AutoSubscribe,
	})
	if !transport.Ready() {
		return nil, fmt.Errorf("bluetooth adapter: %w", device.ErrTransportUnavailable)
	}
	return connectivity.New(transport, scanOpts, logger), nil
}

func lookupServiceName(uuid string) string {
	return bledb.LookupService(uuid)
}
