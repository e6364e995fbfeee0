// Package goble implements device.Transport on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/groutine"
)

// Options tune the go-ble transport.
type Options struct {
	ConnectTimeout time.Duration `default:"30s"`
	// AutoSubscribe enables notifications on every notifiable characteristic
	// once discovery completes.
	AutoSubscribe bool `default:"true"`
}

func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// DeviceFactory creates the platform ble.Device (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Transport is a device.Transport backed by a single ble.Device.
type Transport struct {
	opts   *Options
	logger *logrus.Logger
	dev    ble.Device

	mu         sync.Mutex
	scanCancel context.CancelFunc
}

// NewTransport opens the platform BLE device. A failure is logged and leaves
// the transport permanently not Ready. A nil opts means DefaultOptions.
func NewTransport(logger *logrus.Logger, opts *Options) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	t := &Transport{opts: opts, logger: logger}
	dev, err := DeviceFactory()
	if err != nil {
		logger.WithError(device.NormalizeError(err)).Warn("BLE device unavailable")
		return t
	}
	t.dev = dev
	return t
}

func (t *Transport) Ready() bool {
	return t.dev != nil
}

// StartScan runs ble.Device.Scan on its own goroutine until StopScan.
// Service filtering is applied here since go-ble scans unfiltered.
func (t *Transport) StartScan(filter *device.ScanFilter, onResult func(device.Advertisement), onFailure func(code int)) error {
	if !t.Ready() {
		return device.ErrTransportUnavailable
	}

	allowDup := true
	var wanted []string
	if filter != nil {
		allowDup = filter.AllowDuplicates
		wanted = device.NormalizeUUIDs(filter.ServiceUUIDs)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scanCancel != nil {
		t.scanCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.scanCancel = cancel

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		err := t.dev.Scan(ctx, allowDup, func(a ble.Advertisement) {
			if ctx.Err() != nil {
				return
			}
			adv := newAdvertisement(a)
			if matchesServices(adv, wanted) {
				onResult(adv)
			}
		})
		if err == nil || isCancellation(err) || ctx.Err() != nil {
			return
		}

		code := scanFailureCode(err)
		t.logger.WithFields(logrus.Fields{
			"error": err,
			"code":  code,
		}).Error("BLE scan failed")
		onFailure(code)
	})

	t.logger.WithFields(logrus.Fields{
		"services":         wanted,
		"allow_duplicates": allowDup,
	}).Debug("BLE scan started")
	return nil
}

func (t *Transport) StopScan() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scanCancel != nil {
		t.scanCancel()
		t.scanCancel = nil
		t.logger.Debug("BLE scan stopped")
	}
}

// Connect dials address on its own goroutine. The outcome is reported through
// cb.OnStateChange: (0, connected) on success, (133, disconnected) on failure or timeout.
func (t *Transport) Connect(address string, cb device.HandleCallbacks) (device.Handle, error) {
	if !t.Ready() {
		return nil, device.ErrTransportUnavailable
	}
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	h := newHandle(t, address, cb)
	groutine.Go(h.ctx, "ble-connect", h.dial)
	return h, nil
}
