package scanner

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
)

// Timer is the part of *time.Timer the scan timeout needs.
type Timer interface {
	Stop() bool
}

// AfterFunc arms the scan timeout.
// This is a variable so that it can be overridden in tests.
var AfterFunc = func(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	// Period bounds a scan session. Zero scans until StopScan.
	Period          time.Duration `default:"10s"`
	AllowDuplicates bool          `default:"true"`
	ServiceUUIDs    []string
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	opts := &ScanOptions{}
	defaults.SetDefaults(opts)
	return opts
}

// Controller owns the scan lifecycle: one session at a time, bounded by a one-shot timer.
type Controller struct {
	transport device.Transport
	events    device.EventSink
	logger    *logrus.Logger

	mu       sync.Mutex
	opts     ScanOptions
	services []string
	scanning bool
	timer    Timer
	gen      uint64
	// the deadline passed while the transport was unavailable
	expired bool
}

// NewController creates a scan controller. A nil opts means DefaultScanOptions.
func NewController(transport device.Transport, events device.EventSink, opts *ScanOptions, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Controller{
		transport: transport,
		events:    events,
		logger:    logger,
	}
	c.applyOptions(opts)
	return c
}

// SetOptions replaces the options used by the next scan session.
func (c *Controller) SetOptions(opts *ScanOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyOptions(opts)
}

func (c *Controller) applyOptions(opts *ScanOptions) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	c.opts = *opts
	c.services = device.NormalizeUUIDs(opts.ServiceUUIDs)
}

// IsScanning reports whether a scan session is active.
func (c *Controller) IsScanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning
}

// StartScan starts a scan session and emits ScanStarted.
// Returns device.ErrTransportUnavailable when the radio is absent or disabled.
// When a session is already active it returns nil and leaves that session,
// its deadline included, untouched. A session whose deadline passed while the
// transport was unavailable is finished first and a new one is started.
func (c *Controller) StartScan() error {
	if !c.transport.Ready() {
		c.logger.Warn("Cannot start scan: transport unavailable")
		return device.ErrTransportUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scanning && c.expired {
		c.stopLocked("timeout")
	}
	if c.scanning {
		c.logger.Debug("Scan already in progress")
		return nil
	}

	c.gen++
	gen := c.gen
	filter := &device.ScanFilter{
		ServiceUUIDs:    c.services,
		AllowDuplicates: c.opts.AllowDuplicates,
	}

	if err := c.transport.StartScan(filter, c.resultHandler(gen), c.failureHandler(gen)); err != nil {
		return fmt.Errorf("failed to start scan: %w", device.NormalizeError(err))
	}

	c.scanning = true
	if c.opts.Period > 0 {
		c.timer = AfterFunc(c.opts.Period, func() { c.expire(gen) })
	}

	c.logger.WithFields(logrus.Fields{
		"period":   c.opts.Period,
		"services": c.services,
	}).Info("Scan started")
	c.events.Dispatch(device.Event{Type: device.ScanStarted})
	return nil
}

// StopScan ends the active session and emits ScanFinished.
// No-op if nothing is scanning or the transport is unavailable.
func (c *Controller) StopScan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked("stopped")
}

func (c *Controller) stopLocked(reason string) {
	if !c.scanning || !c.transport.Ready() {
		return
	}

	c.cancelTimerLocked()
	c.scanning = false
	c.expired = false
	c.transport.StopScan()

	c.logger.WithField("reason", reason).Info("Scan finished")
	c.events.Dispatch(device.Event{Type: device.ScanFinished})
}

func (c *Controller) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	c.timer = nil
	c.stopLocked("timeout")
	if c.scanning {
		c.logger.Warn("Scan deadline passed while transport unavailable")
		c.expired = true
	}
}

func (c *Controller) resultHandler(gen uint64) func(device.Advertisement) {
	return func(adv device.Advertisement) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if !c.scanning || gen != c.gen {
			return
		}
		if !c.shouldIncludeDevice(adv) {
			return
		}

		rec := device.NewDeviceRecord(adv)
		c.logger.WithFields(logrus.Fields{
			"address": rec.ID,
			"name":    rec.DisplayName(),
			"rssi":    rec.RSSI,
		}).Debug("Device found")
		c.events.Dispatch(device.Event{Type: device.DeviceFound, Device: &rec})
	}
}

func (c *Controller) failureHandler(gen uint64) func(code int) {
	return func(code int) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if !c.scanning || gen != c.gen {
			return
		}
		c.cancelTimerLocked()
		c.scanning = false
		c.expired = false
		c.transport.StopScan()

		c.logger.WithField("code", code).Warn("Scan failed")
		c.events.Dispatch(device.Event{Type: device.ScanFailed, Code: code})
	}
}

// shouldIncludeDevice applies block/allow/service filters
func (c *Controller) shouldIncludeDevice(adv device.Advertisement) bool {
	addr := adv.Addr()

	for _, blocked := range c.opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(c.opts.AllowList) > 0 {
		allowed := false
		for _, a := range c.opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(c.services) > 0 {
		for _, advUUID := range adv.Services() {
			normalized := device.NormalizeUUID(advUUID)
			for _, required := range c.services {
				if normalized == required {
					return true
				}
			}
		}
		return false
	}

	return true
}
