package goble

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/groutine"
)

type charEntry struct {
	ch   *ble.Characteristic
	info device.CharacteristicInfo
}

// handle is one go-ble connection attempt and, once dialed, the live client.
type handle struct {
	t       *Transport
	address string
	cb      device.HandleCallbacks
	logger  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu                  sync.Mutex
	client              ble.Client
	disconnectRequested bool

	// gattMu serializes GATT requests on the client.
	gattMu   sync.Mutex
	released atomic.Bool
	downOnce sync.Once
	chars    *hashmap.Map[string, *charEntry]
}

func newHandle(t *Transport, address string, cb device.HandleCallbacks) *handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &handle{
		t:       t,
		address: address,
		cb:      cb,
		logger:  t.logger.WithField("address", address),
		ctx:     ctx,
		cancel:  cancel,
		chars:   hashmap.New[string, *charEntry](),
	}
}

func (h *handle) dial(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, h.t.opts.ConnectTimeout)
	defer cancel()

	h.logger.WithField("timeout", h.t.opts.ConnectTimeout).Debug("Dialing BLE device...")
	client, err := h.t.dev.Dial(dctx, ble.NewAddr(h.address))
	if err != nil {
		if h.released.Load() {
			return
		}
		h.mu.Lock()
		requested := h.disconnectRequested
		h.mu.Unlock()

		if requested {
			h.logger.Debug("Dial aborted by disconnect request")
			h.linkDown(device.StatusSuccess)
			return
		}
		h.logger.WithError(device.NormalizeError(err)).Warn("Failed to dial BLE device")
		h.linkDown(device.StatusGattError)
		return
	}

	h.mu.Lock()
	if h.released.Load() || h.disconnectRequested {
		h.mu.Unlock()
		if err := client.CancelConnection(); err != nil {
			h.logger.WithError(err).Debug("Failed to cancel connection of an abandoned dial")
		}
		h.linkDown(device.StatusSuccess)
		return
	}
	h.client = client
	h.mu.Unlock()

	h.logger.Info("BLE device connected")
	h.stateChange(device.StatusSuccess, device.LinkConnected)

	groutine.Go(h.ctx, "ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-client.Disconnected():
			h.mu.Lock()
			status := device.StatusGattError
			if h.disconnectRequested {
				status = device.StatusSuccess
			}
			h.mu.Unlock()
			if status != device.StatusSuccess {
				h.logger.Warn("BLE link lost")
			}
			h.linkDown(status)
		case <-ctx.Done():
		}
	})
}

func (h *handle) currentClient() ble.Client {
	if h.released.Load() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client
}

func (h *handle) DiscoverServices(onComplete func(status int, services []device.ServiceInfo)) bool {
	client := h.currentClient()
	if client == nil {
		return false
	}

	groutine.Go(h.ctx, "ble-discover", func(ctx context.Context) {
		h.gattMu.Lock()
		profile, err := client.DiscoverProfile(true)
		h.gattMu.Unlock()
		if h.released.Load() {
			return
		}
		if err != nil {
			h.logger.WithError(err).Warn("Failed to discover profile")
			onComplete(gattStatus(err), nil)
			return
		}

		services := h.index(profile)
		h.logger.WithFields(logrus.Fields{
			"services":        len(services),
			"characteristics": h.chars.Len(),
		}).Debug("Profile discovered")
		onComplete(device.StatusSuccess, services)

		if h.t.opts.AutoSubscribe {
			h.subscribeAll(client)
		}
	})
	return true
}

// index flattens the profile into ServiceInfo and records each characteristic
// by normalized uuid. On duplicates the first characteristic wins.
func (h *handle) index(profile *ble.Profile) []device.ServiceInfo {
	services := make([]device.ServiceInfo, 0, len(profile.Services))
	for _, svc := range profile.Services {
		si := device.ServiceInfo{UUID: normalizeOrRaw(svc.UUID.String())}
		for _, c := range svc.Characteristics {
			info := device.CharacteristicInfo{
				UUID:        normalizeOrRaw(c.UUID.String()),
				ServiceUUID: si.UUID,
				Properties:  propertiesFrom(c.Property),
			}
			h.chars.Insert(info.UUID, &charEntry{ch: c, info: info})
			si.Characteristics = append(si.Characteristics, info)
		}
		services = append(services, si)
	}
	return services
}

func (h *handle) subscribeAll(client ble.Client) {
	h.chars.Range(func(uuid string, e *charEntry) bool {
		if !e.info.Properties.Notifiable() {
			return true
		}
		indicate := !e.info.Properties.Has(device.PropNotify)
		entry := e

		h.gattMu.Lock()
		err := client.Subscribe(e.ch, indicate, func(data []byte) {
			h.changed(entry.info, data)
		})
		h.gattMu.Unlock()

		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"char_uuid": uuid,
				"error":     err,
			}).Warn("Failed to subscribe to characteristic")
		}
		return !h.released.Load()
	})
}

func (h *handle) ReadCharacteristic(uuid string, onComplete func(status int, ch device.CharacteristicInfo)) bool {
	client := h.currentClient()
	if client == nil {
		return false
	}
	e, ok := h.chars.Get(normalizeOrRaw(uuid))
	if !ok {
		return false
	}

	groutine.Go(h.ctx, "ble-read", func(ctx context.Context) {
		h.gattMu.Lock()
		value, err := client.ReadCharacteristic(e.ch)
		h.gattMu.Unlock()
		if h.released.Load() {
			return
		}

		info := e.info
		info.Value = value
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"char_uuid": info.UUID,
				"error":     err,
			}).Warn("Failed to read characteristic")
			info.Value = nil
		}
		onComplete(gattStatus(err), info)
	})
	return true
}

// Disconnect cancels a pending dial or tears the link down. The final
// (0, disconnected) report comes from the dial or monitor goroutine.
func (h *handle) Disconnect() {
	h.mu.Lock()
	h.disconnectRequested = true
	client := h.client
	h.mu.Unlock()

	if client == nil {
		h.cancel()
		return
	}

	groutine.Go(context.Background(), "ble-disconnect", func(ctx context.Context) {
		if err := client.CancelConnection(); err != nil {
			h.logger.WithError(err).Warn("BLE device disconnected with errors")
		}
		h.linkDown(device.StatusSuccess)
	})
}

// Release drops the connection without waiting for it. Callbacks are
// suppressed from here on; one already running may still complete.
func (h *handle) Release() {
	if h.released.Swap(true) {
		return
	}
	h.cancel()

	h.mu.Lock()
	client := h.client
	h.client = nil
	h.mu.Unlock()

	if client != nil {
		groutine.Go(context.Background(), "ble-release", func(ctx context.Context) {
			if err := client.CancelConnection(); err != nil {
				h.logger.WithError(err).Debug("Cancel connection on release failed")
			}
		})
	}
	h.logger.Debug("BLE handle released")
}

func (h *handle) stateChange(status int, state device.LinkState) {
	if h.released.Load() || h.cb.OnStateChange == nil {
		return
	}
	h.cb.OnStateChange(status, state)
}

func (h *handle) linkDown(status int) {
	h.downOnce.Do(func() {
		h.stateChange(status, device.LinkDisconnected)
	})
}

func (h *handle) changed(info device.CharacteristicInfo, data []byte) {
	if h.released.Load() || h.cb.OnCharacteristicChanged == nil {
		return
	}
	info.Value = append([]byte(nil), data...)
	h.cb.OnCharacteristicChanged(info)
}

func normalizeOrRaw(uuid string) string {
	if n := device.NormalizeUUID(uuid); n != "" {
		return n
	}
	return uuid
}
