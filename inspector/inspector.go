package inspector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/pkg/connectivity"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrDiscoveryFailed  = errors.New("service discovery failed")
	ErrReadFailed       = errors.New("characteristic read failed")
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// InspectOptions defines options for inspecting a BLE device profile
type InspectOptions struct {
	// ReadyTimeout bounds connect plus service discovery.
	ReadyTimeout      time.Duration `default:"60s"`
	DisconnectTimeout time.Duration `default:"5s"`
}

func DefaultInspectOptions() *InspectOptions {
	opts := &InspectOptions{}
	defaults.SetDefaults(opts)
	return opts
}

// InspectCallback processes a Ready session and produces output of type R
type InspectCallback[R any] func(mgr *connectivity.Manager) (R, error)

// InspectDevice connects mgr to address, waits until the session is Ready and
// runs callback. The session is disconnected after the callback returns.
// Optional progressCallback can be provided for connection progress updates.
func InspectDevice[R any](ctx context.Context, mgr *connectivity.Manager, address string, opts *InspectOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback InspectCallback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = DefaultInspectOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	w := newWaiter(mgr)
	defer w.close()

	progressCallback("Connecting")
	if err := mgr.Connect(address); err != nil {
		progressCallback("Failed")
		return zero, err
	}
	session := mgr.SessionID()
	log := logger.WithFields(logrus.Fields{"address": address, "session": session})

	defer disconnect(mgr, w, session, opts.DisconnectTimeout, log)

	readyCtx, cancel := context.WithTimeout(ctx, opts.ReadyTimeout)
	defer cancel()

	if err := waitReady(readyCtx, w, session, progressCallback); err != nil {
		progressCallback("Failed")
		log.WithError(err).Warn("Device did not become ready")
		return zero, err
	}

	progressCallback("Processing results")
	return callback(mgr)
}

func waitReady(ctx context.Context, w *waiter, session string, progress ProgressCallback) error {
	for {
		ev, err := w.next(ctx, session)
		if err != nil {
			return err
		}
		switch ev.Type {
		case device.DeviceConnected:
			progress("Connected")
			progress("Discovering")
		case device.ServicesDiscovered:
			return nil
		case device.ServicesDiscoveryFailed:
			return fmt.Errorf("%w: status %d", ErrDiscoveryFailed, ev.Code)
		case device.ConnectionFailed:
			return fmt.Errorf("%w: status %d", ErrConnectionFailed, ev.Code)
		case device.DeviceDisconnected:
			return device.ErrNotConnected
		}
	}
}

func disconnect(mgr *connectivity.Manager, w *waiter, session string, timeout time.Duration, log *logrus.Entry) {
	if mgr.SessionID() != session || mgr.State() == device.StateDisconnected {
		return
	}
	mgr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for {
		ev, err := w.next(ctx, session)
		if err != nil {
			log.WithError(err).Warn("Timed out waiting for disconnection")
			return
		}
		if ev.Type == device.DeviceDisconnected || ev.Type == device.ConnectionFailed {
			log.Debug("Device disconnected")
			return
		}
	}
}

// ReadCharacteristic reads uuid on the current Ready session and waits for the result.
func ReadCharacteristic(ctx context.Context, mgr *connectivity.Manager, uuid string) (device.CharacteristicRecord, error) {
	w := newWaiter(mgr)
	defer w.close()

	session := mgr.SessionID()
	if err := mgr.ReadCharacteristic(uuid); err != nil {
		return device.CharacteristicRecord{}, err
	}
	want := device.NormalizeUUID(uuid)

	for {
		ev, err := w.next(ctx, session)
		if err != nil {
			return device.CharacteristicRecord{}, err
		}
		switch ev.Type {
		case device.CharacteristicRead, device.CharacteristicReadFailed:
			if ev.Characteristic == nil || ev.Characteristic.UUID != want {
				continue
			}
			if ev.Type == device.CharacteristicReadFailed {
				return *ev.Characteristic, fmt.Errorf("%w: %s status %d", ErrReadFailed, uuid, ev.Code)
			}
			return ev.Characteristic.Clone(), nil
		case device.DeviceDisconnected, device.ConnectionFailed:
			return device.CharacteristicRecord{}, device.ErrNotConnected
		}
	}
}
