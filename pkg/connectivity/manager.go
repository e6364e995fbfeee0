// Package connectivity is the single entry point to the BLE connectivity core.
//
// A Manager composes a scan controller, a connection controller and an event
// dispatcher around one injected device.Transport. Commands return synchronous
// acknowledgements only; results arrive later as events on registered observers,
// always on the dispatcher's delivery goroutine:
//
//	mgr := connectivity.New(transport, nil, logger)
//	defer mgr.Close()
//
//	devices := connectivity.NewDeviceList()
//	mgr.RegisterObserver(devices)
//	if err := mgr.StartScan(); err != nil {
//	    return err
//	}
package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/dispatch"
	"github.com/srg/blescan/pkg/connection"
	"github.com/srg/blescan/scanner"
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("connectivity manager is closed")

// Manager is the connectivity facade.
type Manager struct {
	transport  device.Transport
	dispatcher *dispatch.Dispatcher
	scanner    *scanner.Controller
	conn       *connection.Controller
	logger     *logrus.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

// New wires a Manager around transport. A nil scanOpts means scanner.DefaultScanOptions.
func New(transport device.Transport, scanOpts *scanner.ScanOptions, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}

	d := dispatch.New(logger)
	return &Manager{
		transport:  transport,
		dispatcher: d,
		scanner:    scanner.NewController(transport, d, scanOpts, logger),
		conn:       connection.NewController(transport, d, logger),
		logger:     logger,
	}
}

// IsTransportReady reports whether the radio is present and enabled.
func (m *Manager) IsTransportReady() bool {
	return m.transport.Ready()
}

// SetScanOptions replaces the options used by the next scan session.
func (m *Manager) SetScanOptions(opts *scanner.ScanOptions) {
	m.scanner.SetOptions(opts)
}

// StartScan starts a bounded scan session. See scanner.Controller.StartScan.
func (m *Manager) StartScan() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.scanner.StartScan()
}

func (m *Manager) StopScan() {
	m.scanner.StopScan()
}

func (m *Manager) IsScanning() bool {
	return m.scanner.IsScanning()
}

// Connect opens a session to the peripheral at address. See connection.Controller.Connect.
func (m *Manager) Connect(address string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.conn.Connect(address)
}

func (m *Manager) Disconnect() {
	m.conn.Disconnect()
}

func (m *Manager) IsConnected() bool {
	return m.conn.IsConnected()
}

// State returns the state of the current connection session.
func (m *Manager) State() device.SessionState {
	return m.conn.State()
}

// SessionID returns the id of the current connection session, or "".
func (m *Manager) SessionID() string {
	return m.conn.SessionID()
}

// Characteristics returns a copy of the characteristic set of the current session.
func (m *Manager) Characteristics() []device.CharacteristicRecord {
	return m.conn.Characteristics()
}

// ReadCharacteristic requests a read. See connection.Controller.ReadCharacteristic.
func (m *Manager) ReadCharacteristic(uuid string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.conn.ReadCharacteristic(uuid)
}

// RegisterObserver adds o to the observer registry. No-op if o is already registered.
func (m *Manager) RegisterObserver(o device.Observer) {
	m.dispatcher.Register(o)
}

// UnregisterObserver removes o from the observer registry. No-op if o is absent.
func (m *Manager) UnregisterObserver(o device.Observer) {
	m.dispatcher.Unregister(o)
}

// Sync waits until every event emitted before the call has been delivered.
func (m *Manager) Sync(ctx context.Context) error {
	return m.dispatcher.Sync(ctx)
}

// Close stops any scan, forces the connection down, drops every observer
// and ends event delivery. Events already queued, the final ScanFinished
// included, are still delivered. Called from an observer, the observers are
// dropped as soon as the current event has been delivered. Safe to call more
// than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.logger.Debug("Closing connectivity manager")

		m.scanner.StopScan()
		m.conn.Close()
		m.dispatcher.Clear()
	})
	m.dispatcher.Stop()
}
