package connection

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
)

// session is one connect attempt and everything learned through its handle.
// A session is never reused: every Connect creates a new one.
type session struct {
	id      string
	address string
	handle  device.Handle
	state   device.SessionState
	chars   []device.CharacteristicRecord
}

// Controller owns the connection state machine for a single peripheral at a time.
//
//	Disconnected → Connecting → Connected → Discovering → Ready
//
// Any state falls back to Disconnected on failure or teardown, and a failed
// discovery falls back from Discovering to Connected. Transport callbacks that
// belong to a session which is no longer current are ignored.
type Controller struct {
	transport device.Transport
	events    device.EventSink
	logger    *logrus.Logger

	connMutex sync.Mutex
	current   *session
}

// NewController creates a connection controller.
func NewController(transport device.Transport, events device.EventSink, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		transport: transport,
		events:    events,
		logger:    logger,
	}
}

// Connect opens a new session to address and emits Connecting.
// An existing session is torn down first, its handle disconnected and released.
// Returns device.ErrTransportUnavailable when the radio is absent or disabled,
// or the transport error when the connect request is refused.
func (c *Controller) Connect(address string) error {
	if !c.transport.Ready() {
		c.logger.WithField("address", address).Warn("Cannot connect: transport unavailable")
		return device.ErrTransportUnavailable
	}

	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.current != nil {
		c.logger.WithFields(logrus.Fields{
			"session": c.current.id,
			"address": c.current.address,
			"state":   c.current.state,
		}).Info("Tearing down previous session before connecting")
		c.teardownLocked(c.current)
	}

	sess := &session{
		id:      ulid.Make().String(),
		address: address,
		state:   device.StateConnecting,
	}
	handle, err := c.transport.Connect(address, device.HandleCallbacks{
		OnStateChange:           c.stateHandler(sess),
		OnCharacteristicChanged: c.changeHandler(sess),
	})
	if err != nil {
		c.logger.WithError(err).WithField("address", address).Warn("Connect request refused by transport")
		return fmt.Errorf("failed to connect to %s: %w", address, device.NormalizeError(err))
	}
	sess.handle = handle
	c.current = sess

	c.logger.WithFields(logrus.Fields{
		"session": sess.id,
		"address": address,
	}).Info("Connecting to device...")
	c.emitLocked(sess, device.Event{Type: device.Connecting})
	return nil
}

// Disconnect requests link teardown. Completion is reported through
// DeviceDisconnected once the transport confirms it. No-op without an active handle.
func (c *Controller) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	sess := c.current
	if sess == nil || sess.handle == nil {
		return
	}
	c.logger.WithField("session", sess.id).Info("Disconnecting from device...")
	sess.handle.Disconnect()
}

// ReadCharacteristic requests a read of uuid. Completion is reported through
// CharacteristicRead or CharacteristicReadFailed.
// Returns device.ErrNotReady unless the session is Ready, a *device.NotFoundError
// for a uuid the peripheral does not expose, and device.ErrUnsupported for a
// characteristic without the read property.
func (c *Controller) ReadCharacteristic(uuid string) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	sess := c.current
	if sess == nil || sess.state != device.StateReady {
		return device.ErrNotReady
	}

	rec, ok := findCharacteristic(sess.chars, uuid)
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	if !rec.Properties.Readable() {
		return fmt.Errorf("%w: characteristic %s is not readable", device.ErrUnsupported, rec.UUID)
	}

	if !sess.handle.ReadCharacteristic(rec.UUID, c.readHandler(sess, rec)) {
		return fmt.Errorf("read request for characteristic %s was not submitted", rec.UUID)
	}

	c.logger.WithFields(logrus.Fields{
		"session": sess.id,
		"uuid":    rec.UUID,
	}).Debug("Read requested")
	return nil
}

// Close forces teardown of the current session regardless of its state.
// No event is emitted. Safe to call repeatedly.
func (c *Controller) Close() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.current != nil {
		c.teardownLocked(c.current)
	}
}

// State returns the state of the current session.
func (c *Controller) State() device.SessionState {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	if c.current == nil {
		return device.StateDisconnected
	}
	return c.current.state
}

// IsConnected reports whether the link is up, whether or not discovery has completed.
func (c *Controller) IsConnected() bool {
	switch c.State() {
	case device.StateConnected, device.StateDiscovering, device.StateReady:
		return true
	default:
		return false
	}
}

// SessionID returns the id of the current session, or "".
func (c *Controller) SessionID() string {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.id
}

// Address returns the peripheral address of the current session, or "".
func (c *Controller) Address() string {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.address
}

// Characteristics returns a copy of the characteristic set of the current session.
func (c *Controller) Characteristics() []device.CharacteristicRecord {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	if c.current == nil {
		return nil
	}
	return cloneRecords(c.current.chars)
}

func (c *Controller) stateHandler(sess *session) func(status int, state device.LinkState) {
	return func(status int, state device.LinkState) {
		c.connMutex.Lock()
		defer c.connMutex.Unlock()

		log := c.logger.WithFields(logrus.Fields{
			"session": sess.id,
			"status":  status,
			"state":   state,
		})
		if c.current != sess {
			log.Debug("Ignoring state change for stale session")
			return
		}

		// a failure status wins over whatever state the transport reports
		if status != device.StatusSuccess {
			log.Warn("Connection failed")
			c.endLocked(sess)
			c.emitLocked(sess, device.Event{Type: device.ConnectionFailed, Code: status})
			return
		}

		switch state {
		case device.LinkConnected:
			if sess.state != device.StateConnecting {
				log.Debug("Ignoring repeated connected state")
				return
			}
			sess.state = device.StateConnected
			log.Info("Device connected")
			c.emitLocked(sess, device.Event{Type: device.DeviceConnected})
			c.discoverLocked(sess)

		case device.LinkDisconnected:
			log.Info("Device disconnected")
			c.endLocked(sess)
			c.emitLocked(sess, device.Event{Type: device.DeviceDisconnected})
		}
	}
}

func (c *Controller) discoverLocked(sess *session) {
	sess.state = device.StateDiscovering
	c.logger.WithField("session", sess.id).Debug("Discovering services...")

	if !sess.handle.DiscoverServices(c.discoveryHandler(sess)) {
		sess.state = device.StateConnected
		c.logger.WithField("session", sess.id).Warn("Service discovery was not submitted")
		c.emitLocked(sess, device.Event{Type: device.ServicesDiscoveryFailed, Code: device.StatusFailure})
	}
}

func (c *Controller) discoveryHandler(sess *session) func(status int, services []device.ServiceInfo) {
	return func(status int, services []device.ServiceInfo) {
		c.connMutex.Lock()
		defer c.connMutex.Unlock()

		if c.current != sess || sess.state != device.StateDiscovering {
			c.logger.WithField("session", sess.id).Debug("Ignoring discovery result for stale session")
			return
		}

		if status != device.StatusSuccess {
			sess.state = device.StateConnected
			c.logger.WithFields(logrus.Fields{
				"session": sess.id,
				"status":  status,
			}).Warn("Service discovery failed")
			c.emitLocked(sess, device.Event{Type: device.ServicesDiscoveryFailed, Code: status})
			return
		}

		var chars []device.CharacteristicRecord
		for _, svc := range services {
			for _, info := range svc.Characteristics {
				if info.ServiceUUID == "" {
					info.ServiceUUID = svc.UUID
				}
				// values arrive only through reads and notifications
				info.Value = nil
				chars = append(chars, device.NewCharacteristicRecord(info))
			}
		}
		sess.chars = chars
		sess.state = device.StateReady

		c.logger.WithFields(logrus.Fields{
			"session":         sess.id,
			"services":        len(services),
			"characteristics": len(chars),
		}).Info("Services discovered")
		c.emitLocked(sess, device.Event{
			Type:            device.ServicesDiscovered,
			Characteristics: cloneRecords(chars),
		})
	}
}

func (c *Controller) readHandler(sess *session, requested device.CharacteristicRecord) func(status int, ch device.CharacteristicInfo) {
	return func(status int, info device.CharacteristicInfo) {
		c.connMutex.Lock()
		defer c.connMutex.Unlock()

		if c.current != sess {
			return
		}

		if status != device.StatusSuccess {
			c.logger.WithFields(logrus.Fields{
				"session": sess.id,
				"uuid":    requested.UUID,
				"status":  status,
			}).Warn("Characteristic read failed")
			failed := requested.Clone()
			c.emitLocked(sess, device.Event{Type: device.CharacteristicReadFailed, Characteristic: &failed, Code: status})
			return
		}

		if info.UUID == "" {
			info.UUID = requested.UUID
		}
		c.applyValueLocked(sess, info, device.CharacteristicRead)
	}
}

func (c *Controller) changeHandler(sess *session) func(ch device.CharacteristicInfo) {
	return func(info device.CharacteristicInfo) {
		c.connMutex.Lock()
		defer c.connMutex.Unlock()

		if c.current != sess {
			return
		}
		c.applyValueLocked(sess, info, device.CharacteristicChanged)
	}
}

// applyValueLocked stores the value on every record of the session matching the uuid
// and emits evType with the first match. Values for unknown uuids are dropped.
func (c *Controller) applyValueLocked(sess *session, info device.CharacteristicInfo, evType device.EventType) {
	uuid := normalize(info.UUID)

	var first *device.CharacteristicRecord
	for i := range sess.chars {
		if sess.chars[i].UUID != uuid {
			continue
		}
		sess.chars[i].Value = bytes.Clone(info.Value)
		if sess.chars[i].Value == nil {
			sess.chars[i].Value = []byte{}
		}
		if first == nil {
			first = &sess.chars[i]
		}
	}

	if first == nil {
		c.logger.WithFields(logrus.Fields{
			"session": sess.id,
			"uuid":    uuid,
			"event":   evType,
		}).Debug("Dropping value for unknown characteristic")
		return
	}

	rec := first.Clone()
	c.logger.WithFields(logrus.Fields{
		"session": sess.id,
		"uuid":    uuid,
		"bytes":   len(rec.Value),
	}).Debug("Characteristic value updated")
	c.emitLocked(sess, device.Event{Type: evType, Characteristic: &rec})
}

// teardownLocked forces the session down without emitting an event.
func (c *Controller) teardownLocked(sess *session) {
	if sess.handle != nil {
		sess.handle.Disconnect()
	}
	c.endLocked(sess)
}

// endLocked releases the handle and detaches the session.
func (c *Controller) endLocked(sess *session) {
	if sess.handle != nil {
		sess.handle.Release()
		sess.handle = nil
	}
	sess.state = device.StateDisconnected
	sess.chars = nil
	if c.current == sess {
		c.current = nil
	}
}

func (c *Controller) emitLocked(sess *session, ev device.Event) {
	ev.SessionID = sess.id
	if ev.Device == nil {
		ev.Device = &device.DeviceRecord{ID: sess.address}
	}
	c.events.Dispatch(ev)
}

func findCharacteristic(chars []device.CharacteristicRecord, uuid string) (device.CharacteristicRecord, bool) {
	n := normalize(uuid)
	for _, ch := range chars {
		if ch.UUID == n {
			return ch, true
		}
	}
	return device.CharacteristicRecord{}, false
}

func normalize(uuid string) string {
	if n := device.NormalizeUUID(uuid); n != "" {
		return n
	}
	return strings.ToLower(uuid)
}

func cloneRecords(chars []device.CharacteristicRecord) []device.CharacteristicRecord {
	if chars == nil {
		return nil
	}
	out := make([]device.CharacteristicRecord, len(chars))
	for i, ch := range chars {
		out[i] = ch.Clone()
	}
	return out
}
