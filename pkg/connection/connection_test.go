package connection

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const deviceAddr = "AA:BB:CC:DD:EE:FF"

type ConnectionTestSuite struct {
	suite.Suite

	logger    *logrus.Logger
	transport *testutils.FakeTransport
	events    *testutils.EventRecorder
	conn      *Controller
	services  []device.ServiceInfo
}

func (s *ConnectionTestSuite) SetupTest() {
	s.logger = testutils.NewTestHelper(s.T()).Logger
	s.transport = testutils.NewFakeTransport()
	s.events = testutils.NewEventRecorder()
	s.conn = NewController(s.transport, s.events, s.logger)

	// 2 services, 3 characteristics
	s.services = testutils.NewServiceBuilder().
		WithService("180D").
		WithCharacteristic("2A37", device.PropNotify, nil).
		WithCharacteristic("2A38", device.PropRead, []byte{0x01}).
		WithService("0000180F-0000-1000-8000-00805F9B34FB").
		WithCharacteristic("00002A19-0000-1000-8000-00805F9B34FB", device.PropRead|device.PropNotify, nil).
		Build()
}

// connectReady drives a session all the way to Ready and returns its handle.
func (s *ConnectionTestSuite) connectReady() *testutils.FakeHandle {
	s.Require().NoError(s.conn.Connect(deviceAddr))
	h := s.transport.LastHandle()
	s.Require().NotNil(h)
	h.SetState(device.StatusSuccess, device.LinkConnected)
	s.Require().True(h.CompleteDiscovery(device.StatusSuccess, s.services), "discovery MUST be requested")
	s.Require().Equal(device.StateReady, s.conn.State())
	return h
}

func (s *ConnectionTestSuite) TestInitialState() {
	s.Equal(device.StateDisconnected, s.conn.State())
	s.False(s.conn.IsConnected())
	s.Empty(s.conn.SessionID())
	s.Empty(s.conn.Address())
	s.Nil(s.conn.Characteristics())
}

func (s *ConnectionTestSuite) TestConnect_TransportUnavailable() {
	s.transport.SetReady(false)

	err := s.conn.Connect(deviceAddr)

	s.ErrorIs(err, device.ErrTransportUnavailable)
	s.True(device.IsConnectionState(err, device.TransportUnavailable))
	s.Empty(s.events.Events(), "refused connect MUST NOT emit events")
	s.transport.AssertNumberOfCalls(s.T(), "Connect", 0)
}

func (s *ConnectionTestSuite) TestConnect_TransportRefuses() {
	s.transport.RejectConnect(errors.New("bluetooth is turned off"))

	err := s.conn.Connect(deviceAddr)

	s.ErrorIs(err, device.ErrBluetoothOff)
	s.Equal(device.StateDisconnected, s.conn.State())
	s.Empty(s.events.Events())
}

func (s *ConnectionTestSuite) TestConnect_ReachesReady() {
	// GOAL: Verify the happy path walks Connecting → Connected → Discovering → Ready
	//
	// TEST SCENARIO: connect → transport connected → discovery auto-issued → 2 services / 3 chars →
	//                ServicesDiscovered with 3 records, state Ready

	s.Require().NoError(s.conn.Connect(deviceAddr))
	s.Equal(device.StateConnecting, s.conn.State())
	s.False(s.conn.IsConnected())
	s.Equal(deviceAddr, s.conn.Address())

	h := s.transport.LastHandle()
	s.Require().NotNil(h)
	s.Equal(deviceAddr, h.Address)

	h.SetState(device.StatusSuccess, device.LinkConnected)
	s.Equal(device.StateDiscovering, s.conn.State())
	s.True(s.conn.IsConnected())
	h.AssertNumberOfCalls(s.T(), "DiscoverServices", 1)

	s.Require().True(h.CompleteDiscovery(device.StatusSuccess, s.services))

	s.Equal(device.StateReady, s.conn.State())
	s.True(s.conn.IsConnected())
	s.Equal([]device.EventType{
		device.Connecting,
		device.DeviceConnected,
		device.ServicesDiscovered,
	}, s.events.Types())

	ev, _ := s.events.Last(device.ServicesDiscovered)
	s.Require().Len(ev.Characteristics, 3, "observer MUST receive exactly 3 characteristics")
	s.Equal("2a37", ev.Characteristics[0].UUID)
	s.Equal("180d", ev.Characteristics[0].ServiceUUID)
	s.Equal("2a38", ev.Characteristics[1].UUID)
	s.Equal("2a19", ev.Characteristics[2].UUID)
	s.Equal("180f", ev.Characteristics[2].ServiceUUID)
	s.Equal(device.PropRead|device.PropNotify, ev.Characteristics[2].Properties)
	s.Len(s.conn.Characteristics(), 3)
}

func (s *ConnectionTestSuite) TestEventsCarrySession() {
	s.connectReady()

	id := s.conn.SessionID()
	s.Len(id, 26, "session id MUST be a ULID")
	for _, ev := range s.events.Events() {
		s.Equal(id, ev.SessionID, "%s MUST carry the session id", ev.Type)
		s.Require().NotNil(ev.Device)
		s.Equal(deviceAddr, ev.Device.ID)
	}
}

func (s *ConnectionTestSuite) TestConnectionFailure() {
	// GOAL: Verify a non-success status tears the session down and surfaces the status
	//
	// TEST SCENARIO: connect → status 133 → ConnectionFailed(133), not connected, handle released

	tests := []struct {
		name  string
		state device.LinkState
	}{
		{name: "failure with disconnected state", state: device.LinkDisconnected},
		{name: "failure status overrides connected state", state: device.LinkConnected},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.events.Reset()
			s.Require().NoError(s.conn.Connect(deviceAddr))
			h := s.transport.LastHandle()

			h.SetState(device.StatusGattError, tt.state)

			ev, ok := s.events.Last(device.ConnectionFailed)
			s.Require().True(ok, "ConnectionFailed MUST be emitted")
			s.Equal(device.StatusGattError, ev.Code)
			s.False(s.conn.IsConnected())
			s.Equal(device.StateDisconnected, s.conn.State())
			s.True(h.Released(), "transport handle MUST be released")
			s.Equal(0, s.events.Count(device.DeviceConnected))
			h.AssertNumberOfCalls(s.T(), "DiscoverServices", 0)
		})
	}
}

func (s *ConnectionTestSuite) TestConnectionFailureWhileReady() {
	h := s.connectReady()

	h.SetState(device.StatusFailure, device.LinkDisconnected)

	ev, ok := s.events.Last(device.ConnectionFailed)
	s.Require().True(ok)
	s.Equal(device.StatusFailure, ev.Code)
	s.True(h.Released())
	s.Nil(s.conn.Characteristics(), "characteristic set MUST be discarded")
}

func (s *ConnectionTestSuite) TestReconnectTearsDownPreviousSession() {
	// GOAL: Verify connect over a live session disconnects and releases the old handle first
	//
	// TEST SCENARIO: reach Ready → connect again → old handle Disconnect+Release before new Connect →
	//                late callbacks of the old handle are ignored

	old := s.connectReady()
	oldSession := s.conn.SessionID()
	s.events.Reset()

	s.Require().NoError(s.conn.Connect("11:22:33:44:55:66"))

	old.AssertCalled(s.T(), "Disconnect")
	s.True(old.Released(), "old handle MUST be released")
	s.Len(s.transport.Handles(), 2)
	live := 0
	for _, h := range s.transport.Handles() {
		if !h.Released() {
			live++
		}
	}
	s.Equal(1, live, "no two live transport handles MAY coexist")

	s.NotEqual(oldSession, s.conn.SessionID())
	s.Equal(device.StateConnecting, s.conn.State())
	s.Equal([]device.EventType{device.Connecting}, s.events.Types(),
		"replacing a session MUST NOT emit DeviceDisconnected")

	old.SetState(device.StatusSuccess, device.LinkDisconnected)
	old.Notify("2a38", []byte{0x02})
	s.Equal(device.StateConnecting, s.conn.State(), "stale callbacks MUST be ignored")
	s.Equal([]device.EventType{device.Connecting}, s.events.Types())
}

func (s *ConnectionTestSuite) TestReconnectWhileConnecting() {
	s.Require().NoError(s.conn.Connect(deviceAddr))
	first := s.transport.LastHandle()

	s.Require().NoError(s.conn.Connect(deviceAddr))

	s.True(first.Released())
	first.SetState(device.StatusSuccess, device.LinkConnected)
	s.Equal(device.StateConnecting, s.conn.State(), "connected callback of replaced handle MUST be ignored")
	first.AssertNumberOfCalls(s.T(), "DiscoverServices", 0)
}

func (s *ConnectionTestSuite) TestReadRejectedUnlessReady() {
	// GOAL: Verify reads are refused outside Ready and never reach the transport
	//
	// TEST SCENARIO: read in Disconnected, Connecting, Discovering → ErrNotReady, handle untouched

	s.ErrorIs(s.conn.ReadCharacteristic("2a38"), device.ErrNotReady, "Disconnected")

	s.Require().NoError(s.conn.Connect(deviceAddr))
	h := s.transport.LastHandle()
	s.ErrorIs(s.conn.ReadCharacteristic("2a38"), device.ErrNotReady, "Connecting")

	h.SetState(device.StatusSuccess, device.LinkConnected)
	s.ErrorIs(s.conn.ReadCharacteristic("2a38"), device.ErrNotReady, "Discovering")

	h.AssertNumberOfCalls(s.T(), "ReadCharacteristic", 0)
}

func (s *ConnectionTestSuite) TestReadCharacteristic() {
	h := s.connectReady()

	s.Require().NoError(s.conn.ReadCharacteristic("00002A19-0000-1000-8000-00805F9B34FB"))
	h.AssertCalled(s.T(), "ReadCharacteristic", "2a19")

	s.Require().True(h.CompleteRead("2a19", device.StatusSuccess, []byte{100}))

	ev, ok := s.events.Last(device.CharacteristicRead)
	s.Require().True(ok, "CharacteristicRead MUST be emitted")
	s.Equal("2a19", ev.Characteristic.UUID)
	s.Equal([]byte{100}, ev.Characteristic.Value)

	chars := s.conn.Characteristics()
	s.Equal([]byte{100}, chars[2].Value, "session set MUST hold the new value")
	s.Nil(chars[0].Value)
}

func (s *ConnectionTestSuite) TestDiscoveryLeavesValuesAbsent() {
	// GOAL: Verify discovery never seeds characteristic values, even when the transport reports one
	//
	// TEST SCENARIO: discovery reports 2A38 with value 0x01 → record has no value → read fills it

	h := s.connectReady()

	ev, ok := s.events.Last(device.ServicesDiscovered)
	s.Require().True(ok)
	for _, ch := range ev.Characteristics {
		s.False(ch.HasValue(), "%s MUST have no value before the first read", ch.UUID)
	}
	chars := s.conn.Characteristics()
	s.Require().Equal("2a38", chars[1].UUID)
	s.Nil(chars[1].Value)
	s.Equal("No value", chars[1].ValueString())

	s.Require().NoError(s.conn.ReadCharacteristic("2a38"))
	s.Require().True(h.CompleteRead("2a38", device.StatusSuccess, []byte{0x02}))
	s.Equal([]byte{0x02}, s.conn.Characteristics()[1].Value)
}

func (s *ConnectionTestSuite) TestReadFailure() {
	h := s.connectReady()
	s.Require().NoError(s.conn.ReadCharacteristic("2a38"))

	h.CompleteRead("2a38", device.StatusGattError, nil)

	ev, ok := s.events.Last(device.CharacteristicReadFailed)
	s.Require().True(ok, "read failure MUST be surfaced")
	s.Equal(device.StatusGattError, ev.Code)
	s.Equal("2a38", ev.Characteristic.UUID)
	s.Equal(0, s.events.Count(device.CharacteristicRead))
	s.Equal(device.StateReady, s.conn.State(), "read failure MUST NOT change the session state")
}

func (s *ConnectionTestSuite) TestReadPreflightErrors() {
	h := s.connectReady()

	s.Run("unknown characteristic", func() {
		err := s.conn.ReadCharacteristic("ffff")
		var nf *device.NotFoundError
		s.Require().ErrorAs(err, &nf)
		s.Equal("characteristic", nf.Resource)
	})

	s.Run("not readable", func() {
		s.ErrorIs(s.conn.ReadCharacteristic("2a37"), device.ErrUnsupported)
	})

	s.Run("transport refuses", func() {
		h.RefuseReads()
		err := s.conn.ReadCharacteristic("2a38")
		s.Error(err)
		s.Equal(0, h.PendingReads("2a38"))
	})
}

func (s *ConnectionTestSuite) TestNotifications() {
	// GOAL: Verify notifications update the matching record and unknown uuids are ignored
	//
	// TEST SCENARIO: notify long-form 2A37 → CharacteristicChanged on 2a37 → notify unknown → nothing

	h := s.connectReady()

	h.Notify("00002A37-0000-1000-8000-00805F9B34FB", []byte{0x00, 0x48})

	ev, ok := s.events.Last(device.CharacteristicChanged)
	s.Require().True(ok)
	s.Equal("2a37", ev.Characteristic.UUID)
	s.Equal([]byte{0x00, 0x48}, ev.Characteristic.Value)
	s.Equal("00 48", ev.Characteristic.ValueString())

	h.Notify("beef", []byte{0x01})
	s.Equal(1, s.events.Count(device.CharacteristicChanged), "unknown uuid MUST be ignored")
}

func (s *ConnectionTestSuite) TestDuplicateUUIDsAllUpdated() {
	s.services = testutils.NewServiceBuilder().
		WithService("180D").
		WithCharacteristic("2A38", device.PropRead, nil).
		WithService("1234").
		WithCharacteristic("2A38", device.PropRead, nil).
		Build()
	h := s.connectReady()

	h.Notify("2a38", []byte("ok"))

	chars := s.conn.Characteristics()
	s.Require().Len(chars, 2)
	s.Equal([]byte("ok"), chars[0].Value)
	s.Equal([]byte("ok"), chars[1].Value)
	s.Equal(1, s.events.Count(device.CharacteristicChanged))
}

func (s *ConnectionTestSuite) TestDiscoveryFailure() {
	s.Run("transport reports failure", func() {
		s.Require().NoError(s.conn.Connect(deviceAddr))
		h := s.transport.LastHandle()
		h.SetState(device.StatusSuccess, device.LinkConnected)

		h.CompleteDiscovery(device.StatusGattError, nil)

		ev, ok := s.events.Last(device.ServicesDiscoveryFailed)
		s.Require().True(ok, "discovery failure MUST be surfaced")
		s.Equal(device.StatusGattError, ev.Code)
		s.Equal(device.StateConnected, s.conn.State())
		s.True(s.conn.IsConnected())
		s.ErrorIs(s.conn.ReadCharacteristic("2a38"), device.ErrNotReady)
	})

	s.Run("transport refuses request", func() {
		s.events.Reset()
		s.Require().NoError(s.conn.Connect(deviceAddr))
		h := s.transport.LastHandle().RefuseDiscovery()

		h.SetState(device.StatusSuccess, device.LinkConnected)

		ev, ok := s.events.Last(device.ServicesDiscoveryFailed)
		s.Require().True(ok)
		s.Equal(device.StatusFailure, ev.Code)
		s.Equal(device.StateConnected, s.conn.State())
	})
}

func (s *ConnectionTestSuite) TestDisconnect() {
	// GOAL: Verify disconnect is asynchronous and completes through the state callback
	//
	// TEST SCENARIO: Ready → Disconnect → handle asked, still Ready → transport reports disconnected →
	//                DeviceDisconnected, handle released, set discarded

	s.conn.Disconnect() // no session: no-op

	h := s.connectReady()
	s.conn.Disconnect()

	h.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	s.Equal(device.StateReady, s.conn.State(), "disconnect MUST complete asynchronously")

	h.SetState(device.StatusSuccess, device.LinkDisconnected)

	s.Equal(device.StateDisconnected, s.conn.State())
	s.True(h.Released())
	s.Nil(s.conn.Characteristics())
	s.Equal(1, s.events.Count(device.DeviceDisconnected))

	s.conn.Disconnect()
	h.AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

func (s *ConnectionTestSuite) TestClose() {
	s.Run("twice without a connection", func() {
		s.NotPanics(func() {
			s.conn.Close()
			s.conn.Close()
		})
		s.Empty(s.events.Events())
	})

	s.Run("forces teardown of a live session", func() {
		h := s.connectReady()
		s.events.Reset()

		s.conn.Close()

		h.AssertCalled(s.T(), "Disconnect")
		s.True(h.Released())
		s.Equal(device.StateDisconnected, s.conn.State())
		s.Empty(s.events.Events(), "Close MUST NOT emit events")

		h.SetState(device.StatusSuccess, device.LinkDisconnected)
		s.Empty(s.events.Events(), "callbacks after Close MUST be ignored")

		s.conn.Close()
	})
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}
