package main

import (
	"testing"
	"time"

	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type WatchCommandTestSuite struct {
	CommandTestSuite
}

func (s *WatchCommandTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.Transport.
		AutoRespond(testProfile()).
		AutoNotify("2a19", []byte{0x01}, []byte{0x02}).
		AutoNotify("2a24", []byte("M-1"))
}

func (s *WatchCommandTestSuite) TestWatchPrintsNotifications() {
	// GOAL: Verify watch prints every notification of the session in arrival order
	//
	// TEST SCENARIO: 2a19 notifies 01, 02 and 2a24 notifies "M-1" → three lines → stops after --duration

	out, _, err := s.ExecuteCommand("watch", TestDeviceAddress1, "--duration", "100ms")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `
2a19 (Battery Level): 01
2a19 (Battery Level): 02
2a24 (Model Number String): M-1
`)
	s.True(s.TransportOptions().AutoSubscribe)
}

func (s *WatchCommandTestSuite) TestWatchFilter() {
	out, _, err := s.ExecuteCommand("watch", TestDeviceAddress1, "--duration", "100ms", "--uuid", "2A24")
	s.Require().NoError(err)
	s.Equal("2a24 (Model Number String): M-1\n", out)
}

func (s *WatchCommandTestSuite) TestWatchConnectionLost() {
	// GOAL: Verify watch fails with ErrConnectionLost when the link drops after discovery
	//
	// TEST SCENARIO: Ready session, link reports 133 → command returns ErrConnectionLost

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Eventually(func() bool {
			h := s.Transport.LastHandle()
			return h != nil && h.Discovered()
		}, 2*time.Second, 5*time.Millisecond)
		s.Transport.LastHandle().SetState(device.StatusGattError, device.LinkDisconnected)
	}()

	_, _, err := s.ExecuteCommand("watch", TestDeviceAddress1)
	<-done

	s.ErrorIs(err, ErrConnectionLost)
}

func TestWatchCommandTestSuite(t *testing.T) {
	suite.Run(t, new(WatchCommandTestSuite))
}
