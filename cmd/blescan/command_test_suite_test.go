package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/device/go-ble"
	"github.com/srg/blescan/internal/devicefactory"
	"github.com/srg/blescan/internal/testutils"
	"github.com/srg/blescan/scanner"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "CC:DD:EE:FF:00:02"
)

// CommandTestSuite runs commands against a FakeTransport installed through
// devicefactory.NewTransport. Scan timers fire after a few milliseconds
// whatever period is requested; the requested periods are recorded.
type CommandTestSuite struct {
	suite.Suite

	Logger    *logrus.Logger
	Transport *testutils.FakeTransport

	mu               sync.Mutex
	transportOptions *goble.Options
	scanPeriods      []time.Duration

	origNewTransport func(*logrus.Logger, *goble.Options) device.Transport
	origAfterFunc    func(time.Duration, func()) scanner.Timer
}

func (s *CommandTestSuite) SetupTest() {
	s.Logger = testutils.NewTestHelper(s.T()).Logger
	s.Transport = testutils.NewFakeTransport()
	s.transportOptions = nil
	s.scanPeriods = nil

	s.origNewTransport = devicefactory.NewTransport
	devicefactory.NewTransport = func(_ *logrus.Logger, opts *goble.Options) device.Transport {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.transportOptions = opts
		return s.Transport
	}

	s.origAfterFunc = scanner.AfterFunc
	scanner.AfterFunc = func(d time.Duration, f func()) scanner.Timer {
		s.mu.Lock()
		s.scanPeriods = append(s.scanPeriods, d)
		s.mu.Unlock()
		return time.AfterFunc(50*time.Millisecond, f)
	}

	resetFlags(rootCmd)
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.NewTransport = s.origNewTransport
	scanner.AfterFunc = s.origAfterFunc
}

// resetFlags restores every flag of cmd and its subcommands to its default,
// since cobra keeps parsed values between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// ExecuteCommand runs the root command with args and returns stdout and stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// WriteConfig writes a YAML config file and returns its path.
func (s *CommandTestSuite) WriteConfig(content string) string {
	path := filepath.Join(s.T().TempDir(), "blescan.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *CommandTestSuite) TransportOptions() *goble.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transportOptions
}

func (s *CommandTestSuite) ScanPeriods() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.scanPeriods...)
}

// testProfile is the GATT profile served by auto-responding fake handles.
func testProfile() []device.ServiceInfo {
	return testutils.NewServiceBuilder().
		WithService("180F").
		WithCharacteristic("2A19", device.PropRead|device.PropNotify, []byte{0x0A}).
		WithService("180A").
		WithCharacteristic("2A29", device.PropRead, []byte("Acme")).
		WithCharacteristic("2A24", device.PropNotify, nil).
		Build()
}
