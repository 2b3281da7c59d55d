package main

import (
	"bytes"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/testutils"
)

// CommandTestSuite swaps the BLE transport for a fake one and runs commands
// against the root command.
type CommandTestSuite struct {
	testutils.FakeTransportSuite

	originalTransport func(*logrus.Logger) device.Transport
}

func (s *CommandTestSuite) SetupTest() {
	s.FakeTransportSuite.SetupTest()
	s.originalTransport = newTransport
	newTransport = func(*logrus.Logger) device.Transport { return s.Transport }
}

func (s *CommandTestSuite) TearDownTest() {
	newTransport = s.originalTransport
}

// ExecuteCommand runs the root command with args, returns stdout and error.
// A non-existent settings file is passed so host settings never leak in.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(append(args, "--config", filepath.Join(s.T().TempDir(), "settings.yaml")))
	err := rootCmd.Execute()
	return out.String(), err
}
