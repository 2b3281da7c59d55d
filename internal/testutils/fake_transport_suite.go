package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// Timer identity and GATT layout shared by bridge tests.
const (
	TimerAddress    = "AA:BB:CC:DD:EE:01"
	TimerName       = "SG-SST-A1234"
	ServiceUUID     = "7520ffff-14d2-4cda-8b6b-697c554c9311"
	EventUUID       = "75200001-14d2-4cda-8b6b-697c554c9311"
	APIVersionUUID  = "7520fffe-14d2-4cda-8b6b-697c554c9311"
	TimerAPIVersion = "1.2"
)

// FakeTransportSuite provides a fresh FakeTransport per test.
//
//	type SessionSuite struct {
//	    testutils.FakeTransportSuite
//	}
//
//	func (s *SessionSuite) SetupTest() {
//	    s.FakeTransportSuite.SetupTest()
//	    s.Transport.Add(testutils.NewPeripheral("11:22", "SG-SST-B0001").Build())
//	}
//
// By default the transport knows one Sport timer at TimerAddress exposing the
// event and API-version characteristics.
type FakeTransportSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	Transport   *FakeTransport
	TestTimeout time.Duration
}

// SetupSuite initializes the helper and logger once per suite.
func (s *FakeTransportSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
}

// SetupTest installs a new transport with the default timer.
func (s *FakeTransportSuite) SetupTest() {
	s.Transport = NewFakeTransport(DefaultTimer().Build())
}

// DefaultTimer returns a builder for the standard test timer.
func DefaultTimer() *PeripheralBuilder {
	return NewPeripheral(TimerAddress, TimerName).
		WithCharacteristic(EventUUID, nil).
		WithCharacteristic(APIVersionUUID, []byte(" "+TimerAPIVersion+"\x00\n"))
}
