package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/hub"
	"github.com/srg/shotbridge/internal/ledger"
	"github.com/srg/shotbridge/internal/message"
	"github.com/srg/shotbridge/internal/session"
	"github.com/srg/shotbridge/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type RegistryTestSuite struct {
	testutils.FakeTransportSuite

	recorder *testutils.Recorder
	registry *Registry
}

func (s *RegistryTestSuite) SetupTest() {
	s.FakeTransportSuite.SetupTest()
	s.Transport.Add(testutils.NewPeripheral("AA:BB:CC:DD:EE:02", "SG-SST-B0002").
		WithCharacteristic(testutils.EventUUID, nil).
		WithCharacteristic(testutils.APIVersionUUID, []byte("2.0")).
		Build())
	s.Transport.Add(testutils.NewPeripheral("00:00:00:00:00:09", "Heart Rate").Build())
	s.Transport.Add(testutils.NewPeripheral("00:00:00:00:00:0A", "").Build())

	ldg := ledger.New(nil, s.Logger)
	h := hub.New(ldg, nil, s.Logger)
	s.recorder = testutils.NewRecorder("r")
	s.Require().NoError(h.Subscribe(s.recorder))

	s.registry = New(s.Transport, h, ldg, Options{
		NamePrefix:  "SG-SST",
		ScanTimeout: time.Second,
		Session: session.Options{
			EventUUID:        testutils.EventUUID,
			APIVersionUUID:   testutils.APIVersionUUID,
			WatchdogInterval: 20 * time.Millisecond,
		},
	}, s.Logger)
}

func (s *RegistryTestSuite) TearDownTest() {
	s.registry.Close()
}

func (s *RegistryTestSuite) TestScanFiltersByPrefix() {
	// GOAL: Verify scan results keep only timers and derive their model from the name

	found, err := s.registry.Scan(context.Background())
	s.Require().NoError(err)
	s.Equal([]device.Descriptor{
		{Name: testutils.TimerName, Address: testutils.TimerAddress, Model: device.ModelSportTimer},
		{Name: "SG-SST-B0002", Address: "AA:BB:CC:DD:EE:02", Model: device.ModelGoTimer},
	}, found)
}

func (s *RegistryTestSuite) TestScanIsExclusive() {
	// GOAL: Verify concurrent scans share a single hardware scan
	//
	// TEST SCENARIO: 8 concurrent Scan calls during a slow scan → one transport scan → identical results

	s.Transport.ScanDelay = 100 * time.Millisecond

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]device.Descriptor, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.registry.Scan(context.Background())
		}(i)
	}
	wg.Wait()

	s.Equal(1, s.Transport.ScanCalls(), "concurrent scans MUST NOT issue duplicate hardware scans")
	for i := 0; i < callers; i++ {
		s.NoError(errs[i])
		s.Len(results[i], 2)
	}

	_, err := s.registry.Scan(context.Background())
	s.Require().NoError(err)
	s.Equal(2, s.Transport.ScanCalls(), "a later scan MUST run again")
}

func (s *RegistryTestSuite) TestScanError() {
	s.Transport.SetScanError(errors.New("adapter off"))
	_, err := s.registry.Scan(context.Background())
	s.ErrorContains(err, "adapter off")
}

func (s *RegistryTestSuite) TestScanCallerCancelled() {
	s.Transport.ScanDelay = 200 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.registry.Scan(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *RegistryTestSuite) TestGetOrCreate() {
	a := s.registry.GetOrCreate("CC:01", "")
	s.Equal("CC:01", a.Name(), "name MUST default to the address")

	b := s.registry.GetOrCreate("CC:01", "SG-SST-A0001")
	s.Same(a, b, "same address MUST map to the same session")
	s.Equal("SG-SST-A0001", b.Name(), "supplied name MUST update the cache")

	s.registry.GetOrCreate("CC:01", "")
	s.Equal("SG-SST-A0001", a.Name(), "empty name MUST NOT clear the cache")
	s.Equal(1, s.registry.Len())
}

func (s *RegistryTestSuite) TestConnectStatusDisconnect() {
	// GOAL: Verify connect/status/disconnect through the registry
	//
	// TEST SCENARIO: Connect two timers → status sorted and connected → disconnect one → unknown address

	_, err := s.registry.Connect(context.Background(), "AA:BB:CC:DD:EE:02", "SG-SST-B0002")
	s.Require().NoError(err)
	sess, err := s.registry.Connect(context.Background(), testutils.TimerAddress, "")
	s.Require().NoError(err)
	s.Equal(session.StateConnected, sess.State())

	st := s.registry.Status()
	s.True(st.Connected)
	s.Require().Len(st.Devices, 2)
	s.Equal(testutils.TimerAddress, st.Devices[0].Address, "status MUST be sorted by address")
	s.Equal("2.0", st.Devices[1].APIVersion)

	s.True(s.registry.Disconnect(testutils.TimerAddress))
	s.False(s.registry.Disconnect("FF:FF"), "unknown address MUST report not connected")

	st = s.registry.Status()
	s.True(st.Connected, "one device is still connected")
	s.False(st.Devices[0].Connected)
	s.Len(testutils.OfType[message.DeviceDisconnected](s.recorder), 1)
}

func (s *RegistryTestSuite) TestConnectMissingAddress() {
	_, err := s.registry.Connect(context.Background(), " ", "")
	s.True(device.IsRequestError(err))
	s.Zero(s.registry.Len())
}

func (s *RegistryTestSuite) TestConnectFailureKeepsSession() {
	_, err := s.registry.Connect(context.Background(), "DE:AD", "SG-SST-A0000")
	s.Error(err)
	s.Equal(1, s.registry.Len(), "session MUST be kept after a failed connect")
	s.False(s.registry.Status().Connected)
}

func (s *RegistryTestSuite) TestCloseDisconnectsAll() {
	_, err := s.registry.Connect(context.Background(), testutils.TimerAddress, "")
	s.Require().NoError(err)

	s.registry.Close()
	s.False(s.registry.Status().Connected)
	s.Equal(1, s.Transport.LastLink(testutils.TimerAddress).Disconnects())
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
