package ledger

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type failingStore struct{}

func (failingStore) OpenJournal(string) (*store.Journal, error) {
	return nil, &store.PersistenceError{SessionID: "x", Op: "open", Err: errors.New("disk full")}
}

type LedgerTestSuite struct {
	suite.Suite
	dataDir string
	ledger  *Ledger
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func (s *LedgerTestSuite) SetupTest() {
	root := s.T().TempDir()
	s.dataDir = filepath.Join(root, "data")
	st, err := store.New(s.dataDir, filepath.Join(root, "archive"), quietLogger())
	s.Require().NoError(err)
	s.ledger = New(st, quietLogger())
}

func (s *LedgerTestSuite) TearDownTest() {
	s.ledger.Close()
}

func (s *LedgerTestSuite) TestShotNumberingAndSplits() {
	// GOAL: Verify split[i] = time[i] - time[i-1] with a nil split for the first shot
	//
	// TEST SCENARIO: Start session → record three shots → check entries and record

	s.ledger.StartSession(1)

	first := s.ledger.RecordShot(1, 0.5, 500)
	s.Nil(first.Split, "first shot MUST have no split")

	second := s.ledger.RecordShot(2, 0.8, 800)
	s.Require().NotNil(second.Split)
	s.InDelta(0.3, *second.Split, 1e-9)

	third := s.ledger.RecordShot(3, 1.5, 1500)
	s.Require().NotNil(third.Split)
	s.InDelta(0.7, *third.Split, 1e-9)

	rec := s.ledger.Current()
	s.Require().NotNil(rec)
	s.Equal([]Shot{{1, 0.5}, {2, 0.8}, {3, 1.5}}, rec.Shots)
	s.InDelta(0.5, rec.FirstShot, 1e-9)
	s.InDelta(1.5, rec.TotalTime, 1e-9, "total_time MUST equal the latest shot")
	s.InDelta(0.3, rec.BestSplit, 1e-9)
}

func (s *LedgerTestSuite) TestBestSplit() {
	// GOAL: Verify best split is the minimum positive split and 0 before any split exists

	tests := []struct {
		name  string
		times []float64
		want  float64
	}{
		{"no shots", nil, 0},
		{"one shot", []float64{1.0}, 0},
		{"decreasing splits", []float64{1.0, 2.0, 2.5, 2.7}, 0.2},
		{"larger split never replaces", []float64{1.0, 1.2, 3.0}, 0.2},
		{"non-positive split ignored once set", []float64{1.0, 1.4, 1.4, 1.3}, 0.4},
		{"negative first split ignored", []float64{1.0, 0.8, 1.1}, 0.3},
		{"zero first split ignored", []float64{1.0, 1.0, 1.5}, 0.5},
		{"only non-positive splits", []float64{2.0, 1.5, 1.5}, 0},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.ledger.StartSession(7)
			for i, tm := range tt.times {
				s.ledger.RecordShot(i+1, tm, uint32(tm*1000))
			}
			s.InDelta(tt.want, s.ledger.Current().BestSplit, 1e-9)
		})
	}
}

func (s *LedgerTestSuite) TestStopAndSnapshot() {
	// GOAL: Verify snapshots follow live → stopped → cleared transitions
	//
	// TEST SCENARIO: No session → nil; live → live copy; stop → stopped snapshot; clear → nil

	s.Nil(s.ledger.SnapshotForSync(), "no session MUST yield no snapshot")

	s.ledger.StartSession(55)
	s.ledger.RecordShot(1, 0.5, 500)

	live := s.ledger.SnapshotForSync()
	s.Require().NotNil(live)
	s.True(live.Active)
	s.Equal(StatusLive, live.Status)

	live.Shots[0].Time = 99
	s.InDelta(0.5, s.ledger.SnapshotForSync().Shots[0].Time, 1e-9, "snapshot MUST be a deep copy")

	s.ledger.StopSession()
	stopped := s.ledger.SnapshotForSync()
	s.Require().NotNil(stopped)
	s.False(stopped.Active)
	s.Equal(StatusStopped, stopped.Status)
	s.Equal(uint32(55), stopped.SessID)
	s.Len(stopped.Shots, 1)

	s.ledger.ClearLast()
	s.Nil(s.ledger.SnapshotForSync(), "cleared ledger MUST yield no snapshot")
}

func (s *LedgerTestSuite) TestShotOutsideSession() {
	s.ledger.RecordShot(1, 0.5, 500)
	entry := s.ledger.RecordShot(2, 0.9, 900)
	s.Require().NotNil(entry.Split, "split MUST be computed against the previous shot seen")
	s.InDelta(0.4, *entry.Split, 1e-9)
	s.Nil(s.ledger.Current(), "shots without a session MUST NOT create a record")
}

func (s *LedgerTestSuite) TestJournalWritten() {
	s.ledger.StartSession(9)
	s.ledger.RecordShot(1, 0.5, 500)
	s.ledger.RecordShot(2, 0.8, 800)
	s.ledger.StopSession()

	data, err := os.ReadFile(filepath.Join(s.dataDir, "9.csv"))
	s.Require().NoError(err)
	s.Equal("event,shot_num,shot_time,split,ts_device\n"+
		"SESSION_STARTED,,,,\n"+
		"SHOT_DETECTED,1,0.500,,500\n"+
		"SHOT_DETECTED,2,0.800,0.300,800\n"+
		"SESSION_STOPPED,,,,\n", string(data))
	s.Zero(s.ledger.PersistenceFailures())
}

func (s *LedgerTestSuite) TestJournalFailureMidSession() {
	// GOAL: Verify a failing shot append keeps updating in-memory state and counts the failure
	//
	// TEST SCENARIO: Open a real journal → close it underneath the ledger → record a shot → state grows, failure counted

	s.ledger.StartSession(11)
	s.ledger.RecordShot(1, 0.5, 500)
	s.Require().Zero(s.ledger.PersistenceFailures())

	s.Require().NotNil(s.ledger.journal, "session MUST have an open journal")
	s.Require().NoError(s.ledger.journal.Close())

	entry := s.ledger.RecordShot(2, 0.9, 900)
	s.Equal(2, entry.Num)
	s.Require().NotNil(entry.Split)
	s.InDelta(0.4, *entry.Split, 1e-9)

	rec := s.ledger.Current()
	s.Require().NotNil(rec)
	s.Len(rec.Shots, 2, "shots MUST grow despite the append failure")
	s.InDelta(0.9, rec.TotalTime, 1e-9, "total_time MUST update despite the append failure")
	s.InDelta(0.4, rec.BestSplit, 1e-9)
	s.Equal(int64(1), s.ledger.PersistenceFailures(), "append failure MUST be counted")

	s.ledger.StopSession()
	stopped := s.ledger.SnapshotForSync()
	s.Require().NotNil(stopped)
	s.Equal(StatusStopped, stopped.Status)
	s.Len(stopped.Shots, 2)

	data, err := os.ReadFile(filepath.Join(s.dataDir, "11.csv"))
	s.Require().NoError(err)
	s.Equal("event,shot_num,shot_time,split,ts_device\n"+
		"SESSION_STARTED,,,,\n"+
		"SHOT_DETECTED,1,0.500,,500\n", string(data), "rows after the failure MUST NOT reach the file")
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func TestLedger_PersistenceFailureDoesNotBlock(t *testing.T) {
	// GOAL: Verify journal failures are counted while in-memory state keeps updating
	l := New(failingStore{}, quietLogger())

	l.StartSession(3)
	entry := l.RecordShot(1, 0.5, 500)
	assert.Equal(t, 1, entry.Num)

	rec := l.Current()
	require.NotNil(t, rec)
	assert.Len(t, rec.Shots, 1, "state MUST update despite persistence failure")
	assert.Equal(t, int64(1), l.PersistenceFailures())
}

func TestLedger_MemoryOnly(t *testing.T) {
	l := New(nil, quietLogger())
	l.StartSession(1)
	l.RecordShot(1, 1, 1000)
	l.StopSession()
	assert.Equal(t, int64(0), l.PersistenceFailures())
	assert.NotNil(t, l.SnapshotForSync())
}
