// Package ledger owns the authoritative session state.
//
// There is one Ledger per process. It keeps the current session record, the
// last completed snapshot handed to late joiners, and the journal of the
// running session. Journal failures never stop state updates: they are
// logged and counted.
package ledger

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/codec"
	"github.com/srg/shotbridge/internal/store"
)

// JournalStore opens per-session journals.
type JournalStore interface {
	OpenJournal(id string) (*store.Journal, error)
}

// Ledger tracks sessions and writes their journals.
type Ledger struct {
	store  JournalStore
	logger *logrus.Logger

	mu       sync.Mutex
	current  *SessionRecord
	last     *SessionRecord
	journal  *store.Journal
	lastShot *float64 // time of the previous shot, survives outside sessions

	persistFailures atomic.Int64
}

// New creates a Ledger. A nil store keeps state in memory only.
func New(st JournalStore, logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	return &Ledger{store: st, logger: logger}
}

// StartSession begins a new live session, closing any journal still open.
func (l *Ledger) StartSession(id uint32) SessionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closeJournal()

	l.current = &SessionRecord{
		Active: true,
		Status: StatusLive,
		Shots:  []Shot{},
		SessID: id,
	}
	l.lastShot = nil

	if l.store != nil {
		j, err := l.store.OpenJournal(strconv.FormatUint(uint64(id), 10))
		if err != nil {
			l.persistFailed(id, err)
		} else {
			l.journal = j
			if err := j.AppendEvent(string(codec.KindSessionStarted)); err != nil {
				l.persistFailed(id, err)
			}
		}
	}

	l.logger.WithField("session_id", id).Info("Session started")
	return *l.current.Clone()
}

// RecordShot computes the split and updates statistics. Shots arriving with
// no live session are still reported, split against the previous shot seen,
// but are not added to any record.
func (l *Ledger) RecordShot(num int, shotTime float64, tsDevice uint32) ShotEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := ShotEntry{Num: num, Time: shotTime}
	if l.lastShot != nil {
		split := shotTime - *l.lastShot
		entry.Split = &split
	}
	l.lastShot = &shotTime

	rec := l.current
	if rec == nil || !rec.Active {
		l.logger.WithField("shot", num).Debug("Shot outside of a live session")
		return entry
	}

	rec.Shots = append(rec.Shots, Shot{Num: num, Time: shotTime})
	rec.TotalTime = shotTime
	if len(rec.Shots) == 1 {
		rec.FirstShot = shotTime
	} else {
		split := shotTime - rec.Shots[len(rec.Shots)-2].Time
		if split > 0 && (rec.BestSplit == 0 || split < rec.BestSplit) {
			rec.BestSplit = split
		}
	}

	if l.journal != nil {
		if err := l.journal.AppendShot(string(codec.KindShotDetected), num, shotTime, entry.Split, tsDevice); err != nil {
			l.persistFailed(rec.SessID, err)
		}
	}
	return entry
}

// StopSession finalizes the live session into the last completed snapshot.
// Calling it without a session only closes a stray journal.
func (l *Ledger) StopSession() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.journal != nil {
		if err := l.journal.AppendEvent(string(codec.KindSessionStopped)); err != nil {
			l.persistFailed(l.current.sessID(), err)
		}
	}
	l.closeJournal()
	l.lastShot = nil

	if l.current == nil {
		return
	}
	l.current.Active = false
	l.current.Status = StatusStopped
	l.last = l.current.Clone()

	l.logger.WithFields(logrus.Fields{
		"session_id": l.current.SessID,
		"shots":      len(l.current.Shots),
	}).Info("Session stopped")
}

// SnapshotForSync returns a copy of the live session, or the last completed
// one, or nil when neither exists.
func (l *Ledger) SnapshotForSync() *SessionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil && l.current.Active {
		return l.current.Clone()
	}
	return l.last.Clone()
}

// Current returns a copy of the current record, active or not.
func (l *Ledger) Current() *SessionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Clone()
}

// ClearLast forgets the last completed snapshot.
func (l *Ledger) ClearLast() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = nil
}

// PersistenceFailures returns how many journal operations have failed.
func (l *Ledger) PersistenceFailures() int64 {
	return l.persistFailures.Load()
}

// Close closes the open journal, if any.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeJournal()
}

func (l *Ledger) closeJournal() {
	if l.journal == nil {
		return
	}
	if err := l.journal.Close(); err != nil {
		l.persistFailed(l.current.sessID(), err)
	}
	l.journal = nil
}

func (l *Ledger) persistFailed(id uint32, err error) {
	l.persistFailures.Add(1)
	l.logger.WithFields(logrus.Fields{
		"session_id": id,
		"error":      err,
	}).Error("Failed to persist session record")
}

func (r *SessionRecord) sessID() uint32 {
	if r == nil {
		return 0
	}
	return r.SessID
}
