package store

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
)

// Header is the first row of every session record.
var Header = []string{"event", "shot_num", "shot_time", "split", "ts_device"}

// Journal is an append-only record of one session. Every row is flushed to
// the file as soon as it is written.
type Journal struct {
	store *Store
	id    string
	path  string

	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	closed bool
}

// ID returns the session id the journal belongs to.
func (j *Journal) ID() string {
	return j.id
}

// Path returns the file backing the journal.
func (j *Journal) Path() string {
	return j.path
}

// AppendEvent writes a row carrying only the event name.
func (j *Journal) AppendEvent(event string) error {
	return j.write("append", []string{event, "", "", "", ""})
}

// AppendShot writes a shot row. Times are formatted with three decimals and
// a nil split is written as an empty field.
func (j *Journal) AppendShot(event string, num int, shotTime float64, split *float64, tsDevice uint32) error {
	splitField := ""
	if split != nil {
		splitField = formatSeconds(*split)
	}
	return j.write("append", []string{
		event,
		strconv.Itoa(num),
		formatSeconds(shotTime),
		splitField,
		strconv.FormatUint(uint64(tsDevice), 10),
	})
}

func (j *Journal) write(op string, row []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return &PersistenceError{SessionID: j.id, Op: op, Err: os.ErrClosed}
	}
	if err := j.w.Write(row); err != nil {
		return &PersistenceError{SessionID: j.id, Op: op, Err: err}
	}
	j.w.Flush()
	if err := j.w.Error(); err != nil {
		return &PersistenceError{SessionID: j.id, Op: op, Err: err}
	}
	return nil
}

// Close flushes and closes the file. Calling Close twice is harmless.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	j.store.release(j.path)

	j.w.Flush()
	flushErr := j.w.Error()
	closeErr := j.f.Close()
	if flushErr != nil {
		return &PersistenceError{SessionID: j.id, Op: "close", Err: flushErr}
	}
	if closeErr != nil {
		return &PersistenceError{SessionID: j.id, Op: "close", Err: closeErr}
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
