// Package codec decodes shot-timer notification payloads into typed events.
//
// Payloads are big-endian with a fixed layout:
//
//	offset  field
//	0       reserved
//	1       event type (0x00..0x05)
//	2-5     session id, SESSION_STARTED only (0 means "use wall clock")
//	6-7     zero-based shot index, SHOT_DETECTED only
//	8-11    shot time in milliseconds, SHOT_DETECTED only
//
// Timers also emit a compact 6-byte SHOT_DETECTED form with the index at
// bytes 2-3 and a 16-bit millisecond time at bytes 4-5. Decoding never fails:
// unknown discriminants become Unknown and payloads without a discriminant
// are dropped.
package codec

import (
	"encoding/binary"
	"time"
)

// Kind is the wire name of an event.
type Kind string

const (
	KindSessionStarted   Kind = "SESSION_STARTED"
	KindSessionSuspended Kind = "SESSION_SUSPENDED"
	KindSessionResumed   Kind = "SESSION_RESUMED"
	KindSessionStopped   Kind = "SESSION_STOPPED"
	KindShotDetected     Kind = "SHOT_DETECTED"
	KindSessionSetBegin  Kind = "SESSION_SET_BEGIN"
	KindUnknown          Kind = "UNKNOWN"
)

// Event type discriminants (byte 1).
const (
	TypeSessionStarted   byte = 0x00
	TypeSessionSuspended byte = 0x01
	TypeSessionResumed   byte = 0x02
	TypeSessionStopped   byte = 0x03
	TypeShotDetected     byte = 0x04
	TypeSessionSetBegin  byte = 0x05
)

// fullShotLen is the payload length that carries the full SHOT_DETECTED layout.
const fullShotLen = 12

// compactShotLen is the shortest payload that carries a complete compact shot.
const compactShotLen = 6

// Event is a decoded notification.
type Event interface {
	Kind() Kind
}

// SessionStarted opens a new session.
type SessionStarted struct {
	SessionID uint32
}

// SessionSuspended pauses the running session.
type SessionSuspended struct{}

// SessionResumed resumes a suspended session.
type SessionResumed struct{}

// SessionStopped closes the running session.
type SessionStopped struct{}

// ShotDetected reports one shot. ShotNumber is 1-based.
type ShotDetected struct {
	ShotNumber int
	ShotTimeMs uint32
}

// Seconds returns the shot time in seconds.
func (s ShotDetected) Seconds() float64 {
	return float64(s.ShotTimeMs) / 1000
}

// SessionSetBegin marks the start of a string within a session.
type SessionSetBegin struct{}

// Unknown carries a discriminant outside the known table.
type Unknown struct {
	RawType byte
}

func (SessionStarted) Kind() Kind   { return KindSessionStarted }
func (SessionSuspended) Kind() Kind { return KindSessionSuspended }
func (SessionResumed) Kind() Kind   { return KindSessionResumed }
func (SessionStopped) Kind() Kind   { return KindSessionStopped }
func (ShotDetected) Kind() Kind     { return KindShotDetected }
func (SessionSetBegin) Kind() Kind  { return KindSessionSetBegin }
func (Unknown) Kind() Kind          { return KindUnknown }

// Decoder turns payloads into events. The zero value uses time.Now.
type Decoder struct {
	// Now supplies the wall clock used when a timer reports session id 0.
	Now func() time.Time
}

// Decode uses a zero Decoder.
func Decode(data []byte) (Event, bool) {
	return Decoder{}.Decode(data)
}

// Decode returns the event carried by data. ok is false when the payload has
// no event type byte and must be dropped.
func (d Decoder) Decode(data []byte) (Event, bool) {
	if len(data) < 2 {
		return nil, false
	}

	switch data[1] {
	case TypeSessionStarted:
		id := uint32At(data, 2)
		if id == 0 {
			id = uint32(d.now().Unix())
		}
		return SessionStarted{SessionID: id}, true
	case TypeSessionSuspended:
		return SessionSuspended{}, true
	case TypeSessionResumed:
		return SessionResumed{}, true
	case TypeSessionStopped:
		return SessionStopped{}, true
	case TypeShotDetected:
		return decodeShot(data), true
	case TypeSessionSetBegin:
		return SessionSetBegin{}, true
	default:
		return Unknown{RawType: data[1]}, true
	}
}

func (d Decoder) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func decodeShot(data []byte) ShotDetected {
	if len(data) >= compactShotLen && len(data) < fullShotLen {
		return ShotDetected{
			ShotNumber: int(uint16At(data, 2)) + 1,
			ShotTimeMs: uint32(uint16At(data, 4)),
		}
	}
	return ShotDetected{
		ShotNumber: int(uint16At(data, 6)) + 1,
		ShotTimeMs: uint32At(data, 8),
	}
}

// uint16At reads a big-endian u16; bytes past the end read as zero.
func uint16At(data []byte, off int) uint16 {
	var buf [2]byte
	if off < len(data) {
		copy(buf[:], data[off:])
	}
	return binary.BigEndian.Uint16(buf[:])
}

// uint32At reads a big-endian u32; bytes past the end read as zero.
func uint32At(data []byte, off int) uint32 {
	var buf [4]byte
	if off < len(data) {
		copy(buf[:], data[off:])
	}
	return binary.BigEndian.Uint32(buf[:])
}
