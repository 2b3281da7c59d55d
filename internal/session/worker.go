package session

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/codec"
	"github.com/srg/shotbridge/internal/message"
)

// enqueue is the notification handler. It copies data and never blocks.
func (s *Session) enqueue(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	if err := s.queue.TrySend(buf); err != nil {
		s.dropped.Add(1)
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"error":   err,
		}).Warn("Notification dropped")
	}
}

// run consumes the queue until it is closed.
func (s *Session) run(ctx context.Context) {
	for {
		data, ok := s.queue.Receive(ctx)
		if !ok {
			return
		}
		s.handle(data)
	}
}

func (s *Session) handle(data []byte) {
	ev, ok := s.decoder.Decode(data)
	if !ok {
		s.logger.WithField("address", s.address).Debug("Empty notification dropped")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"address": s.address,
		"event":   ev.Kind(),
	}).Debug("Notification decoded")

	s.hub.Commit(func() (message.Message, bool) {
		return s.route(ev), true
	})
}

// route applies ev to the ledger and returns the message announcing it.
func (s *Session) route(ev codec.Event) message.Message {
	switch e := ev.(type) {
	case codec.SessionStarted:
		s.ledger.StartSession(e.SessionID)
		s.mu.Lock()
		id := e.SessionID
		s.sessionID = &id
		s.lastShotMs = nil
		s.mu.Unlock()
		return message.SessionStarted{Addr: s.address, SessID: e.SessionID}

	case codec.ShotDetected:
		entry := s.ledger.RecordShot(e.ShotNumber, e.Seconds(), e.ShotTimeMs)
		s.mu.Lock()
		ms := e.ShotTimeMs
		s.lastShotMs = &ms
		s.mu.Unlock()
		return message.ShotDetected{Addr: s.address, Num: entry.Num, Time: entry.Time, Split: entry.Split}

	case codec.SessionStopped:
		s.ledger.StopSession()
		s.mu.Lock()
		s.sessionID = nil
		s.lastShotMs = nil
		s.mu.Unlock()
		return message.SessionStopped{Addr: s.address}

	case codec.SessionSuspended:
		return message.SessionSuspended{Addr: s.address}
	case codec.SessionResumed:
		return message.SessionResumed{Addr: s.address}
	case codec.SessionSetBegin:
		return message.SessionSetBegin{Addr: s.address}
	default:
		return message.Unknown{Addr: s.address}
	}
}
