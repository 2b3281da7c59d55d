package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/groutine"
	"github.com/srg/shotbridge/internal/message"
)

// startWatchdog launches the watchdog unless one is running. Caller holds opMu.
func (s *Session) startWatchdog() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watchdogRunningLocked() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.wdCancel = cancel
	s.wdDone = groutine.Go(ctx, "watchdog:"+s.address, s.watchdog)
}

// stopWatchdog cancels the watchdog and optionally waits for it to exit.
func (s *Session) stopWatchdog(wait bool) {
	s.mu.Lock()
	cancel, done := s.wdCancel, s.wdDone
	s.wdCancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if wait {
		<-done
	}
}

// watchdogRunningLocked reports a watchdog that is neither cancelled nor finished.
func (s *Session) watchdogRunningLocked() bool {
	if s.wdCancel == nil || s.wdDone == nil {
		return false
	}
	select {
	case <-s.wdDone:
		return false
	default:
		return true
	}
}

// watchdog polls the link every interval until ctx is cancelled.
func (s *Session) watchdog(ctx context.Context) {
	log := s.logger.WithField("address", s.address)
	log.WithField("interval", s.opts.WatchdogInterval).Debug("Watchdog started")
	defer log.Debug("Watchdog stopped")

	ticker := time.NewTicker(s.opts.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.check(ctx)
	}
}

// check reconnects a dropped link. Nothing is published once ctx is cancelled.
func (s *Session) check(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	s.mu.RLock()
	link := s.link
	s.mu.RUnlock()
	if link != nil && link.IsConnected() {
		return
	}

	log := s.logger.WithField("address", s.address)
	log.Warn("Link lost, reconnecting")
	s.setState(StateDisconnected)

	info := s.info()
	s.emit(ctx, message.Watchdog{
		Status:     message.WatchdogDisconnected,
		Addr:       info.Addr,
		Name:       info.Name,
		Model:      info.Model,
		APIVersion: info.APIVersion,
	})

	err := s.establish(ctx)
	if ctx.Err() != nil {
		// Disconnect is waiting for us; leave nothing behind.
		if err == nil {
			s.teardown()
			s.setState(StateDisconnected)
		}
		return
	}
	if err != nil {
		log.WithField("error", err).Warn("Reconnect failed")
		s.hub.Publish(message.Watchdog{
			Status: message.RetryFailedPrefix + err.Error(),
			Addr:   info.Addr,
			Name:   info.Name,
		})
		return
	}

	info = s.info()
	log.WithFields(logrus.Fields{
		"api_version": info.APIVersion,
	}).Info("Reconnected")
	s.hub.Publish(message.Watchdog{
		Status:     message.WatchdogReconnected,
		Addr:       info.Addr,
		Name:       info.Name,
		Model:      info.Model,
		APIVersion: info.APIVersion,
	})
}
