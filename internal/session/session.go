// Package session drives one timer: its connection lifecycle, the watchdog
// that restores a dropped link, and the worker that turns notifications into
// ledger updates and push messages.
//
// A Session moves Disconnected → Connecting → Connected → Disconnected. Every
// path out of Connecting ends in Connected or Disconnected. Connect,
// Disconnect and watchdog reconnects are serialized. Notifications are
// copied onto a bounded queue by the transport callback and consumed by a
// single worker, so events from one device are handled strictly in order.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/codec"
	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/groutine"
	"github.com/srg/shotbridge/internal/ledger"
	"github.com/srg/shotbridge/internal/message"
	"github.com/srg/shotbridge/internal/ringchan"
)

// State is the connection state of a Session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// API version placeholders.
const (
	APIVersionNotRead     = "?"
	APIVersionUnknown     = "Unknown"
	APIVersionUnavailable = "Unavailable"
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("session closed")

// Publisher delivers push messages. *hub.Hub implements it.
type Publisher interface {
	Publish(msg message.Message)
	Commit(fn func() (message.Message, bool))
}

// Ledger receives session events. *ledger.Ledger implements it.
type Ledger interface {
	StartSession(id uint32) ledger.SessionRecord
	RecordShot(num int, shotTime float64, tsDevice uint32) ledger.ShotEntry
	StopSession()
}

// Status is a point-in-time view of a Session.
type Status struct {
	Address         string       `json:"address"`
	Name            string       `json:"name"`
	Model           device.Model `json:"model"`
	APIVersion      string       `json:"api_version"`
	Connected       bool         `json:"connected"`
	State           State        `json:"state"`
	WatchdogRunning bool         `json:"watchdog"`
	SessionID       *uint32      `json:"session_id"`
	LastShotMs      *uint32      `json:"last_shot_ms"`
}

// Session owns the connection to one timer.
type Session struct {
	address   string
	transport device.Transport
	hub       Publisher
	ledger    Ledger
	decoder   codec.Decoder
	opts      Options
	logger    *logrus.Logger

	// opMu serializes connect, disconnect and watchdog reconnects.
	opMu sync.Mutex

	// mu guards the fields below.
	mu         sync.RWMutex
	name       string
	state      State
	apiVersion string
	link       device.Link
	sessionID  *uint32
	lastShotMs *uint32
	wdCancel   context.CancelFunc
	wdDone     <-chan struct{}
	closed     bool

	queue      *ringchan.RingChannel[[]byte]
	workerDone <-chan struct{}
	dropped    atomic.Int64
}

// New creates a Session in the Disconnected state and starts its worker.
// An empty name defaults to the address.
func New(address, name string, transport device.Transport, hub Publisher, ldg Ledger, opts Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if name == "" {
		name = address
	}
	opts = opts.withDefaults()

	s := &Session{
		address:    address,
		transport:  transport,
		hub:        hub,
		ledger:     ldg,
		opts:       opts,
		logger:     logger,
		name:       name,
		state:      StateDisconnected,
		apiVersion: APIVersionNotRead,
		queue:      ringchan.New[[]byte](opts.QueueSize),
	}
	s.workerDone = groutine.Go(context.Background(), "device-worker:"+address, s.run)
	return s
}

// SetDecoder replaces the payload decoder; used to pin the clock.
func (s *Session) SetDecoder(d codec.Decoder) {
	s.decoder = d
}

// Address returns the device address.
func (s *Session) Address() string {
	return s.address
}

// Name returns the cached advertised name.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetName updates the cached name; empty names are ignored.
func (s *Session) SetName(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// State returns the connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dropped returns how many notifications were discarded because the queue was full.
func (s *Session) Dropped() int64 {
	return s.dropped.Load()
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Address:         s.address,
		Name:            s.name,
		Model:           device.ParseModel(s.name),
		APIVersion:      s.apiVersion,
		State:           s.state,
		Connected:       s.state == StateConnected && s.link != nil && s.link.IsConnected(),
		WatchdogRunning: s.watchdogRunningLocked(),
	}
	if s.sessionID != nil {
		id := *s.sessionID
		st.SessionID = &id
	}
	if s.lastShotMs != nil {
		ms := *s.lastShotMs
		st.LastShotMs = &ms
	}
	return st
}

// Connect opens the link, reads the API version, subscribes to events and
// starts the watchdog. It is a no-op while the link is up. On failure the
// session is Disconnected, an ERROR message is published and no watchdog is
// started.
func (s *Session) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	closed := s.closed
	up := s.state == StateConnected && s.link != nil && s.link.IsConnected()
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if up {
		return nil
	}

	if err := s.establish(ctx); err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"error":   err,
		}).Error("Connect failed")
		s.hub.Publish(message.Error{Message: "connect failed: " + err.Error()})
		return err
	}

	s.startWatchdog()
	return nil
}

// Disconnect stops the watchdog, closes the link and publishes
// DEVICE_DISCONNECTED. Transport errors are logged and swallowed.
func (s *Session) Disconnect() {
	// The watchdog takes opMu, so wait for it before locking.
	s.stopWatchdog(true)

	s.opMu.Lock()
	defer s.opMu.Unlock()

	// A Connect may have started a new watchdog in between.
	s.stopWatchdog(false)

	s.teardown()
	s.setState(StateDisconnected)

	s.logger.WithField("address", s.address).Info("Device disconnected")
	s.hub.Publish(message.DeviceDisconnected{DeviceInfo: s.info()})
}

// Close disconnects if needed, drains pending notifications and stops the worker.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	busy := s.state != StateDisconnected || s.link != nil || s.watchdogRunningLocked()
	s.mu.Unlock()

	if busy {
		s.Disconnect()
	}
	s.queue.Close()
	<-s.workerDone

	m := s.queue.GetMetrics()
	fields := logrus.Fields{
		"address":   s.address,
		"capacity":  s.queue.Cap(),
		"received":  m.Written,
		"processed": m.Processed,
		"dropped":   s.Dropped(),
	}
	if s.Dropped() > 0 {
		s.logger.WithFields(fields).Warn("Device session closed with dropped notifications")
		return
	}
	s.logger.WithFields(fields).Debug("Device session closed")
}

// establish runs one connection attempt. Caller holds opMu.
func (s *Session) establish(ctx context.Context) error {
	s.teardown()
	s.setState(StateConnecting)

	log := s.logger.WithField("address", s.address)
	log.Info("Connecting to device...")

	connCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	link, err := s.transport.Connect(connCtx, s.address)
	cancel()
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	if s.opts.VersionReadDelay > 0 {
		timer := time.NewTimer(s.opts.VersionReadDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			_ = link.Disconnect()
			s.setState(StateDisconnected)
			return ctx.Err()
		}
	}
	version := s.readAPIVersion(ctx, link)

	s.mu.Lock()
	s.link = link
	s.apiVersion = version
	s.state = StateConnected
	s.mu.Unlock()

	info := s.info()
	log.WithFields(logrus.Fields{
		"name":        info.Name,
		"model":       info.Model,
		"api_version": info.APIVersion,
	}).Info("Device connected")
	s.emit(ctx, message.DeviceConnected{DeviceInfo: info})

	if err := link.Subscribe(s.opts.EventUUID, s.enqueue); err != nil {
		s.teardown()
		s.setState(StateDisconnected)
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	return nil
}

// readAPIVersion keeps printable ASCII only. An empty value reads as
// "Unknown" and a failed read as "Unavailable".
func (s *Session) readAPIVersion(ctx context.Context, link device.Link) string {
	readCtx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
	defer cancel()

	data, err := link.Read(readCtx, s.opts.APIVersionUUID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"error":   err,
		}).Warn("Could not read API version")
		return APIVersionUnavailable
	}

	var b strings.Builder
	for _, c := range data {
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		}
	}
	if v := strings.TrimSpace(b.String()); v != "" {
		return v
	}
	return APIVersionUnknown
}

// teardown unsubscribes and closes the current link, if any. Caller holds opMu.
func (s *Session) teardown() {
	s.mu.Lock()
	link := s.link
	s.link = nil
	s.mu.Unlock()

	if link == nil {
		return
	}
	if err := link.Unsubscribe(s.opts.EventUUID); err != nil {
		s.logger.WithField("error", err).Debug("Unsubscribe failed during teardown")
	}
	if err := link.Disconnect(); err != nil {
		s.logger.WithField("error", err).Debug("Link close failed during teardown")
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) info() message.DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return message.DeviceInfo{
		Addr:       s.address,
		Name:       s.name,
		Model:      device.ParseModel(s.name),
		APIVersion: s.apiVersion,
	}
}

// emit publishes msg unless ctx is already done.
func (s *Session) emit(ctx context.Context, msg message.Message) {
	if ctx.Err() != nil {
		return
	}
	s.hub.Publish(msg)
}
