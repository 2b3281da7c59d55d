package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/groutine"
)

// Link is a live connection to one peripheral.
type Link struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	// characteristics keyed by normalized UUID
	chars map[string]*ble.Characteristic

	connected atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
}

func newLink(address string, client ble.Client, profile *ble.Profile, logger *logrus.Logger) *Link {
	l := &Link{
		address: address,
		client:  client,
		logger:  logger,
		chars:   make(map[string]*ble.Characteristic),
		closed:  make(chan struct{}),
	}

	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			l.chars[device.NormalizeUUID(c.UUID.String())] = c
		}
	}
	l.connected.Store(true)

	// Not every backend exposes the disconnect notification channel.
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(context.Context) {
			select {
			case <-dc.Disconnected():
				l.connected.Store(false)
				l.logger.WithField("address", address).Warn("BLE link reported disconnection")
			case <-l.closed:
			}
		})
	} else {
		l.logger.Debug("Client does not support Disconnected() channel")
	}

	l.logger.WithFields(logrus.Fields{
		"address":         address,
		"characteristics": len(l.chars),
	}).Info("BLE device connected successfully")
	return l
}

func (l *Link) characteristic(charUUID string) (*ble.Characteristic, error) {
	c, ok := l.chars[device.NormalizeUUID(charUUID)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{charUUID}}
	}
	return c, nil
}

// Read returns the characteristic value. go-ble reads are not cancellable,
// so the read runs in the background and ctx only bounds the wait.
func (l *Link) Read(ctx context.Context, charUUID string) ([]byte, error) {
	if !l.connected.Load() {
		return nil, device.ErrNotConnected
	}
	c, err := l.characteristic(charUUID)
	if err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	groutine.Go(ctx, "ble-read", func(context.Context) {
		data, err := l.client.ReadCharacteristic(c)
		done <- result{data: data, err: err}
	})

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to read characteristic %s: %w", charUUID, NormalizeError(r.err))
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("read characteristic %s: %w", charUUID, device.ErrTimeout)
	}
}

// Subscribe enables notifications on the characteristic.
func (l *Link) Subscribe(charUUID string, handler device.NotificationHandler) error {
	if !l.connected.Load() {
		return device.ErrNotConnected
	}
	c, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}
	if err := l.client.Subscribe(c, false, func(data []byte) { handler(data) }); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", charUUID, NormalizeError(err))
	}
	l.logger.WithFields(logrus.Fields{
		"address":   l.address,
		"char_uuid": charUUID,
	}).Debug("Subscribed to characteristic notifications")
	return nil
}

// Unsubscribe disables notifications on the characteristic.
func (l *Link) Unsubscribe(charUUID string) error {
	c, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}
	return NormalizeError(l.client.Unsubscribe(c, false))
}

// IsConnected reports the link state as last seen by the monitor.
func (l *Link) IsConnected() bool {
	return l.connected.Load()
}

// Disconnect cancels the connection. Only the first call reaches the stack.
func (l *Link) Disconnect() error {
	var err error
	l.closeOnce.Do(func() {
		l.connected.Store(false)
		close(l.closed)
		err = NormalizeError(l.client.CancelConnection())
		if err != nil {
			l.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		} else {
			l.logger.WithField("address", l.address).Info("BLE device disconnected successfully")
		}
	})
	return err
}
