package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Transport implements device.Transport on top of go-ble.
// The host adapter is opened lazily on first use and shared by all scans and links.
type Transport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewTransport creates a go-ble backed transport
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	t.dev = dev
	return dev, nil
}

// Scan collects advertisements until timeout expires.
// Results are deduplicated by address and sorted by address; a later
// advertisement with a non-empty local name replaces an earlier empty one.
func (t *Transport) Scan(ctx context.Context, timeout time.Duration) ([]device.Descriptor, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]string)
	handler := func(adv ble.Advertisement) {
		addr := adv.Addr().String()
		name := strings.TrimSpace(adv.LocalName())

		mu.Lock()
		defer mu.Unlock()
		if prev, ok := seen[addr]; !ok || (prev == "" && name != "") {
			seen[addr] = name
		}
	}

	t.logger.WithField("timeout", timeout).Debug("Starting BLE scan...")
	err = dev.Scan(scanCtx, false, handler)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, NormalizeError(err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	mu.Lock()
	defer mu.Unlock()
	result := make([]device.Descriptor, 0, len(seen))
	for addr, name := range seen {
		result = append(result, device.NewDescriptor(addr, name))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})

	t.logger.WithField("devices", len(result)).Debug("BLE scan completed")
	return result, nil
}

// Connect dials the peripheral and discovers its GATT profile.
func (t *Transport) Connect(ctx context.Context, address string) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	t.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	t.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	return newLink(address, client, profile, t.logger), nil
}
