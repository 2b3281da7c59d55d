package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/shotbridge/internal/device"
)

// errorRule maps a fragment of a go-ble or HCI error message to a device error.
type errorRule struct {
	fragment string
	target   error
}

// Order matters: "not connected" must be tried before the bare "disconnected".
var errorRules = []errorRule{
	{"have=4 want=5", device.ErrBluetoothOff},
	{"bluetooth is turned off", device.ErrBluetoothOff},
	{"powered off", device.ErrBluetoothOff},
	{"operation not supported", device.ErrUnsupported},
	{"no such device", device.ErrUnsupported},
	{"connection timed out", device.ErrTimeout},
	{"timeout", device.ErrTimeout},
	{"device not connected", device.ErrNotConnected},
	{"disconnected", device.ErrNotConnected},
	{"device already connected", device.ErrAlreadyConnected},
	{"connection is not initialized", device.ErrNotInitialized},
}

// NormalizeError rewraps stack errors as device errors so the registry and
// CLI can classify timer failures without knowing go-ble messages.
// The original error stays in the message.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", device.ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		if strings.Contains(msg, rule.fragment) {
			return fmt.Errorf("%w: %w", rule.target, err)
		}
	}
	return err
}
