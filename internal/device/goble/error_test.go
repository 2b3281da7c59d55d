package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/shotbridge/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	// GOAL: Verify stack error messages are classified as device errors and unknown errors pass through

	unknown := errors.New("att: invalid handle")

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"hci reset mismatch", errors.New("can't init hci: no devices available: (hci0: can't read: have=4 want=5)"), device.ErrBluetoothOff},
		{"adapter off", errors.New("Bluetooth is turned OFF"), device.ErrBluetoothOff},
		{"unsupported adapter", errors.New("can't init hci: operation not supported"), device.ErrUnsupported},
		{"dial deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), device.ErrTimeout},
		{"hci timeout", errors.New("le create connection: connection timed out"), device.ErrTimeout},
		{"read on dropped link", errors.New("device not connected"), device.ErrNotConnected},
		{"remote disconnect", errors.New("central disconnected"), device.ErrNotConnected},
		{"double dial", errors.New("device already connected"), device.ErrAlreadyConnected},
		{"unknown", unknown, unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			assert.ErrorIs(t, got, tt.target, "normalized error MUST match the expected class")
			assert.Contains(t, got.Error(), tt.err.Error(), "original message MUST be preserved")
		})
	}

	assert.NoError(t, NormalizeError(nil))
}
