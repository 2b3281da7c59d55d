package main

import (
	"errors"
	"strings"

	"github.com/srg/shotbridge/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the push channel closed while watching.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns err into a one-line message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var reqErr *device.RequestError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Enable it and try again."
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth LE is not supported on this platform."
	case errors.Is(err, device.ErrTimeout):
		return "Timed out waiting for the device."
	case errors.Is(err, ErrConnectionLost):
		return "Connection to the bridge was lost."
	case errors.As(err, &reqErr):
		return reqErr.Msg
	}

	msg := err.Error()
	if msg == "" {
		return "unknown error"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
