package main

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/device/goble"
)

// newTransport creates the BLE transport (can be overridden in tests)
var newTransport = func(logger *logrus.Logger) device.Transport {
	return goble.NewTransport(logger)
}
