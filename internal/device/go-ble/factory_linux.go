//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(opts ...ble.Option) (ble.Device, error) {
	return linux.NewDevice(opts...)
}

var peripheralOptions []ble.Option

// writeLimit is the longest value one write request carries at txMTU.
func writeLimit(txMTU int) int {
	return txMTU - 3
}
