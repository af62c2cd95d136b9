//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(opts ...ble.Option) (ble.Device, error) {
	return darwin.NewDevice(opts...)
}

// CoreBluetooth runs the peripheral manager only when asked to.
var peripheralOptions = []ble.Option{ble.OptPeripheralRole()}

// writeLimit is the longest value one write request carries. CoreBluetooth
// splits longer values into a queued write on its own, up to the attribute
// maximum.
func writeLimit(int) int {
	return ble.MaxMTU - 3
}
