//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/blehttp/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(opts ...ble.Option) (ble.Device, error) {
	return nil, fmt.Errorf("%w: no BLE stack for %s", device.ErrUnsupported, runtime.GOOS)
}

var peripheralOptions []ble.Option

func writeLimit(txMTU int) int {
	return txMTU - 3
}
