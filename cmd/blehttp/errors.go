package main

import (
	"errors"
	"fmt"

	"github.com/srg/blehttp/internal/device"
	goble "github.com/srg/blehttp/internal/device/go-ble"
	"github.com/srg/blehttp/internal/dispatch"
	"github.com/srg/blehttp/internal/envelope"
	"github.com/srg/blehttp/internal/link"
)

// Command-level errors
var (
	// ErrEmptyRequest indicates no request bytes were supplied.
	ErrEmptyRequest = errors.New("empty request")
)

// FormatUserError turns err into a one-line message for the terminal.
func FormatUserError(err error) string {
	var notFound *device.NotFoundError
	var terr *link.TransferError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off"
	case errors.As(err, &notFound):
		return fmt.Sprintf("%s; is the gateway powered on and in range?", notFound.Error())
	case errors.Is(err, link.ErrBusy):
		return "another transfer is in progress, try again later"
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("transfer timed out (%v)", err)
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("not supported on this platform: %v", err)
	case errors.Is(err, envelope.ErrTooLarge):
		return fmt.Sprintf("request too large (max %d bytes)", envelope.MaxPayload)
	case errors.Is(err, goble.ErrRequestTooLong):
		return fmt.Sprintf("%v; shorten the request or use an adapter with a larger MTU", err)
	case errors.Is(err, dispatch.ErrTransferFailed):
		return err.Error()
	case errors.As(err, &terr):
		return fmt.Sprintf("transfer failed: %v", terr)
	default:
		return err.Error()
	}
}
