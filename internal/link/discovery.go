package link

import (
	"fmt"

	"github.com/go-ble/ble"
)

// DiscoveryWindow is the number of handles covered by each follow-up
// characteristic discovery request.
const DiscoveryWindow = 11

// Discovery resolves the HandleSet from service and characteristic discovery
// responses. It keeps no transport state of its own beyond the last window.
type Discovery struct {
	control ble.UUID
	window  HandleRange
}

// NewDiscovery returns a Discovery that looks for the control characteristic
// matching the transfer's security mode.
func NewDiscovery(secure bool) *Discovery {
	return &Discovery{control: ControlUUID(secure)}
}

// Begin returns the initial service discovery request.
func (d *Discovery) Begin() DiscoverServices {
	d.window = HandleRange{}
	return DiscoverServices{UUID: ServiceUUID}
}

// OnServices handles the service discovery response. There is only one gateway
// service per peer, so the first range is used.
func (d *Discovery) OnServices(ev ServicesFound) (DiscoverChars, error) {
	if ev.Status != ble.ErrSuccess {
		return DiscoverChars{}, &TransferError{Kind: DiscoveryFailed, Op: "discover services", Status: ev.Status}
	}
	if len(ev.Ranges) == 0 {
		return DiscoverChars{}, &TransferError{Kind: DiscoveryFailed, Op: "discover services", Msg: "service not found"}
	}
	d.window = ev.Ranges[0]
	return DiscoverChars{Range: d.window}, nil
}

// OnChars records matching characteristics into h. When h is still incomplete
// it returns the follow-up request covering the handles past the last entry.
func (d *Discovery) OnChars(ev CharsFound, h *HandleSet) (next *DiscoverChars, err error) {
	if ev.Status != ble.ErrSuccess {
		return nil, &TransferError{Kind: DiscoveryFailed, Op: "discover characteristics", Status: ev.Status}
	}

	var last uint16
	for _, c := range ev.Chars {
		switch {
		case c.UUID.Equal(d.control):
			h.Control = c.ValueHandle
		case c.UUID.Equal(BodyUUID):
			h.SetBody(c.ValueHandle)
		}
		if c.ValueHandle > last {
			last = c.ValueHandle
		}
	}

	if h.Resolved() {
		return nil, nil
	}

	// No entries, no forward progress, or nothing left past the last handle.
	if len(ev.Chars) == 0 || last < d.window.Start || last == 0xFFFF {
		return nil, &TransferError{
			Kind: DiscoveryFailed,
			Op:   "discover characteristics",
			Msg:  fmt.Sprintf("handle space exhausted at 0x%04x (%s)", last, h),
		}
	}

	end := uint32(last) + DiscoveryWindow
	if end > 0xFFFF {
		end = 0xFFFF
	}
	d.window = HandleRange{Start: last + 1, End: uint16(end)}
	return &DiscoverChars{Range: d.window}, nil
}
