package link

import "fmt"

// NotifyConfigOffset is the distance between the body characteristic's value
// handle and its notification-config descriptor (CCCD).
//
// This is a platform convention of the gateway's attribute layout, not a
// discovered value. If the gateway ever inserts a descriptor ahead of the CCCD
// the derived handle will be wrong.
const NotifyConfigOffset = 1

// HandleSet holds the remote attribute handles a transfer needs.
// Zero means unresolved.
type HandleSet struct {
	Control      uint16
	Body         uint16
	NotifyConfig uint16
}

// SetBody records the body value handle and derives the notification-config handle.
func (h *HandleSet) SetBody(valueHandle uint16) {
	h.Body = valueHandle
	h.NotifyConfig = valueHandle + NotifyConfigOffset
}

// Resolved reports whether every handle is known.
func (h HandleSet) Resolved() bool {
	return h.Control != 0 && h.Body != 0 && h.NotifyConfig != 0
}

// Reset returns all handles to the unresolved sentinel.
func (h *HandleSet) Reset() {
	*h = HandleSet{}
}

func (h HandleSet) String() string {
	return fmt.Sprintf("control=0x%04x body=0x%04x cccd=0x%04x", h.Control, h.Body, h.NotifyConfig)
}
