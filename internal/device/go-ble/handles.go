package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blehttp/internal/link"
)

// handleTable maps attribute handles to discovered characteristics.
//
// Some stacks (CoreBluetooth) hide attribute handles. Characteristics that come
// back without one get a synthetic declaration and value handle, with a free
// slot after each value for its notification config descriptor.
type handleTable struct {
	byValue map[uint16]*ble.Characteristic
	next    uint16
}

func newHandleTable() *handleTable {
	return &handleTable{byValue: make(map[uint16]*ble.Characteristic)}
}

func (t *handleTable) add(chars []*ble.Characteristic) []link.CharEntry {
	entries := make([]link.CharEntry, 0, len(chars))
	for _, c := range chars {
		if c.ValueHandle == 0 {
			c.Handle = t.next + 1
			c.ValueHandle = t.next + 2
			t.next += 2 + link.NotifyConfigOffset
		}
		t.byValue[c.ValueHandle] = c
		entries = append(entries, link.CharEntry{
			UUID:        c.UUID,
			Handle:      c.Handle,
			ValueHandle: c.ValueHandle,
		})
	}
	return entries
}

// char returns the characteristic whose value lives at handle.
func (t *handleTable) char(handle uint16) *ble.Characteristic {
	return t.byValue[handle]
}

// notifyOwner returns the characteristic whose notification config descriptor
// lives at handle.
func (t *handleTable) notifyOwner(handle uint16) *ble.Characteristic {
	if handle < link.NotifyConfigOffset {
		return nil
	}
	return t.byValue[handle-link.NotifyConfigOffset]
}
