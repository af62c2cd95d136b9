package link

import "github.com/go-ble/ble"

// Event is something the transport reports to a Session.
type Event interface {
	isEvent()
}

// HandleRange is an inclusive attribute handle range.
type HandleRange struct {
	Start uint16
	End   uint16
}

// CharEntry is one characteristic declaration returned by discovery.
type CharEntry struct {
	UUID        ble.UUID
	Handle      uint16 // declaration handle
	ValueHandle uint16
}

// Connected reports an established link.
type Connected struct {
	ConnID uint16
	Peer   string
}

// Disconnected reports that the link is gone, solicited or not.
type Disconnected struct {
	Reason string
}

// ServicesFound carries the primary service discovery response.
type ServicesFound struct {
	Status ble.ATTError
	Ranges []HandleRange
}

// CharsFound carries one page of characteristic discovery results.
type CharsFound struct {
	Status ble.ATTError
	Chars  []CharEntry
}

// WriteAck acknowledges the last issued write.
type WriteAck struct {
	Status ble.ATTError
}

// Notified reports a notification received on Handle.
type Notified struct {
	Handle uint16
}

// ReadResp carries one page of a read at Offset.
type ReadResp struct {
	Status ble.ATTError
	Offset int
	Data   []byte
}

// AdvReport is an advertisement seen while scanning. Data holds raw AD structures.
type AdvReport struct {
	Peer string
	Data []byte
}

func (Connected) isEvent()     {}
func (Disconnected) isEvent()  {}
func (ServicesFound) isEvent() {}
func (CharsFound) isEvent()    {}
func (WriteAck) isEvent()      {}
func (Notified) isEvent()      {}
func (ReadResp) isEvent()      {}
func (AdvReport) isEvent()     {}
