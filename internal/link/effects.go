package link

import "github.com/go-ble/ble"

// Effect is an operation the Session asks the transport (or its caller) to perform.
// Effects are fire-and-forget; their outcome comes back as an Event.
type Effect interface {
	isEffect()
}

// WriteOp selects the ATT write procedure.
type WriteOp uint8

const (
	// WriteRequest is a plain acknowledged write.
	WriteRequest WriteOp = iota
	// WritePrepare queues a fragment at Offset on the remote.
	WritePrepare
	// WriteExecute commits (or cancels) every queued fragment.
	WriteExecute
)

func (op WriteOp) String() string {
	switch op {
	case WriteRequest:
		return "write"
	case WritePrepare:
		return "prepare"
	case WriteExecute:
		return "execute"
	default:
		return "unknown"
	}
}

// Execute write flags.
const (
	ExecuteCancel byte = 0x00
	ExecuteCommit byte = 0x01
)

// DiscoverServices asks for the handle range of the service with UUID.
type DiscoverServices struct {
	UUID ble.UUID
}

// DiscoverChars asks for the characteristics declared inside Range.
type DiscoverChars struct {
	Range HandleRange
}

// Write writes Data to Handle. Flags is only meaningful for WriteExecute.
type Write struct {
	Handle uint16
	Op     WriteOp
	Offset int
	Data   []byte
	Flags  byte
}

// Read reads Handle starting at Offset.
type Read struct {
	Handle uint16
	Offset int
}

// Connect dials Peer.
type Connect struct {
	Peer string
}

// Disconnect tears the current link down.
type Disconnect struct{}

// Advertise starts advertising UUID so a gateway can find the node.
type Advertise struct {
	UUID ble.UUID
}

// Scan starts scanning for gateways advertising UUID.
type Scan struct {
	UUID ble.UUID
}

// Deliver hands the completed response body to the caller.
type Deliver struct {
	TransferID string
	Body       []byte
}

// Fail reports a transfer failure to the caller.
type Fail struct {
	TransferID string
	Err        error
}

func (DiscoverServices) isEffect() {}
func (DiscoverChars) isEffect()    {}
func (Write) isEffect()            {}
func (Read) isEffect()             {}
func (Connect) isEffect()          {}
func (Disconnect) isEffect()       {}
func (Advertise) isEffect()        {}
func (Scan) isEffect()             {}
func (Deliver) isEffect()          {}
func (Fail) isEffect()             {}
