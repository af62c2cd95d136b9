package gateway

import (
	"github.com/go-ble/ble"
	"github.com/srg/blehttp/internal/link"
)

// Attribute handles of the gateway service as laid out by Profile. The body
// CCCD directly follows the body value, which is what nodes rely on.
const (
	ServiceHandle       uint16 = 0x0020
	PlainControlDecl    uint16 = 0x0021
	PlainControlHandle  uint16 = 0x0022
	SecureControlDecl   uint16 = 0x0023
	SecureControlHandle uint16 = 0x0024
	BodyDecl            uint16 = 0x0025
	BodyHandle          uint16 = 0x0026
	BodyCCCDHandle      uint16 = BodyHandle + link.NotifyConfigOffset
	ServiceEndHandle    uint16 = BodyCCCDHandle
)

// Attribute is one characteristic of the gateway profile.
type Attribute struct {
	UUID        ble.UUID
	Decl        uint16
	ValueHandle uint16
}

// Profile lists the gateway characteristics in handle order.
var Profile = []Attribute{
	{UUID: link.PlainControlUUID, Decl: PlainControlDecl, ValueHandle: PlainControlHandle},
	{UUID: link.SecureControlUUID, Decl: SecureControlDecl, ValueHandle: SecureControlHandle},
	{UUID: link.BodyUUID, Decl: BodyDecl, ValueHandle: BodyHandle},
}

// IsControl reports whether handle is a control characteristic and whether
// requests written there run over TLS.
func IsControl(handle uint16) (control, secure bool) {
	switch handle {
	case PlainControlHandle:
		return true, false
	case SecureControlHandle:
		return true, true
	default:
		return false, false
	}
}
