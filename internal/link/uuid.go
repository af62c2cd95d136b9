package link

import "github.com/go-ble/ble"

// Gateway profile identifiers. All share the 16ba????-cf44-461e-b889-4f9a90f6b330
// vendor base; ble.UUID keeps them in over-the-air (little-endian) byte order.
var (
	// ServiceUUID identifies the HTTP gateway service. Scan reports are matched
	// against it before a connection is attempted.
	ServiceUUID = ble.MustParse("16ba0001-cf44-461e-b889-4f9a90f6b330")

	// PlainControlUUID is the control characteristic for requests executed over plain HTTP.
	PlainControlUUID = ble.MustParse("16ba0002-cf44-461e-b889-4f9a90f6b330")

	// SecureControlUUID is the control characteristic for requests executed over HTTPS.
	SecureControlUUID = ble.MustParse("16ba0003-cf44-461e-b889-4f9a90f6b330")

	// BodyUUID is the response body characteristic (read + notify).
	BodyUUID = ble.MustParse("16ba0004-cf44-461e-b889-4f9a90f6b330")

	// WantedUUID is advertised by a node that has a request pending and wants
	// a gateway to connect to it.
	WantedUUID = ble.MustParse("16ba0006-cf44-461e-b889-4f9a90f6b330")
)

// ControlUUID returns the control characteristic that selects the outbound
// transport on the gateway.
func ControlUUID(secure bool) ble.UUID {
	if secure {
		return SecureControlUUID
	}
	return PlainControlUUID
}
