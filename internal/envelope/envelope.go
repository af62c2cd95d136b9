// Package envelope implements the message framing used between the local
// process that owns a request and the gateway dispatcher.
//
// A message is a 4-byte header followed by the payload:
//
//	byte 0    message type
//	byte 1-2  payload length, little-endian
//	byte 3    transport mode (HTTP messages only)
package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the encoded header.
const HeaderSize = 4

// minSize is the shortest message the decoder looks at.
const minSize = 3

// MaxPayload is the largest payload the length field can describe.
const MaxPayload = 0xFFFF

// Type identifies the payload kind.
type Type byte

const (
	TypeHTTP Type = 0x01
)

func (t Type) String() string {
	if t == TypeHTTP {
		return "http"
	}
	return fmt.Sprintf("type(0x%02x)", byte(t))
}

// Mode selects the outbound transport for an HTTP message.
type Mode byte

const (
	ModeSecure Mode = 0x01
	ModePlain  Mode = 0x02
)

func (m Mode) String() string {
	switch m {
	case ModeSecure:
		return "secure"
	case ModePlain:
		return "plain"
	default:
		return fmt.Sprintf("mode(0x%02x)", byte(m))
	}
}

// ModeFor returns the mode matching the secure flag.
func ModeFor(secure bool) Mode {
	if secure {
		return ModeSecure
	}
	return ModePlain
}

var (
	// ErrMalformed is returned for messages too short to carry a header.
	ErrMalformed = errors.New("malformed envelope")
	// ErrLegacyFormat is returned for HTTP messages without a valid mode byte,
	// as produced by senders that predate the mode field.
	ErrLegacyFormat = errors.New("legacy envelope format")
	// ErrTruncated is returned when the declared length exceeds the bytes present.
	ErrTruncated = errors.New("truncated envelope")
	// ErrTooLarge is returned when encoding a payload the length field cannot describe.
	ErrTooLarge = errors.New("payload too large")
)

// Header is the decoded message header.
type Header struct {
	Type   Type
	Length uint16
	Mode   Mode
}

// Secure reports whether an HTTP message asks for TLS.
func (h Header) Secure() bool {
	return h.Mode == ModeSecure
}

// Encode frames payload as a message of type t.
func Encode(t Type, mode Mode, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(payload), MaxPayload)
	}
	out := make([]byte, HeaderSize, HeaderSize+len(payload))
	out[0] = byte(t)
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(payload)))
	out[3] = byte(mode)
	return append(out, payload...), nil
}

// EncodeHTTP frames an HTTP request.
func EncodeHTTP(request []byte, secure bool) ([]byte, error) {
	return Encode(TypeHTTP, ModeFor(secure), request)
}

// Decode parses the header of msg and returns the payload it describes.
// Bytes past the declared length are ignored. Messages of unknown type are
// returned with a nil payload and no error so the caller can skip them.
func Decode(msg []byte) (Header, []byte, error) {
	if len(msg) < minSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(msg))
	}

	h := Header{
		Type:   Type(msg[0]),
		Length: binary.LittleEndian.Uint16(msg[1:3]),
	}
	if h.Type != TypeHTTP {
		return h, nil, nil
	}

	if len(msg) < HeaderSize {
		return h, nil, fmt.Errorf("%w: no mode byte", ErrLegacyFormat)
	}
	h.Mode = Mode(msg[3])
	if h.Mode != ModeSecure && h.Mode != ModePlain {
		return h, nil, fmt.Errorf("%w: %s", ErrLegacyFormat, h.Mode)
	}

	end := HeaderSize + int(h.Length)
	if end > len(msg) {
		return h, nil, fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncated, h.Length, len(msg)-HeaderSize)
	}
	return h, msg[HeaderSize:end], nil
}
