package link

import (
	"bytes"

	"github.com/go-ble/ble"
)

// AD structure types carrying service UUID lists.
const (
	adCompleteUUID16    = 0x03
	adIncompleteUUID128 = 0x06
	adCompleteUUID128   = 0x07
)

// AdvertisesService reports whether raw advertising data lists uuid among its
// 128-bit service UUIDs. Truncated or malformed AD structures end the walk.
func AdvertisesService(data []byte, uuid ble.UUID) bool {
	if len(uuid) != 16 {
		return false
	}
	for i := 0; i < len(data); {
		length := int(data[i])
		if length == 0 || i+1+length > len(data) {
			return false
		}
		typ := data[i+1]
		field := data[i+2 : i+1+length]
		if typ == adIncompleteUUID128 || typ == adCompleteUUID128 {
			for j := 0; j+16 <= len(field); j += 16 {
				if bytes.Equal(field[j:j+16], uuid) {
					return true
				}
			}
		}
		i += length + 1
	}
	return false
}

// EncodeServices builds AD structures listing uuids, for transports that
// surface parsed advertisements rather than raw bytes. Only 16- and 128-bit
// UUIDs are encoded.
func EncodeServices(uuids []ble.UUID) []byte {
	var short, long []byte
	for _, u := range uuids {
		switch len(u) {
		case 2:
			short = append(short, u...)
		case 16:
			long = append(long, u...)
		}
	}

	var out []byte
	appendField := func(typ byte, payload []byte, unit int) {
		// one AD structure holds at most 254 payload bytes
		limit := 254 / unit * unit
		for len(payload) > 0 {
			n := min(len(payload), limit)
			out = append(out, byte(n+1), typ)
			out = append(out, payload[:n]...)
			payload = payload[n:]
		}
	}
	appendField(adCompleteUUID16, short, 2)
	appendField(adCompleteUUID128, long, 16)
	return out
}
