package link

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
)

func TestAdvertisesService(t *testing.T) {
	other := ble.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")

	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{
			name:     "complete 128-bit list",
			data:     EncodeServices([]ble.UUID{ServiceUUID}),
			expected: true,
		},
		{
			name:     "service among others",
			data:     EncodeServices([]ble.UUID{ble.UUID16(0x180D), other, ServiceUUID}),
			expected: true,
		},
		{
			name:     "incomplete 128-bit list",
			data:     append([]byte{17, adIncompleteUUID128}, ServiceUUID...),
			expected: true,
		},
		{
			name:     "other service only",
			data:     EncodeServices([]ble.UUID{other}),
			expected: false,
		},
		{
			name:     "uuid in a name field",
			data:     append([]byte{17, 0x09}, ServiceUUID...),
			expected: false,
		},
		{
			name:     "truncated structure",
			data:     append([]byte{30, adCompleteUUID128}, ServiceUUID...),
			expected: false,
		},
		{
			name:     "zero length structure",
			data:     []byte{0, 0, 0},
			expected: false,
		},
		{
			name:     "empty",
			data:     nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AdvertisesService(tt.data, ServiceUUID))
		})
	}
}

func TestEncodeServicesSplitsLongLists(t *testing.T) {
	uuids := make([]ble.UUID, 20)
	for i := range uuids {
		uuids[i] = ServiceUUID
	}
	data := EncodeServices(uuids)

	// 15 UUIDs fit in one structure; the remaining 5 go into a second one
	assert.Equal(t, byte(15*16+1), data[0], "first structure MUST hold as many whole UUIDs as fit")
	assert.Equal(t, byte(5*16+1), data[15*16+2], "second structure MUST hold the rest")
	assert.True(t, AdvertisesService(data, ServiceUUID))
}
