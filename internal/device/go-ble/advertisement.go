package goble

import (
	"github.com/go-ble/ble"
)

// Advertisement is the part of an advertising report the link uses.
type Advertisement struct {
	Addr        string
	LocalName   string
	RSSI        int
	Connectable bool
	Services    []ble.UUID
}

// NewAdvertisement copies the fields of a go-ble advertisement.
func NewAdvertisement(adv ble.Advertisement) Advertisement {
	return Advertisement{
		Addr:        adv.Addr().String(),
		LocalName:   adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		Services:    adv.Services(),
	}
}

// Advertises reports whether the advertisement lists uuid.
func (a Advertisement) Advertises(uuid ble.UUID) bool {
	for _, u := range a.Services {
		if u.Equal(uuid) {
			return true
		}
	}
	return false
}
