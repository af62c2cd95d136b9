package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/blehttp/internal/device"
)

// GATTClient is the part of ble.Client the Driver uses.
type GATTClient interface {
	Addr() ble.Addr
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadLongCharacteristic(c *ble.Characteristic) ([]byte, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// writeLimiter is implemented by clients that know the longest value a single
// write request can carry on their link.
type writeLimiter interface {
	WriteLimit() int
}

// bleClient is a dialled ble.Client with its write limit resolved from the
// negotiated MTU.
type bleClient struct {
	ble.Client
	limit int
}

func (c *bleClient) WriteLimit() int { return c.limit }

// Radio is what the Driver needs from the local controller.
type Radio interface {
	// Scan reports advertisements until ctx is done.
	Scan(ctx context.Context, handler func(Advertisement)) error
	// Dial connects to addr as central.
	Dial(ctx context.Context, addr string) (GATTClient, error)
	// Advertise advertises uuid and returns a client for the first central
	// that connects.
	Advertise(ctx context.Context, uuid ble.UUID) (GATTClient, error)
}

// bleRadio wraps ble.Device to implement Radio
type bleRadio struct {
	dev ble.Device
}

// NewRadio creates a Radio backed by the platform BLE stack.
func NewRadio() (Radio, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return RadioFor(dev), nil
}

// RadioFor wraps an already opened device.
func RadioFor(dev ble.Device) Radio {
	return &bleRadio{dev: dev}
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to Advertisement
func (r *bleRadio) Scan(ctx context.Context, handler func(Advertisement)) error {
	err := r.dev.Scan(ctx, false, func(adv ble.Advertisement) {
		handler(NewAdvertisement(adv))
	})
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

func (r *bleRadio) Dial(ctx context.Context, addr string) (GATTClient, error) {
	client, err := r.dev.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, NormalizeError(err)
	}
	txMTU, err := client.ExchangeMTU(ble.MaxMTU)
	if err != nil || txMTU < ble.DefaultMTU {
		txMTU = ble.DefaultMTU
	}
	return &bleClient{Client: client, limit: writeLimit(txMTU)}, nil
}

// Advertise is not available on go-ble: a connection accepted in the
// peripheral role only serves the local GATT server.
func (r *bleRadio) Advertise(ctx context.Context, uuid ble.UUID) (GATTClient, error) {
	return nil, fmt.Errorf("%w: GATT client on inbound connections", device.ErrUnsupported)
}
