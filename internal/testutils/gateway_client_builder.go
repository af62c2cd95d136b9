package testutils

import (
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/srg/blehttp/internal/gateway"
	"github.com/srg/blehttp/internal/link"
	"github.com/srg/blehttp/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// GatewayClientBuilder builds a mocked GATT client that behaves like a gateway:
// it exposes the gateway attribute table, notifies once a request is written
// to a control characteristic and serves the configured body.
type GatewayClientBuilder struct {
	address      string
	body         []byte
	charsPerPage int
	hideHandles  bool
	writeErr     error
	readErr      error
	silent       bool
	dropOnWrite  bool
	mtu          int

	mu       sync.Mutex
	requests [][]byte
	secure   []bool
	lost     chan struct{}
}

// NewGatewayClientBuilder creates a new gateway client builder
func NewGatewayClientBuilder() *GatewayClientBuilder {
	return &GatewayClientBuilder{
		address: "AA:BB:CC:DD:EE:FF",
		lost:    make(chan struct{}),
	}
}

// WithAddress sets the peer address the client reports
func (b *GatewayClientBuilder) WithAddress(address string) *GatewayClientBuilder {
	b.address = address
	return b
}

// WithBody sets the response body served from the body characteristic
func (b *GatewayClientBuilder) WithBody(body []byte) *GatewayClientBuilder {
	b.body = body
	return b
}

// WithCharsPerPage caps the characteristics returned per discovery call
func (b *GatewayClientBuilder) WithCharsPerPage(n int) *GatewayClientBuilder {
	b.charsPerPage = n
	return b
}

// WithoutHandles emulates a stack that does not report attribute handles
func (b *GatewayClientBuilder) WithoutHandles() *GatewayClientBuilder {
	b.hideHandles = true
	return b
}

// WithWriteError makes request writes fail with err
func (b *GatewayClientBuilder) WithWriteError(err error) *GatewayClientBuilder {
	b.writeErr = err
	return b
}

// WithReadError makes body reads fail with err
func (b *GatewayClientBuilder) WithReadError(err error) *GatewayClientBuilder {
	b.readErr = err
	return b
}

// WithoutNotification never notifies the body characteristic
func (b *GatewayClientBuilder) WithoutNotification() *GatewayClientBuilder {
	b.silent = true
	return b
}

// WithDropOnRequest drops the link as soon as a request is written
func (b *GatewayClientBuilder) WithDropOnRequest() *GatewayClientBuilder {
	b.dropOnWrite = true
	return b
}

// WithMTU limits every write to mtu-3 bytes, like an ATT client without
// queued writes
func (b *GatewayClientBuilder) WithMTU(mtu int) *GatewayClientBuilder {
	b.mtu = mtu
	return b
}

// Requests returns the requests written to control characteristics so far
func (b *GatewayClientBuilder) Requests() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.requests...)
}

// Secure reports, per request, whether it was written to the secure control characteristic
func (b *GatewayClientBuilder) Secure() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.secure...)
}

// DropLink simulates the remote side dropping the connection
func (b *GatewayClientBuilder) DropLink() {
	close(b.lost)
}

func (b *GatewayClientBuilder) characteristics(s *blelib.Service) []*blelib.Characteristic {
	var out []*blelib.Characteristic
	for _, a := range gateway.Profile {
		if !b.hideHandles && (a.Decl < s.Handle || a.Decl > s.EndHandle) {
			continue
		}
		if b.charsPerPage > 0 && len(out) == b.charsPerPage {
			break
		}
		c := &blelib.Characteristic{
			UUID:     a.UUID,
			Property: blelib.CharWrite,
		}
		if a.UUID.Equal(link.BodyUUID) {
			c.Property = blelib.CharRead | blelib.CharNotify
		}
		if !b.hideHandles {
			c.Handle = a.Decl
			c.ValueHandle = a.ValueHandle
		}
		out = append(out, c)
	}
	return out
}

// Build creates the mocked client with the configured behaviour
func (b *GatewayClientBuilder) Build() *mocks.MockGATTClient {
	client := &mocks.MockGATTClient{}
	if b.mtu > 0 {
		client.Limit = b.mtu - 3
	}

	var (
		mu      sync.Mutex
		handler blelib.NotificationHandler
	)

	service := &blelib.Service{UUID: link.ServiceUUID}
	if !b.hideHandles {
		service.Handle = gateway.ServiceHandle
		service.EndHandle = gateway.ServiceEndHandle
	}

	client.On("Addr").Return(blelib.NewAddr(b.address))
	client.On("DiscoverServices", mock.Anything).Return([]*blelib.Service{service}, nil)
	client.On("DiscoverCharacteristics", mock.Anything, mock.Anything).Return(
		func(_ []blelib.UUID, s *blelib.Service) ([]*blelib.Characteristic, error) {
			return b.characteristics(s), nil
		})
	client.On("Subscribe", mock.Anything, false, mock.Anything).Return(
		func(_ *blelib.Characteristic, _ bool, h blelib.NotificationHandler) error {
			mu.Lock()
			handler = h
			mu.Unlock()
			return nil
		})
	client.On("WriteCharacteristic", mock.Anything, mock.Anything, false).Return(
		func(c *blelib.Characteristic, value []byte, _ bool) error {
			if b.writeErr != nil {
				return b.writeErr
			}
			if b.mtu > 0 && len(value) > b.mtu-3 {
				return blelib.ErrInvalAttrValueLen
			}
			b.mu.Lock()
			b.requests = append(b.requests, append([]byte(nil), value...))
			b.secure = append(b.secure, c.UUID.Equal(link.SecureControlUUID))
			b.mu.Unlock()

			if b.dropOnWrite {
				b.DropLink()
				return nil
			}

			mu.Lock()
			h := handler
			mu.Unlock()
			if h != nil && !b.silent {
				h(gateway.ReadyMessage)
			}
			return nil
		})
	client.On("ReadLongCharacteristic", mock.Anything).Return(
		func(*blelib.Characteristic) ([]byte, error) {
			if b.readErr != nil {
				return nil, b.readErr
			}
			return b.body, nil
		})
	client.On("CancelConnection").Return(nil)
	client.On("Disconnected").Return((<-chan struct{})(b.lost))

	return client
}
