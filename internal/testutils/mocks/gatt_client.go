// Package mocks holds testify mocks for the go-ble adapters.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	goble "github.com/srg/blehttp/internal/device/go-ble"
	"github.com/stretchr/testify/mock"
)

// MockGATTClient is a mock of goble.GATTClient.
//
// Return values may be given as functions with the method's signature; they
// are called with the actual arguments.
type MockGATTClient struct {
	mock.Mock

	// Limit is reported by WriteLimit. Zero means no limit.
	Limit int
}

// WriteLimit returns Limit.
func (m *MockGATTClient) WriteLimit() int {
	return m.Limit
}

func (m *MockGATTClient) Addr() ble.Addr {
	args := m.Called()
	addr, _ := args.Get(0).(ble.Addr)
	return addr
}

func (m *MockGATTClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	if fn, ok := args.Get(0).(func([]ble.UUID) ([]*ble.Service, error)); ok {
		return fn(filter)
	}
	services, _ := args.Get(0).([]*ble.Service)
	return services, args.Error(1)
}

func (m *MockGATTClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	if fn, ok := args.Get(0).(func([]ble.UUID, *ble.Service) ([]*ble.Characteristic, error)); ok {
		return fn(filter, s)
	}
	chars, _ := args.Get(0).([]*ble.Characteristic)
	return chars, args.Error(1)
}

func (m *MockGATTClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	if fn, ok := args.Get(0).(func(*ble.Characteristic, []byte, bool) error); ok {
		return fn(c, value, noRsp)
	}
	return args.Error(0)
}

func (m *MockGATTClient) ReadLongCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	if fn, ok := args.Get(0).(func(*ble.Characteristic) ([]byte, error)); ok {
		return fn(c)
	}
	value, _ := args.Get(0).([]byte)
	return value, args.Error(1)
}

func (m *MockGATTClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	if fn, ok := args.Get(0).(func(*ble.Characteristic, bool, ble.NotificationHandler) error); ok {
		return fn(c, ind, h)
	}
	return args.Error(0)
}

func (m *MockGATTClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockGATTClient) Disconnected() <-chan struct{} {
	args := m.Called()
	switch ch := args.Get(0).(type) {
	case chan struct{}:
		return ch
	case <-chan struct{}:
		return ch
	}
	return nil
}

// MockRadio is a mock of goble.Radio.
type MockRadio struct {
	mock.Mock
}

func (m *MockRadio) Scan(ctx context.Context, handler func(goble.Advertisement)) error {
	args := m.Called(ctx, handler)
	if fn, ok := args.Get(0).(func(context.Context, func(goble.Advertisement)) error); ok {
		return fn(ctx, handler)
	}
	return args.Error(0)
}

func (m *MockRadio) Dial(ctx context.Context, addr string) (goble.GATTClient, error) {
	args := m.Called(ctx, addr)
	client, _ := args.Get(0).(goble.GATTClient)
	return client, args.Error(1)
}

func (m *MockRadio) Advertise(ctx context.Context, uuid ble.UUID) (goble.GATTClient, error) {
	args := m.Called(ctx, uuid)
	if fn, ok := args.Get(0).(func(context.Context, ble.UUID) (goble.GATTClient, error)); ok {
		return fn(ctx, uuid)
	}
	client, _ := args.Get(0).(goble.GATTClient)
	return client, args.Error(1)
}

var (
	_ goble.GATTClient = (*MockGATTClient)(nil)
	_ goble.Radio      = (*MockRadio)(nil)
)
