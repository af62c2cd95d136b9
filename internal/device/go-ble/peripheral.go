package goble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehttp/internal/gateway"
	"github.com/srg/blehttp/internal/link"
)

const (
	// DefaultGatewayName is the local name advertised by the gateway.
	DefaultGatewayName = "blehttp-gw"

	// DefaultHoldTimeout is how long the gateway keeps a dialled node connected.
	DefaultHoldTimeout = 5 * time.Second
)

// PeripheralDevice is the part of ble.Device the gateway side needs.
type PeripheralDevice interface {
	AddService(svc *ble.Service) error
	AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error
}

// NewPeripheralDevice opens the platform BLE stack in the peripheral role.
// The device can also be handed to RadioFor to dial nodes.
func NewPeripheralDevice() (ble.Device, error) {
	dev, err := DeviceFactory(peripheralOptions...)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return dev, nil
}

// Peripheral exposes a Gateway as a GATT service.
//
// go-ble reassembles queued writes inside its attribute server, so every
// request reaches the gateway as one write to a control characteristic.
type Peripheral struct {
	dev    PeripheralDevice
	gw     *gateway.Gateway
	name   string
	logger *logrus.Logger
	ctx    context.Context
}

// NewPeripheral returns a Peripheral serving gw on dev.
func NewPeripheral(dev PeripheralDevice, gw *gateway.Gateway, name string, logger *logrus.Logger) *Peripheral {
	if logger == nil {
		logger = logrus.New()
	}
	if name == "" {
		name = DefaultGatewayName
	}
	return &Peripheral{
		dev:    dev,
		gw:     gw,
		name:   name,
		logger: logger,
		ctx:    context.Background(),
	}
}

// Service builds the gateway GATT service.
func (p *Peripheral) Service() *ble.Service {
	svc := ble.NewService(link.ServiceUUID)

	for _, a := range gateway.Profile {
		c := svc.NewCharacteristic(a.UUID)
		if a.UUID.Equal(link.BodyUUID) {
			c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
				if _, err := rsp.Write(p.read(peerOf(req), req.Offset(), rsp.Cap())); err != nil {
					p.logger.WithError(err).Warn("Body read response failed")
				}
			}))
			c.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
				p.subscribe(n.Context(), peerOf(req), func(v []byte) {
					if _, err := n.Write(v); err != nil {
						p.logger.WithError(err).Warn("Notification failed")
					}
				})
			}))
			continue
		}

		handle := a.ValueHandle
		c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			if status := p.write(peerOf(req), handle, req.Data()); status != ble.ErrSuccess {
				rsp.SetStatus(status)
			}
		}))
	}
	return svc
}

// Serve registers the service and advertises it until ctx is done.
func (p *Peripheral) Serve(ctx context.Context) error {
	p.ctx = ctx
	if err := p.dev.AddService(p.Service()); err != nil {
		return fmt.Errorf("failed to add gateway service: %w", NormalizeError(err))
	}

	p.logger.WithFields(logrus.Fields{
		"name":    p.name,
		"service": link.ServiceUUID.String(),
	}).Info("Advertising gateway service")

	err := p.dev.AdvertiseNameAndServices(ctx, p.name, link.ServiceUUID)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("advertising failed: %w", NormalizeError(err))
	}
	return nil
}

// DialWanted connects to nodes advertising link.WantedUUID, one at a time,
// so they can run their transfer as GATT client. Each link is dropped after
// hold. It returns when ctx is done.
func (p *Peripheral) DialWanted(ctx context.Context, radio Radio, hold time.Duration) error {
	if hold <= 0 {
		hold = DefaultHoldTimeout
	}
	for ctx.Err() == nil {
		addr, err := p.findWanted(ctx, radio)
		if err != nil {
			return err
		}
		if addr == "" {
			continue
		}
		p.hold(ctx, radio, addr, hold)
	}
	return nil
}

func (p *Peripheral) findWanted(ctx context.Context, radio Radio) (string, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan string, 1)
	err := radio.Scan(scanCtx, func(adv Advertisement) {
		if !adv.Advertises(link.WantedUUID) {
			return
		}
		select {
		case found <- adv.Addr:
		default:
		}
		cancel()
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("scan for nodes failed: %w", err)
	}

	select {
	case addr := <-found:
		return addr, nil
	default:
		return "", nil
	}
}

func (p *Peripheral) hold(ctx context.Context, radio Radio, addr string, hold time.Duration) {
	logger := p.logger.WithField("address", addr)

	client, err := radio.Dial(ctx, addr)
	if err != nil {
		logger.WithError(err).Warn("Failed to connect to node")
		return
	}
	logger.WithField("hold", hold).Info("Node connected")

	timer := time.NewTimer(hold)
	defer timer.Stop()

	select {
	case <-client.Disconnected():
		logger.Debug("Node disconnected")
		return
	case <-timer.C:
		logger.Debug("Hold timeout, disconnecting node")
	case <-ctx.Done():
	}
	if err := client.CancelConnection(); err != nil {
		logger.WithError(NormalizeError(err)).Warn("Node disconnected with errors")
	}
}

// write hands a reassembled request for the control characteristic at handle to the gateway.
func (p *Peripheral) write(peer string, handle uint16, data []byte) ble.ATTError {
	err := p.gw.Write(p.ctx, peer, handle, data)
	if err == nil {
		return ble.ErrSuccess
	}
	p.logger.WithFields(logrus.Fields{
		"peer":   peer,
		"handle": fmt.Sprintf("0x%04x", handle),
		"error":  err,
	}).Warn("Write rejected")

	switch {
	case errors.Is(err, gateway.ErrInvalidHandle):
		return ble.ErrWriteNotPerm
	case errors.Is(err, gateway.ErrInvalidOffset):
		return ble.ErrInvalidOffset
	case errors.Is(err, gateway.ErrQueueFull):
		return ble.ErrPrepQueueFull
	default:
		return ble.ErrUnlikely
	}
}

// read returns as much of the body from offset as the response can carry.
// Long reads stop on the first response shorter than the capacity, so pages
// are sized by the link, not by the gateway's page size.
func (p *Peripheral) read(peer string, offset, capacity int) []byte {
	return p.gw.ReadBodyAt(peer, offset, capacity)
}

// subscribe routes peer's notifications to notify until ctx is done.
func (p *Peripheral) subscribe(ctx context.Context, peer string, notify gateway.Notifier) {
	p.gw.Subscribe(peer, notify)
	p.logger.WithField("peer", peer).Debug("Body notifications enabled")

	<-ctx.Done()

	p.gw.Unsubscribe(peer)
	p.logger.WithField("peer", peer).Debug("Body notifications disabled")
}

func peerOf(req ble.Request) string {
	if req == nil || req.Conn() == nil {
		return ""
	}
	return req.Conn().RemoteAddr().String()
}
