package goble

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehttp/internal/device"
	"github.com/srg/blehttp/internal/groutine"
	"github.com/srg/blehttp/internal/link"
)

const (
	DefaultScanTimeout     = 10 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultTransferTimeout = 30 * time.Second

	// DefaultChannelBuffer is the buffer size for advertisement and notification channels
	DefaultChannelBuffer = 16
)

// ErrRequestTooLong is returned when a request does not fit the single write
// the link can commit.
var ErrRequestTooLong = errors.New("request too long for the link")

// Options configures a Driver. Zero durations select the defaults.
type Options struct {
	Session link.Options

	// Peer, when set, is dialled directly instead of scanning for the gateway.
	// It implies the scan role.
	Peer string

	ScanTimeout     time.Duration
	ConnectTimeout  time.Duration
	TransferTimeout time.Duration
}

// Driver runs link transfers over a go-ble radio.
//
// Radio callbacks (advertisements, notifications, link loss) arrive on go-ble
// goroutines; the Driver funnels them into one loop per transfer so the
// session sees a single event at a time. Every transfer is bounded by
// TransferTimeout: when it expires the link is dropped, which also clears a
// session parked on a rejected write or read.
type Driver struct {
	radio   Radio
	opts    Options
	logger  *logrus.Logger
	session *link.Session

	busy  atomic.Bool
	conns uint16
}

// NewDriver returns a Driver using radio.
func NewDriver(radio Radio, opts Options, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = DefaultTransferTimeout
	}
	if opts.Session.PageSize <= 0 {
		opts.Session.PageSize = link.DefaultPageSize
	}
	if opts.Peer != "" {
		// a known peer is dialled, which only the scanning role does
		opts.Session.Role = link.RoleScan
	}
	return &Driver{
		radio:   radio,
		opts:    opts,
		logger:  logger,
		session: link.NewSession(opts.Session, logger),
	}
}

// Send runs one request over the link and returns the response body.
// It fails with link.ErrBusy while another transfer is running.
func (d *Driver) Send(ctx context.Context, payload []byte, secure bool) ([]byte, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return nil, link.ErrBusy
	}
	defer d.busy.Store(false)

	ctx, cancel := context.WithTimeout(ctx, d.opts.TransferTimeout)
	defer cancel()

	id := uuid.NewString()
	x := &exchange{
		d:        d,
		ctx:      ctx,
		id:       id,
		logger:   d.logger.WithField("transfer_id", id),
		adv:      groutine.NewRingChannel[link.AdvReport](DefaultChannelBuffer),
		notified: groutine.NewRingChannel[link.Notified](DefaultChannelBuffer),
		accepted: make(chan accepted, 1),
		scanDone: make(chan error, 1),
	}
	return x.run(link.Transfer{ID: id, Request: payload, Secure: secure})
}

type accepted struct {
	client GATTClient
	err    error
}

// exchange is the per-transfer state of a Driver. It is only touched by the
// goroutine running Send.
type exchange struct {
	d      *Driver
	ctx    context.Context
	id     string
	logger *logrus.Entry

	workers  groutine.Group
	stopScan context.CancelFunc
	adv      *groutine.RingChannel[link.AdvReport]
	notified *groutine.RingChannel[link.Notified]
	accepted chan accepted
	scanDone chan error
	lost     chan struct{}

	client       GATTClient
	service      *ble.Service
	chars        *handleTable
	staged       []byte
	stagedHandle uint16
	value        []byte

	done bool
	body []byte
	err  error
}

func (x *exchange) run(t link.Transfer) ([]byte, error) {
	ctx, cancel := context.WithCancel(x.ctx)
	x.ctx = ctx
	defer func() {
		cancel()
		x.workers.Wait()
	}()

	effects, err := x.d.session.Start(t)
	if err != nil {
		return nil, err
	}
	x.apply(effects)

	for !x.done {
		select {
		case ev := <-x.adv.C():
			x.feed(ev)

		case ev := <-x.notified.C():
			x.feed(ev)

		case a := <-x.accepted:
			if a.err != nil {
				x.finish(nil, fmt.Errorf("advertise: %w", a.err))
				continue
			}
			x.apply(x.handle(x.attach(a.client, a.client.Addr().String())))

		case err := <-x.scanDone:
			if x.client != nil {
				continue
			}
			if err == nil {
				err = &device.NotFoundError{Resource: "gateway", UUIDs: []string{link.ServiceUUID.String()}}
			}
			x.finish(nil, fmt.Errorf("scan: %w", err))

		case <-x.lost:
			x.logger.Warn("Link lost")
			x.lost = nil
			x.client = nil
			x.feed(link.Disconnected{Reason: "remote"})

		case <-x.ctx.Done():
			x.finish(nil, fmt.Errorf("transfer %s in state %s: %w", x.id, x.d.session.State(), device.ErrTimeout))
		}
	}

	x.release("transfer finished")
	return x.body, x.err
}

// release drops the link if it is still up and returns the session to idle.
func (x *exchange) release(reason string) {
	x.apply(x.handle(x.disconnect(reason)))
	if x.d.session.State() != link.StateIdle || x.d.session.Transfer() != nil {
		x.feed(link.Disconnected{Reason: reason})
	}
}

func (x *exchange) finish(body []byte, err error) {
	if x.done {
		return
	}
	x.done = true
	x.body = body
	x.err = err
	if err != nil {
		x.logger.WithError(err).Error("Transfer failed")
	}
}

func (x *exchange) feed(ev link.Event) {
	x.apply(x.d.session.HandleEvent(ev))
}

func (x *exchange) handle(events []link.Event) []link.Effect {
	var effects []link.Effect
	for _, ev := range events {
		effects = append(effects, x.d.session.HandleEvent(ev)...)
	}
	return effects
}

// apply performs effects in order, feeding synchronous results straight back
// into the session.
func (x *exchange) apply(effects []link.Effect) {
	for len(effects) > 0 {
		eff := effects[0]
		effects = effects[1:]
		effects = append(effects, x.handle(x.perform(eff))...)
	}
}

func (x *exchange) perform(eff link.Effect) []link.Event {
	switch e := eff.(type) {
	case link.Deliver:
		x.finish(e.Body, nil)
	case link.Fail:
		x.finish(nil, e.Err)
	case link.Scan:
		return x.scan(e.UUID)
	case link.Advertise:
		x.advertise(e.UUID)
	case link.Connect:
		return x.connect(e.Peer)
	case link.Disconnect:
		return x.disconnect("local")
	case link.DiscoverServices:
		return []link.Event{x.discoverServices(e)}
	case link.DiscoverChars:
		return []link.Event{x.discoverChars(e)}
	case link.Write:
		return []link.Event{x.write(e)}
	case link.Read:
		return []link.Event{x.read(e)}
	default:
		x.logger.WithField("effect", fmt.Sprintf("%T", eff)).Warn("Ignoring unknown effect")
	}
	return nil
}

func (x *exchange) scan(service ble.UUID) []link.Event {
	if x.d.opts.Peer != "" {
		return []link.Event{link.AdvReport{
			Peer: x.d.opts.Peer,
			Data: link.EncodeServices([]ble.UUID{service}),
		}}
	}

	ctx, cancel := context.WithTimeout(x.ctx, x.d.opts.ScanTimeout)
	x.stopScan = cancel
	x.logger.WithField("timeout", x.d.opts.ScanTimeout).Info("Scanning for gateway...")
	x.workers.Go(ctx, "ble-scan", func(ctx context.Context) {
		err := x.d.radio.Scan(ctx, func(adv Advertisement) {
			x.adv.Send(link.AdvReport{Peer: adv.Addr, Data: link.EncodeServices(adv.Services)})
		})
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
		x.scanDone <- err
	})
	return nil
}

func (x *exchange) advertise(service ble.UUID) {
	x.logger.WithField("uuid", service.String()).Info("Advertising for a gateway...")
	x.workers.Go(x.ctx, "ble-advertise", func(ctx context.Context) {
		client, err := x.d.radio.Advertise(ctx, service)
		x.accepted <- accepted{client: client, err: err}
	})
}

func (x *exchange) connect(peer string) []link.Event {
	if x.stopScan != nil {
		x.stopScan()
		x.stopScan = nil
	}

	ctx, cancel := context.WithTimeout(x.ctx, x.d.opts.ConnectTimeout)
	defer cancel()

	x.logger.WithField("address", peer).Debug("Dialing gateway...")
	client, err := x.d.radio.Dial(ctx, peer)
	if err != nil {
		x.finish(nil, fmt.Errorf("failed to connect to gateway with address %q: %w", peer, err))
		return nil
	}
	return x.attach(client, peer)
}

func (x *exchange) attach(client GATTClient, peer string) []link.Event {
	x.client = client
	x.service = nil
	x.chars = newHandleTable()
	x.staged = nil
	x.value = nil

	lost := make(chan struct{})
	x.lost = lost
	x.workers.Go(x.ctx, "ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-client.Disconnected():
			close(lost)
		case <-ctx.Done():
		}
	})

	x.d.conns = (x.d.conns + 1) % link.InvalidConn
	x.logger.WithField("address", peer).Info("Gateway connected")
	return []link.Event{link.Connected{ConnID: x.d.conns, Peer: peer}}
}

func (x *exchange) disconnect(reason string) []link.Event {
	if x.client == nil {
		return nil
	}
	client := x.client
	x.client = nil
	x.lost = nil

	if err := client.CancelConnection(); err != nil {
		x.logger.WithError(NormalizeError(err)).Warn("Gateway disconnected with errors")
	} else {
		x.logger.WithField("reason", reason).Debug("Gateway disconnected")
	}
	return []link.Event{link.Disconnected{Reason: reason}}
}

func (x *exchange) discoverServices(e link.DiscoverServices) link.Event {
	services, err := x.client.DiscoverServices([]ble.UUID{e.UUID})
	if err != nil {
		x.logger.WithError(err).Warn("Service discovery failed")
		return link.ServicesFound{Status: attStatus(err)}
	}

	var ranges []link.HandleRange
	for _, s := range services {
		if !s.UUID.Equal(e.UUID) {
			continue
		}
		if x.service == nil {
			x.service = s
		}
		ranges = append(ranges, link.HandleRange{Start: s.Handle, End: s.EndHandle})
	}
	return link.ServicesFound{Status: ble.ErrSuccess, Ranges: ranges}
}

func (x *exchange) discoverChars(e link.DiscoverChars) link.Event {
	if x.service == nil {
		return link.CharsFound{Status: ble.ErrAttrNotFound}
	}

	svc := x.service
	if svc.EndHandle != 0 {
		// handle-aware stack: discover just the requested window
		svc = &ble.Service{UUID: x.service.UUID, Handle: e.Range.Start, EndHandle: e.Range.End}
	}
	chars, err := x.client.DiscoverCharacteristics(nil, svc)
	if err != nil {
		x.logger.WithError(err).Warn("Characteristic discovery failed")
		return link.CharsFound{Status: attStatus(err)}
	}
	return link.CharsFound{Status: ble.ErrSuccess, Chars: x.chars.add(chars)}
}

func (x *exchange) write(w link.Write) link.Event {
	switch w.Op {
	case link.WriteRequest:
		if c := x.chars.char(w.Handle); c != nil {
			return x.ack(w, x.client.WriteCharacteristic(c, w.Data, false))
		}
		if c := x.chars.notifyOwner(w.Handle); c != nil {
			return x.ack(w, x.subscribe(c, w.Handle, w.Data))
		}
		return link.WriteAck{Status: ble.ErrInvalidHandle}

	case link.WritePrepare:
		if x.chars.char(w.Handle) == nil {
			return link.WriteAck{Status: ble.ErrInvalidHandle}
		}
		// go-ble exposes no queued write procedure: fragments are staged here and
		// committed as one write, which must fit the link.
		if w.Offset == 0 {
			if err := x.checkWriteLimit(); err != nil {
				x.finish(nil, err)
				return link.WriteAck{Status: ble.ErrInvalAttrValueLen}
			}
		}
		if w.Offset != len(x.staged) {
			return link.WriteAck{Status: ble.ErrInvalidOffset}
		}
		x.staged = append(x.staged, w.Data...)
		x.stagedHandle = w.Handle
		return link.WriteAck{Status: ble.ErrSuccess}

	case link.WriteExecute:
		staged, handle := x.staged, x.stagedHandle
		x.staged = nil
		if w.Flags != link.ExecuteCommit {
			return link.WriteAck{Status: ble.ErrSuccess}
		}
		if handle == 0 {
			handle = w.Handle
		}
		c := x.chars.char(handle)
		if c == nil {
			return link.WriteAck{Status: ble.ErrInvalidHandle}
		}
		return x.ack(w, x.client.WriteCharacteristic(c, staged, false))
	}
	return link.WriteAck{Status: ble.ErrReqNotSupp}
}

// checkWriteLimit fails when the request cannot be committed in one write.
func (x *exchange) checkWriteLimit() error {
	wl, ok := x.client.(writeLimiter)
	if !ok || wl.WriteLimit() <= 0 {
		return nil
	}
	t := x.d.session.Transfer()
	if t == nil || len(t.Request) <= wl.WriteLimit() {
		return nil
	}
	return fmt.Errorf("%w: %d bytes, the link carries %d per write", ErrRequestTooLong, len(t.Request), wl.WriteLimit())
}

func (x *exchange) subscribe(c *ble.Characteristic, cccd uint16, value []byte) error {
	if len(value) == 0 || value[0]&0x01 == 0 {
		return nil
	}
	if c.CCCD == nil {
		c.CCCD = &ble.Descriptor{UUID: ble.ClientCharacteristicConfigUUID, Handle: cccd}
	}
	handle := c.ValueHandle
	return x.client.Subscribe(c, false, func(req []byte) {
		if x.notified.Send(link.Notified{Handle: handle}) {
			x.logger.Debug("Notification queue full, dropped oldest")
		}
	})
}

func (x *exchange) ack(w link.Write, err error) link.Event {
	status := attStatus(err)
	if err != nil {
		x.logger.WithFields(logrus.Fields{
			"op":     w.Op,
			"handle": fmt.Sprintf("0x%04x", w.Handle),
			"error":  NormalizeError(err),
		}).Warn("Write failed")
	}
	return link.WriteAck{Status: status}
}

func (x *exchange) read(r link.Read) link.Event {
	c := x.chars.char(r.Handle)
	if c == nil {
		return link.ReadResp{Status: ble.ErrInvalidHandle, Offset: r.Offset}
	}

	// The whole value is fetched once with a long read; later offsets are
	// served from it.
	if r.Offset == 0 || x.value == nil {
		v, err := x.client.ReadLongCharacteristic(c)
		if err != nil {
			x.logger.WithError(NormalizeError(err)).Warn("Read failed")
			return link.ReadResp{Status: attStatus(err), Offset: r.Offset}
		}
		x.value = v
	}

	page := []byte{}
	if r.Offset < len(x.value) {
		end := min(r.Offset+x.d.opts.Session.PageSize, len(x.value))
		page = x.value[r.Offset:end]
	}
	return link.ReadResp{Status: ble.ErrSuccess, Offset: r.Offset, Data: page}
}
