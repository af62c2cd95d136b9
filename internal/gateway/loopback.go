package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehttp/internal/link"
)

// ErrStalled is returned by Loopback.Send when the link has nothing left to do
// but the transfer has not finished.
var ErrStalled = errors.New("link stalled")

// LoopbackOptions configures a Loopback.
type LoopbackOptions struct {
	Session link.Options
	Peer    string

	// CharsPerPage caps the characteristics returned per discovery response.
	// Zero returns every characteristic in the requested range.
	CharsPerPage int

	// WriteStatus and ReadStatus, when set, override the status of a write or
	// read before it reaches the gateway.
	WriteStatus func(w link.Write) ble.ATTError
	ReadStatus  func(r link.Read) ble.ATTError
}

// Loopback connects a link.Session to a Gateway in memory. It plays the radio
// for both sides: effects from the session are answered by the gateway's
// attribute table and fed back as events.
type Loopback struct {
	gw     *Gateway
	opts   LoopbackOptions
	logger *logrus.Logger

	session  *link.Session
	events   []link.Event
	notified []link.Event
	writes   []link.Write
	gwErr    error
}

// NewLoopback returns a Loopback serving gw.
func NewLoopback(gw *Gateway, opts LoopbackOptions, logger *logrus.Logger) *Loopback {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Peer == "" {
		opts.Peer = "loopback"
	}
	return &Loopback{
		gw:      gw,
		opts:    opts,
		logger:  logger,
		session: link.NewSession(opts.Session, logger),
	}
}

// Session returns the node session driven by the loopback.
func (l *Loopback) Session() *link.Session { return l.session }

// Writes returns every write the session issued during the last transfer.
func (l *Loopback) Writes() []link.Write { return l.writes }

// Send runs one transfer to completion and returns the response body.
func (l *Loopback) Send(ctx context.Context, payload []byte, secure bool) ([]byte, error) {
	l.writes = nil
	l.events = nil
	l.notified = nil
	l.gwErr = nil
	l.gw.Commit(l.opts.Peer, link.ExecuteCancel)

	id := uuid.NewString()
	pending, err := l.session.Start(link.Transfer{ID: id, Request: payload, Secure: secure})
	if err != nil {
		return nil, err
	}

	var (
		body      []byte
		result    error
		finished  bool
		connected bool
	)
	for {
		for len(pending) > 0 {
			eff := pending[0]
			pending = pending[1:]

			switch e := eff.(type) {
			case link.Deliver:
				body, finished = e.Body, true
			case link.Fail:
				if !finished {
					result, finished = e.Err, true
				}
				if connected {
					pending = append(pending, link.Disconnect{})
				}
			case link.Disconnect:
				if !connected {
					continue
				}
				connected = false
				l.gw.Forget(l.opts.Peer)
				l.events = append(l.events, link.Disconnected{Reason: "local"})
			case link.Advertise:
				connected = true
				l.events = append(l.events, link.Connected{ConnID: 0, Peer: l.opts.Peer})
			case link.Scan:
				l.events = append(l.events, link.AdvReport{
					Peer: l.opts.Peer,
					Data: link.EncodeServices([]ble.UUID{link.ServiceUUID}),
				})
			case link.Connect:
				connected = true
				l.events = append(l.events, link.Connected{ConnID: 0, Peer: e.Peer})
			default:
				l.events = append(l.events, l.answer(ctx, eff)...)
			}
		}

		if len(l.events) == 0 {
			break
		}
		ev := l.events[0]
		l.events = l.events[1:]
		pending = l.session.HandleEvent(ev)
	}

	if !finished {
		result = fmt.Errorf("transfer %s: %w in state %s", id, ErrStalled, l.session.State())
		if l.gwErr != nil {
			result = fmt.Errorf("%w: %v", result, l.gwErr)
		}
		if connected {
			l.gw.Forget(l.opts.Peer)
			l.session.HandleEvent(link.Disconnected{Reason: "stalled"})
		}
	}
	if result != nil {
		return nil, result
	}
	return body, nil
}

func (l *Loopback) answer(ctx context.Context, eff link.Effect) []link.Event {
	switch e := eff.(type) {
	case link.DiscoverServices:
		if !e.UUID.Equal(link.ServiceUUID) {
			return []link.Event{link.ServicesFound{Status: ble.ErrAttrNotFound}}
		}
		return []link.Event{link.ServicesFound{
			Status: ble.ErrSuccess,
			Ranges: []link.HandleRange{{Start: ServiceHandle, End: ServiceEndHandle}},
		}}

	case link.DiscoverChars:
		var chars []link.CharEntry
		for _, a := range Profile {
			if a.Decl < e.Range.Start || a.Decl > e.Range.End {
				continue
			}
			if l.opts.CharsPerPage > 0 && len(chars) == l.opts.CharsPerPage {
				break
			}
			chars = append(chars, link.CharEntry{UUID: a.UUID, Handle: a.Decl, ValueHandle: a.ValueHandle})
		}
		if len(chars) == 0 {
			return []link.Event{link.CharsFound{Status: ble.ErrAttrNotFound}}
		}
		return []link.Event{link.CharsFound{Status: ble.ErrSuccess, Chars: chars}}

	case link.Write:
		l.writes = append(l.writes, e)
		if l.opts.WriteStatus != nil {
			if status := l.opts.WriteStatus(e); status != ble.ErrSuccess {
				return []link.Event{link.WriteAck{Status: status}}
			}
		}
		return l.write(ctx, e)

	case link.Read:
		if l.opts.ReadStatus != nil {
			if status := l.opts.ReadStatus(e); status != ble.ErrSuccess {
				return []link.Event{link.ReadResp{Status: status, Offset: e.Offset}}
			}
		}
		if e.Handle != BodyHandle {
			return []link.Event{link.ReadResp{Status: ble.ErrReadNotPerm, Offset: e.Offset}}
		}
		return []link.Event{link.ReadResp{
			Status: ble.ErrSuccess,
			Offset: e.Offset,
			Data:   l.gw.ReadBody(l.opts.Peer, e.Offset),
		}}
	}

	l.logger.WithField("effect", fmt.Sprintf("%T", eff)).Warn("Loopback ignoring effect")
	return nil
}

func (l *Loopback) write(ctx context.Context, w link.Write) []link.Event {
	switch w.Op {
	case link.WriteRequest:
		if w.Handle == BodyCCCDHandle {
			if len(w.Data) > 0 && w.Data[0]&0x01 != 0 {
				l.gw.Subscribe(l.opts.Peer, func([]byte) {
					l.notified = append(l.notified, link.Notified{Handle: BodyHandle})
				})
			} else {
				l.gw.Unsubscribe(l.opts.Peer)
			}
			return []link.Event{link.WriteAck{Status: ble.ErrSuccess}}
		}
		control, secure := IsControl(w.Handle)
		if !control {
			return []link.Event{link.WriteAck{Status: ble.ErrWriteNotPerm}}
		}
		l.gwErr = l.gw.HandleRequest(ctx, l.opts.Peer, w.Data, secure)

	case link.WritePrepare:
		if control, _ := IsControl(w.Handle); !control {
			return []link.Event{link.WriteAck{Status: ble.ErrWriteNotPerm}}
		}
		if err := l.gw.Prepare(l.opts.Peer, w.Handle, w.Offset, w.Data); err != nil {
			status := ble.ErrInvalidOffset
			if errors.Is(err, ErrQueueFull) {
				status = ble.ErrPrepQueueFull
			}
			return []link.Event{link.WriteAck{Status: status}}
		}

	case link.WriteExecute:
		for _, v := range l.gw.Commit(l.opts.Peer, w.Flags) {
			_, secure := IsControl(v.Handle)
			l.gwErr = l.gw.HandleRequest(ctx, l.opts.Peer, v.Data, secure)
		}
	}

	// The acknowledgement precedes the notification on the wire.
	events := append([]link.Event{link.WriteAck{Status: ble.ErrSuccess}}, l.notified...)
	l.notified = nil
	return events
}
