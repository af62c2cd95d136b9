package link

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// InvalidConn is the connection identifier of a Session with no link.
const InvalidConn uint16 = 0xFFFF

// State is the Session's protocol state.
type State int

const (
	StateIdle State = iota
	StateAdvertising
	StateConnected
	StateDiscovering
	StateWriting
	StateAwaitingNotify
	StateReading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdvertising:
		return "advertising"
	case StateConnected:
		return "connected"
	case StateDiscovering:
		return "discovering"
	case StateWriting:
		return "writing"
	case StateAwaitingNotify:
		return "awaiting_notify"
	case StateReading:
		return "reading"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Role selects how the node meets the gateway.
type Role int

const (
	// RoleAdvertise advertises WantedUUID and waits for the gateway to connect.
	RoleAdvertise Role = iota
	// RoleScan scans for ServiceUUID and connects to the first match.
	RoleScan
)

func (r Role) String() string {
	if r == RoleScan {
		return "scan"
	}
	return "advertise"
}

// ParseRole parses "advertise" or "scan".
func ParseRole(s string) (Role, error) {
	switch s {
	case "advertise", "":
		return RoleAdvertise, nil
	case "scan":
		return RoleScan, nil
	default:
		return 0, fmt.Errorf("invalid role %q (must be advertise or scan)", s)
	}
}

// Transfer is one request/response exchange.
type Transfer struct {
	ID      string
	Request []byte // borrowed for the duration of the transfer
	Secure  bool
}

// Options configures a Session. Zero values select the defaults.
type Options struct {
	Role         Role
	FragmentSize int
	PageSize     int
	BodyCapacity int
}

// Session is the node side of the link: one connection, one transfer at a time.
//
// It is a pure state machine. Start and HandleEvent return the effects the
// caller must carry out; the results come back through HandleEvent. Session is
// not safe for concurrent use; callers feed it events from a single goroutine.
type Session struct {
	opts   Options
	logger *logrus.Logger

	state      State
	connID     uint16
	peer       string
	connecting bool
	handles    HandleSet

	transfer *Transfer
	finished bool // a terminal Deliver or Fail was emitted for transfer

	discovery *Discovery
	writer    *Fragmenter
	reader    *Reader
	lastWrite string // step of the write awaiting acknowledgement
}

// NewSession returns an idle Session.
func NewSession(opts Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		opts:   opts,
		logger: logger,
		state:  StateIdle,
		connID: InvalidConn,
		writer: NewFragmenter(opts.FragmentSize),
		reader: NewReader(opts.BodyCapacity, opts.PageSize),
	}
}

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// ConnID returns the link identifier, InvalidConn when disconnected.
func (s *Session) ConnID() uint16 { return s.connID }

// Peer returns the connected peer address.
func (s *Session) Peer() string { return s.peer }

// Handles returns the resolved attribute handles.
func (s *Session) Handles() HandleSet { return s.handles }

// Writer exposes the write cursor.
func (s *Session) Writer() *Fragmenter { return s.writer }

// Reader exposes the response accumulator.
func (s *Session) Reader() *Reader { return s.reader }

// Transfer returns the in-flight transfer, nil when idle.
func (s *Session) Transfer() *Transfer { return s.transfer }

// Start begins a transfer. It fails with ErrBusy unless the Session is idle.
func (s *Session) Start(t Transfer) ([]Effect, error) {
	if s.state != StateIdle || s.transfer != nil {
		return nil, ErrBusy
	}

	s.transfer = &t
	s.finished = false
	s.connecting = false
	s.state = StateAdvertising

	s.log().WithFields(logrus.Fields{
		"bytes":  len(t.Request),
		"secure": t.Secure,
		"role":   s.opts.Role,
	}).Info("Starting transfer")

	if s.opts.Role == RoleScan {
		return []Effect{Scan{UUID: ServiceUUID}}, nil
	}
	return []Effect{Advertise{UUID: WantedUUID}}, nil
}

// HandleEvent advances the state machine by one transport event.
func (s *Session) HandleEvent(ev Event) []Effect {
	switch ev := ev.(type) {
	case Disconnected:
		return s.onDisconnected(ev)
	case AdvReport:
		return s.onAdvReport(ev)
	case Connected:
		return s.onConnected(ev)
	case ServicesFound:
		return s.onServices(ev)
	case CharsFound:
		return s.onChars(ev)
	case WriteAck:
		return s.onWriteAck(ev)
	case Notified:
		return s.onNotified(ev)
	case ReadResp:
		return s.onReadResp(ev)
	}
	s.log().WithField("event", fmt.Sprintf("%T", ev)).Warn("Ignoring unknown event")
	return nil
}

func (s *Session) onAdvReport(ev AdvReport) []Effect {
	if s.state != StateAdvertising || s.opts.Role != RoleScan || s.connecting {
		return nil
	}
	if !AdvertisesService(ev.Data, ServiceUUID) {
		return nil
	}
	s.connecting = true
	s.log().WithField("peer", ev.Peer).Info("Found gateway, connecting")
	return []Effect{Connect{Peer: ev.Peer}}
}

func (s *Session) onConnected(ev Connected) []Effect {
	switch {
	case s.state == StateAdvertising:
	case s.connID != InvalidConn:
		s.log().WithField("conn", ev.ConnID).Debug("Ignoring connect while a session is active")
		return nil
	default:
		// Link without a pending transfer: nothing to do on it.
		s.connID = ev.ConnID
		s.peer = ev.Peer
		s.log().WithField("peer", ev.Peer).Warn("Connected with no transfer pending, disconnecting")
		return []Effect{Disconnect{}}
	}

	s.connID = ev.ConnID
	s.peer = ev.Peer
	s.connecting = false
	s.handles.Reset()
	s.state = StateConnected

	s.log().WithFields(logrus.Fields{
		"conn": ev.ConnID,
		"peer": ev.Peer,
	}).Info("Connected, discovering gateway service")

	s.discovery = NewDiscovery(s.transfer.Secure)
	s.state = StateDiscovering
	return []Effect{s.discovery.Begin()}
}

func (s *Session) onServices(ev ServicesFound) []Effect {
	if s.state != StateDiscovering || s.finished {
		return nil
	}
	req, err := s.discovery.OnServices(ev)
	if err != nil {
		return s.fail(err, true)
	}
	return []Effect{req}
}

func (s *Session) onChars(ev CharsFound) []Effect {
	if s.state != StateDiscovering || s.finished {
		return nil
	}
	next, err := s.discovery.OnChars(ev, &s.handles)
	if err != nil {
		return s.fail(err, true)
	}
	if next != nil {
		s.log().WithFields(logrus.Fields{
			"start": next.Range.Start,
			"end":   next.Range.End,
		}).Debug("Handles unresolved, continuing characteristic discovery")
		return []Effect{*next}
	}

	s.log().WithField("handles", s.handles.String()).Debug("Handles resolved")
	s.state = StateWriting
	s.writer.Reset(s.transfer.Request, s.handles)
	return s.nextWrite()
}

func (s *Session) onWriteAck(ev WriteAck) []Effect {
	if (s.state != StateWriting && s.state != StateAwaitingNotify) || s.finished {
		return nil
	}
	if ev.Status != ble.ErrSuccess {
		// Not retried: the session stays parked until the link drops.
		return s.fail(&TransferError{
			Kind:   WriteRejected,
			Op:     s.lastWrite,
			Status: ev.Status,
		}, false)
	}
	if s.state == StateAwaitingNotify {
		return nil
	}
	return s.nextWrite()
}

func (s *Session) nextWrite() []Effect {
	w, ok := s.writer.Next()
	if !ok {
		return nil
	}
	s.lastWrite = w.Op.String()
	if w.Op == WriteRequest {
		s.lastWrite = StepEnableNotifications.String()
	}
	if s.writer.Done() {
		s.state = StateAwaitingNotify
		s.log().WithField("bytes", s.writer.Offset()).Debug("Request committed, awaiting response notification")
	}
	return []Effect{w}
}

func (s *Session) onNotified(ev Notified) []Effect {
	if s.state != StateAwaitingNotify || s.finished || ev.Handle != s.handles.Body {
		return nil
	}
	s.state = StateReading
	s.reader.Reset()
	return []Effect{Read{Handle: s.handles.Body, Offset: 0}}
}

func (s *Session) onReadResp(ev ReadResp) []Effect {
	if s.state != StateReading || s.finished {
		return nil
	}
	if ev.Status != ble.ErrSuccess {
		// Accumulated pages are kept; the link is left for the caller to tear down.
		return s.fail(&TransferError{Kind: ReadRejected, Op: "read", Status: ev.Status}, false)
	}

	overruns := s.reader.Overruns()
	next, more := s.reader.Accept(ev.Offset, ev.Data)
	if s.reader.Overruns() > overruns {
		s.log().WithFields(logrus.Fields{
			"offset":   ev.Offset,
			"len":      len(ev.Data),
			"capacity": s.reader.Cap(),
		}).Warn(ErrBufferOverrun.Error())
	}
	if more {
		return []Effect{Read{Handle: s.handles.Body, Offset: next}}
	}

	body := s.reader.Body()
	s.reader.Reset()
	s.finished = true

	s.log().WithField("bytes", len(body)).Info("Response received")
	return []Effect{
		Deliver{TransferID: s.transfer.ID, Body: body},
		Disconnect{},
	}
}

func (s *Session) onDisconnected(ev Disconnected) []Effect {
	var effects []Effect
	if s.transfer != nil && !s.finished {
		s.log().WithFields(logrus.Fields{
			"state":  s.state,
			"reason": ev.Reason,
		}).Warn("Link lost before transfer completed")
		effects = append(effects, Fail{
			TransferID: s.transfer.ID,
			Err:        &TransferError{Kind: Aborted, Op: s.state.String(), Msg: ev.Reason},
		})
	} else {
		s.log().WithField("reason", ev.Reason).Debug("Disconnected")
	}

	s.state = StateIdle
	s.connID = InvalidConn
	s.peer = ""
	s.connecting = false
	s.handles.Reset()
	s.transfer = nil
	s.finished = false
	s.discovery = nil
	s.lastWrite = ""
	s.writer.Reset(nil, HandleSet{})
	s.writer.state = StepDone
	s.reader.Reset()
	return effects
}

// fail reports err to the caller. Discovery failures also drop the link;
// rejected writes and reads leave the session where it is.
func (s *Session) fail(err error, disconnect bool) []Effect {
	s.log().WithFields(logrus.Fields{
		"state": s.state,
		"error": err,
	}).Error("Transfer failed")

	if s.finished {
		return nil
	}
	s.finished = true
	effects := []Effect{Fail{TransferID: s.transfer.ID, Err: err}}
	if disconnect {
		effects = append(effects, Disconnect{})
	}
	return effects
}

func (s *Session) log() *logrus.Entry {
	entry := s.logger.WithField("conn", s.connID)
	if s.transfer != nil && s.transfer.ID != "" {
		entry = entry.WithField("transfer_id", s.transfer.ID)
	}
	return entry
}
