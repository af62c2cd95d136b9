package link

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

var gatewayChars = []CharEntry{
	{UUID: PlainControlUUID, Handle: 0x21, ValueHandle: 0x22},
	{UUID: SecureControlUUID, Handle: 0x23, ValueHandle: 0x24},
	{UUID: BodyUUID, Handle: 0x25, ValueHandle: 0x26},
}

type SessionTestSuite struct {
	suite.Suite

	logger  *logrus.Logger
	session *Session
}

func (suite *SessionTestSuite) SetupTest() {
	suite.logger = logrus.New()
	suite.logger.SetOutput(io.Discard)
	suite.session = NewSession(Options{}, suite.logger)
}

func (suite *SessionTestSuite) start(request []byte, secure bool) []Effect {
	effects, err := suite.session.Start(Transfer{ID: "t-1", Request: request, Secure: secure})
	suite.Require().NoError(err, "MUST start from idle")
	return effects
}

// connectAndDiscover drives the session from Advertising to its first write.
func (suite *SessionTestSuite) connectAndDiscover() Write {
	effects := suite.session.HandleEvent(Connected{ConnID: 7, Peer: "gw"})
	suite.Require().Equal([]Effect{DiscoverServices{UUID: ServiceUUID}}, effects)

	effects = suite.session.HandleEvent(ServicesFound{Ranges: []HandleRange{{Start: 0x20, End: 0x27}}})
	suite.Require().Equal([]Effect{DiscoverChars{Range: HandleRange{Start: 0x20, End: 0x27}}}, effects)

	effects = suite.session.HandleEvent(CharsFound{Chars: gatewayChars})
	suite.Require().Len(effects, 1)
	suite.Require().Equal(StateWriting, suite.session.State())
	w, ok := effects[0].(Write)
	suite.Require().True(ok, "first effect after discovery MUST be a write")
	return w
}

// writeAll acknowledges writes until the session waits for the notification.
func (suite *SessionTestSuite) writeAll(first Write) []Write {
	writes := []Write{first}
	for i := 0; i < 1000; i++ {
		effects := suite.session.HandleEvent(WriteAck{})
		if len(effects) == 0 {
			return writes
		}
		suite.Require().Len(effects, 1)
		writes = append(writes, effects[0].(Write))
	}
	suite.FailNow("write sequence MUST terminate")
	return nil
}

// readAll serves body in pages until the session delivers.
func (suite *SessionTestSuite) readAll(body []byte, first Effect) []Effect {
	effect := first
	for i := 0; i < 1000; i++ {
		read, ok := effect.(Read)
		if !ok {
			suite.FailNow("expected a read")
		}
		suite.Equal(uint16(0x26), read.Handle, "reads MUST target the body characteristic")
		var page []byte
		if read.Offset < len(body) {
			page = body[read.Offset:min(read.Offset+DefaultPageSize, len(body))]
		}
		effects := suite.session.HandleEvent(ReadResp{Offset: read.Offset, Data: page})
		if _, more := effects[0].(Read); !more {
			return effects
		}
		effect = effects[0]
	}
	suite.FailNow("read sequence MUST terminate")
	return nil
}

func (suite *SessionTestSuite) TestFullTransfer() {
	// GOAL: Verify a complete transfer from start to delivery
	//
	// TEST SCENARIO: Start → connect → discover → fragment request → notification →
	// paginated read → body delivered and link released

	request := []byte("GET /v1/weather HTTP/1.1\r\nHost: example.com\r\n\r\n")
	body := bytes.Repeat([]byte("sunny "), 12)[:71]

	effects := suite.start(request, true)
	suite.Equal([]Effect{Advertise{UUID: WantedUUID}}, effects, "advertise role MUST advertise the wanted identifier")
	suite.Equal(StateAdvertising, suite.session.State())

	writes := suite.writeAll(suite.connectAndDiscover())
	suite.Equal(StateAwaitingNotify, suite.session.State())
	suite.Len(writes, suite.session.Writer().Writes(len(request)))

	var reassembled []byte
	for _, w := range writes {
		if w.Op == WritePrepare {
			suite.Equal(len(reassembled), w.Offset)
			reassembled = append(reassembled, w.Data...)
		}
	}
	suite.Equal(request, reassembled, "remote MUST be able to rebuild the request from the fragments")

	effects = suite.session.HandleEvent(Notified{Handle: 0x26})
	suite.Require().Equal([]Effect{Read{Handle: 0x26, Offset: 0}}, effects)
	suite.Equal(StateReading, suite.session.State())

	effects = suite.readAll(body, effects[0])
	suite.Require().Len(effects, 2)
	suite.Equal(Deliver{TransferID: "t-1", Body: body}, effects[0], "body MUST be delivered once complete")
	suite.Equal(Disconnect{}, effects[1], "link MUST be released after delivery")

	effects = suite.session.HandleEvent(Disconnected{Reason: "local"})
	suite.Empty(effects, "finished transfer MUST NOT report a failure on disconnect")
	suite.Equal(StateIdle, suite.session.State())
}

func (suite *SessionTestSuite) TestScanRoleFiltersAdvertisements() {
	// GOAL: Verify the scan role connects only to peers advertising the gateway service
	//
	// TEST SCENARIO: Start in scan role → unrelated report ignored → matching report
	// connects once → duplicate report ignored

	suite.session = NewSession(Options{Role: RoleScan}, suite.logger)
	effects := suite.start([]byte("GET / HTTP/1.1\r\n\r\n"), false)
	suite.Equal([]Effect{Scan{UUID: ServiceUUID}}, effects)

	other := EncodeServices([]ble.UUID{ble.UUID16(0x180D)})
	suite.Empty(suite.session.HandleEvent(AdvReport{Peer: "aa", Data: other}), "non-gateway report MUST be ignored")

	match := EncodeServices([]ble.UUID{ServiceUUID})
	suite.Equal([]Effect{Connect{Peer: "bb"}}, suite.session.HandleEvent(AdvReport{Peer: "bb", Data: match}))
	suite.Empty(suite.session.HandleEvent(AdvReport{Peer: "cc", Data: match}), "MUST NOT dial twice")
}

func (suite *SessionTestSuite) TestOnlyControlFoundNeverWrites() {
	// GOAL: Verify discovery that finds only the control characteristic never starts writing
	//
	// TEST SCENARIO: Page with control only → continuation → empty page → DiscoveryFailed
	// and disconnect → state never reached Writing

	suite.start([]byte("x"), false)
	suite.session.HandleEvent(Connected{ConnID: 1, Peer: "gw"})
	suite.session.HandleEvent(ServicesFound{Ranges: []HandleRange{{Start: 0x20, End: 0x27}}})

	effects := suite.session.HandleEvent(CharsFound{Chars: gatewayChars[:1]})
	suite.Require().Len(effects, 1)
	suite.IsType(DiscoverChars{}, effects[0], "incomplete discovery MUST continue")
	suite.Equal(StateDiscovering, suite.session.State())

	effects = suite.session.HandleEvent(CharsFound{Status: ble.ErrAttrNotFound})
	suite.Require().Len(effects, 2)
	fail, ok := effects[0].(Fail)
	suite.Require().True(ok)
	suite.True(errors.Is(fail.Err, ErrDiscoveryFailed))
	suite.Equal(Disconnect{}, effects[1], "discovery failure MUST request disconnect")
	suite.NotEqual(StateWriting, suite.session.State())
	suite.Zero(suite.session.Writer().Offset(), "no fragment MUST have been produced")
}

func (suite *SessionTestSuite) TestDisconnectMidReadResets() {
	// GOAL: Verify an unsolicited disconnect mid-read drops everything
	//
	// TEST SCENARIO: Read one full page → disconnect → Aborted failure → idle with no
	// stale handles → a new transfer starts cleanly

	suite.start([]byte("GET / HTTP/1.1\r\n\r\n"), false)
	suite.writeAll(suite.connectAndDiscover())
	suite.session.HandleEvent(Notified{Handle: 0x26})
	suite.session.HandleEvent(ReadResp{Offset: 0, Data: bytes.Repeat([]byte{'a'}, DefaultPageSize)})

	effects := suite.session.HandleEvent(Disconnected{Reason: "supervision timeout"})
	suite.Require().Len(effects, 1)
	fail, ok := effects[0].(Fail)
	suite.Require().True(ok, "in-flight transfer MUST be reported as failed")
	suite.True(errors.Is(fail.Err, ErrAborted))

	suite.Equal(StateIdle, suite.session.State())
	suite.Equal(InvalidConn, suite.session.ConnID(), "conn id MUST return to the sentinel")
	suite.Equal(HandleSet{}, suite.session.Handles(), "handles MUST NOT survive the link")
	suite.Zero(suite.session.Reader().Len(), "partial body MUST be discarded")
	suite.Nil(suite.session.Transfer())

	suite.start([]byte("again"), false)
	suite.Equal(StateAdvertising, suite.session.State())
}

func (suite *SessionTestSuite) TestDisconnectFromEveryState() {
	// GOAL: Verify a disconnect in any pre-read state leaves nothing behind
	//
	// TEST SCENARIO: Drive to each state → disconnect → Aborted, sentinel conn id, empty
	// handles → the next transfer discovers from scratch

	request := bytes.Repeat([]byte{'r'}, 40)
	tests := []struct {
		name  string
		state State
		drive func()
	}{
		{
			name:  "advertising",
			state: StateAdvertising,
			drive: func() {},
		},
		{
			name:  "discovering",
			state: StateDiscovering,
			drive: func() {
				suite.session.HandleEvent(Connected{ConnID: 7, Peer: "gw"})
				suite.session.HandleEvent(ServicesFound{Ranges: []HandleRange{{Start: 0x20, End: 0x27}}})
			},
		},
		{
			name:  "writing",
			state: StateWriting,
			drive: func() {
				suite.connectAndDiscover()
				suite.session.HandleEvent(WriteAck{})
			},
		},
		{
			name:  "awaiting notify",
			state: StateAwaitingNotify,
			drive: func() {
				suite.writeAll(suite.connectAndDiscover())
			},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.session = NewSession(Options{}, suite.logger)
			suite.start(request, false)
			tt.drive()
			suite.Require().Equal(tt.state, suite.session.State())

			effects := suite.session.HandleEvent(Disconnected{Reason: "link lost"})
			suite.Require().Len(effects, 1)
			fail, ok := effects[0].(Fail)
			suite.Require().True(ok, "in-flight transfer MUST be reported as failed")
			suite.True(errors.Is(fail.Err, ErrAborted))

			suite.Equal(StateIdle, suite.session.State())
			suite.Equal(InvalidConn, suite.session.ConnID(), "conn id MUST return to the sentinel")
			suite.Equal(HandleSet{}, suite.session.Handles(), "handles MUST NOT survive the link")

			suite.start(request, false)
			first := suite.connectAndDiscover()
			suite.Equal(WriteRequest, first.Op, "fresh transfer MUST restart the write sequence")
			suite.Equal(uint16(0x27), first.Handle, "handles MUST come from the new discovery")
			suite.Equal(HandleSet{Control: 0x22, Body: 0x26, NotifyConfig: 0x27}, suite.session.Handles())
		})
	}
}

func (suite *SessionTestSuite) TestWriteRejectedStalls() {
	// GOAL: Verify a rejected write is reported and the session does not retry
	//
	// TEST SCENARIO: Reject the first prepare → Fail with WriteRejected → further acks and
	// notifications do nothing → disconnect returns to idle

	suite.start(bytes.Repeat([]byte{'q'}, 40), false)
	first := suite.connectAndDiscover()
	suite.Equal(WriteRequest, first.Op)

	effects := suite.session.HandleEvent(WriteAck{})
	suite.Require().Len(effects, 1)
	suite.Equal(WritePrepare, effects[0].(Write).Op)

	effects = suite.session.HandleEvent(WriteAck{Status: ble.ErrPrepQueueFull})
	suite.Require().Len(effects, 1, "rejected write MUST only report the failure")
	fail := effects[0].(Fail)
	suite.True(errors.Is(fail.Err, ErrWriteRejected))
	var terr *TransferError
	suite.Require().True(errors.As(fail.Err, &terr))
	suite.Equal("prepare", terr.Op, "error MUST name the rejected step")
	suite.Equal(ble.ErrPrepQueueFull, terr.Status)

	suite.Empty(suite.session.HandleEvent(WriteAck{}), "stalled session MUST NOT resume writing")
	suite.Empty(suite.session.HandleEvent(Notified{Handle: 0x26}))
	suite.Equal(StateWriting, suite.session.State())

	suite.Empty(suite.session.HandleEvent(Disconnected{Reason: "timeout"}), "failure MUST be reported once")
	suite.Equal(StateIdle, suite.session.State())
}

func (suite *SessionTestSuite) TestReadRejected() {
	suite.start([]byte("GET / HTTP/1.1\r\n\r\n"), false)
	suite.writeAll(suite.connectAndDiscover())
	suite.session.HandleEvent(Notified{Handle: 0x26})

	effects := suite.session.HandleEvent(ReadResp{Status: ble.ErrReadNotPerm})
	suite.Require().Len(effects, 1)
	suite.True(errors.Is(effects[0].(Fail).Err, ErrReadRejected))
	suite.Equal(StateReading, suite.session.State(), "session MUST stall in place")
}

func (suite *SessionTestSuite) TestStartWhileBusy() {
	suite.start([]byte("one"), false)
	_, err := suite.session.Start(Transfer{Request: []byte("two")})
	suite.ErrorIs(err, ErrBusy, "second transfer MUST be rejected, not queued")
}

func (suite *SessionTestSuite) TestIgnoredEvents() {
	// GOAL: Verify events that do not belong to the current state are ignored
	//
	// TEST SCENARIO: Duplicate connect, stray notification and unsolicited connect while
	// idle → no state corruption

	suite.Run("connect while idle", func() {
		s := NewSession(Options{}, suite.logger)
		suite.Equal([]Effect{Disconnect{}}, s.HandleEvent(Connected{ConnID: 3}),
			"link with no pending transfer MUST be released")
		suite.Equal(StateIdle, s.State())
	})

	suite.Run("duplicate connect", func() {
		s := NewSession(Options{}, suite.logger)
		_, err := s.Start(Transfer{Request: []byte("x")})
		suite.Require().NoError(err)
		s.HandleEvent(Connected{ConnID: 1})
		suite.Empty(s.HandleEvent(Connected{ConnID: 2}), "duplicate connect MUST be ignored")
		suite.Equal(uint16(1), s.ConnID())
	})

	suite.Run("notification on another handle", func() {
		suite.start([]byte("x"), false)
		suite.writeAll(suite.connectAndDiscover())
		suite.Empty(suite.session.HandleEvent(Notified{Handle: 0x99}))
		suite.Equal(StateAwaitingNotify, suite.session.State())
		suite.session.HandleEvent(Disconnected{})
	})
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
