package dispatch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blehttp/internal/envelope"
	"github.com/srg/blehttp/internal/link"
	"github.com/stretchr/testify/suite"
)

type ServerTestSuite struct {
	suite.Suite

	dir    string
	socket string
	cancel context.CancelFunc
	done   chan error
	hook   *test.Hook
}

func (suite *ServerTestSuite) SetupTest() {
	// unix socket paths are length limited; keep the directory short
	dir, err := os.MkdirTemp("", "bh")
	suite.Require().NoError(err)
	suite.dir = dir
	suite.socket = filepath.Join(dir, "d.sock")
}

func (suite *ServerTestSuite) TearDownTest() {
	if suite.cancel != nil {
		suite.cancel()
		suite.NoError(<-suite.done, "server MUST stop cleanly")
		suite.cancel = nil
	}
	_ = os.RemoveAll(suite.dir)
}

func (suite *ServerTestSuite) serve(sender Sender) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	suite.hook = test.NewLocal(logger)

	srv := NewServer(suite.socket, New(sender, logger), logger)
	ln, err := srv.Listen()
	suite.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	suite.cancel = cancel
	suite.done = make(chan error, 1)
	go func() { suite.done <- srv.Serve(ctx, ln) }()
}

func (suite *ServerTestSuite) post(msg []byte) (Ack, []byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Post(ctx, suite.socket, msg)
}

func (suite *ServerTestSuite) TestRoundTrip() {
	// GOAL: Verify a request posted over the socket comes back with the response body
	//
	// TEST SCENARIO: Post secure envelope → server acks → sender echoes → client gets body

	suite.serve(SenderFunc(func(ctx context.Context, payload []byte, secure bool) ([]byte, error) {
		if !secure {
			return nil, link.ErrAborted
		}
		return append([]byte("echo:"), payload...), nil
	}))

	msg, err := envelope.EncodeHTTP([]byte("GET /"), true)
	suite.Require().NoError(err)

	ack, body, err := suite.post(msg)
	suite.Require().NoError(err)
	suite.Equal(AckAccepted, ack)
	suite.Equal("echo:GET /", string(body))
}

func (suite *ServerTestSuite) TestRejectedOverSocket() {
	// GOAL: Verify a malformed message is acknowledged as rejected over the socket
	//
	// TEST SCENARIO: Post 2 bytes → AckRejected → no body, no error

	suite.serve(SenderFunc(func(ctx context.Context, payload []byte, secure bool) ([]byte, error) {
		suite.Fail("sender MUST NOT be called")
		return nil, nil
	}))

	ack, body, err := suite.post([]byte{0x01, 0x00})
	suite.NoError(err)
	suite.Equal(AckRejected, ack)
	suite.Nil(body)
}

func (suite *ServerTestSuite) TestTransferFailure() {
	suite.serve(SenderFunc(func(ctx context.Context, payload []byte, secure bool) ([]byte, error) {
		return nil, link.ErrAborted
	}))

	msg, err := envelope.EncodeHTTP([]byte("GET /"), false)
	suite.Require().NoError(err)

	ack, _, err := suite.post(msg)
	suite.Equal(AckAccepted, ack)
	suite.ErrorIs(err, ErrTransferFailed, "failed transfer MUST surface to the client")
	suite.Contains(err.Error(), "aborted")

	var tagged bool
	for _, e := range suite.hook.AllEntries() {
		if e.Message == "Transfer failed" && e.Data["goroutine"] == "dispatch-conn" {
			tagged = true
		}
	}
	suite.True(tagged, "failure MUST be logged with the connection goroutine name")
}

func (suite *ServerTestSuite) TestReplacesStaleSocket() {
	suite.Require().NoError(os.WriteFile(suite.socket, nil, 0o600))
	suite.serve(SenderFunc(func(ctx context.Context, payload []byte, secure bool) ([]byte, error) {
		return []byte("ok"), nil
	}))

	msg, err := envelope.EncodeHTTP(nil, false)
	suite.Require().NoError(err)
	_, body, err := suite.post(msg)
	suite.NoError(err)
	suite.Equal("ok", string(body))
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
