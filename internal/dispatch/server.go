package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehttp/internal/envelope"
	"github.com/srg/blehttp/internal/groutine"
)

// Result bytes follow an AckAccepted once the transfer finishes.
const (
	ResultOK     byte = 0x00
	ResultFailed byte = 0x01
)

// maxMessage bounds what the server reads from one connection.
const maxMessage = envelope.HeaderSize + envelope.MaxPayload

// DefaultReadTimeout bounds how long a client may take to send its message.
const DefaultReadTimeout = 5 * time.Second

// Server accepts envelopes over a unix stream socket.
//
// A client writes one message and half-closes. The server answers with one Ack
// byte; accepted messages are followed by a result byte and either the response
// body or the error text, then the connection is closed.
type Server struct {
	path        string
	dispatcher  *Dispatcher
	logger      *logrus.Logger
	ReadTimeout time.Duration

	group groutine.Group
}

// NewServer returns a Server listening on path once started.
func NewServer(path string, d *Dispatcher, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		path:        path,
		dispatcher:  d,
		logger:      logger,
		ReadTimeout: DefaultReadTimeout,
	}
}

// Listen creates the socket, replacing a stale one left by a previous run.
func (s *Server) Listen() (net.Listener, error) {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", s.path, err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.path, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is done, then waits for in-flight
// connections to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	groutine.Go(ctx, "dispatch-listener-closer", func(ctx context.Context) {
		<-ctx.Done()
		_ = ln.Close()
	})
	defer s.group.Wait()

	s.logger.WithField("socket", s.path).Info("Dispatcher listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Dispatcher stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.group.Go(ctx, "dispatch-conn", func(ctx context.Context) {
			s.handle(ctx, conn)
		})
	}
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := s.logger.WithField("goroutine", groutine.GetName(ctx))

	if s.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	}
	msg, err := io.ReadAll(io.LimitReader(conn, maxMessage))
	if err != nil {
		logger.WithError(err).Warn("Reading message failed")
		return
	}

	var (
		acked    Ack
		writeErr error
	)
	ack := func(a Ack) {
		acked = a
		_, writeErr = conn.Write([]byte{byte(a)})
	}
	body, err := s.dispatcher.Dispatch(ctx, msg, ack)
	if writeErr != nil {
		logger.WithError(writeErr).Warn("Acknowledging message failed")
		return
	}
	if acked != AckAccepted {
		return
	}

	if err != nil {
		logger.WithError(err).Error("Transfer failed")
		_, writeErr = conn.Write(append([]byte{ResultFailed}, err.Error()...))
	} else {
		_, writeErr = conn.Write(append([]byte{ResultOK}, body...))
	}
	if writeErr != nil {
		logger.WithError(writeErr).Warn("Writing result failed")
	}
}
