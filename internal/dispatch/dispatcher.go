// Package dispatch hands framed requests from local processes to the link.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehttp/internal/envelope"
	"github.com/srg/blehttp/internal/link"
)

// Sender runs one request over the link and returns the response body.
// The payload is borrowed for the duration of the call.
type Sender interface {
	Send(ctx context.Context, payload []byte, secure bool) ([]byte, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, payload []byte, secure bool) ([]byte, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, payload []byte, secure bool) ([]byte, error) {
	return f(ctx, payload, secure)
}

// Ack is the one-byte acknowledgement returned for every message.
type Ack byte

const (
	AckAccepted Ack = 0x00
	AckRejected Ack = 0x01
	AckIgnored  Ack = 0x02
	AckBusy     Ack = 0x03
)

func (a Ack) String() string {
	switch a {
	case AckAccepted:
		return "accepted"
	case AckRejected:
		return "rejected"
	case AckIgnored:
		return "ignored"
	case AckBusy:
		return "busy"
	default:
		return fmt.Sprintf("ack(0x%02x)", byte(a))
	}
}

// ErrIgnored is returned for well-formed messages of a type the dispatcher
// does not handle.
var ErrIgnored = errors.New("message type not handled")

// Dispatcher decodes envelopes and forwards HTTP payloads to a Sender, one at
// a time.
type Dispatcher struct {
	sender Sender
	logger *logrus.Logger
	busy   atomic.Bool
}

// New returns a Dispatcher forwarding to sender.
func New(sender Sender, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{sender: sender, logger: logger}
}

// Dispatch acknowledges msg through ack and, when it is an accepted HTTP
// message, runs it to completion. ack is called exactly once, before the
// transfer starts.
func (d *Dispatcher) Dispatch(ctx context.Context, msg []byte, ack func(Ack)) ([]byte, error) {
	h, payload, err := envelope.Decode(msg)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"bytes": len(msg),
			"error": err,
		}).Warn("Rejecting message")
		ack(AckRejected)
		return nil, err
	}

	if h.Type != envelope.TypeHTTP {
		d.logger.WithField("type", h.Type).Debug("Ignoring message")
		ack(AckIgnored)
		return nil, fmt.Errorf("%w: %s", ErrIgnored, h.Type)
	}

	if !d.busy.CompareAndSwap(false, true) {
		d.logger.Warn("Rejecting message, transfer in progress")
		ack(AckBusy)
		return nil, link.ErrBusy
	}
	defer d.busy.Store(false)

	d.logger.WithFields(logrus.Fields{
		"bytes": h.Length,
		"mode":  h.Mode,
	}).Info("Dispatching request")
	ack(AckAccepted)

	return d.sender.Send(ctx, payload, h.Secure())
}
