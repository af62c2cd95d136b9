package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehttp/internal/groutine"
	"github.com/srg/blehttp/internal/link"
)

// maxRequestSize bounds a reassembled request; it matches the envelope length field.
const maxRequestSize = 0xFFFF

// ReadyMessage is the notification value sent once a response body is stored.
var ReadyMessage = []byte("ready!")

// Notifier delivers a notification to a subscribed peer.
type Notifier func(value []byte)

// Options configures a Gateway. Zero values select the defaults.
type Options struct {
	PageSize    int
	BodyLimit   int
	HTTPTimeout time.Duration
}

// Gateway is the peer side of the link. It reassembles prepared requests,
// executes them over HTTP(S) and serves the response bodies in pages.
//
// State is kept per peer address. Callbacks for different peers may run
// concurrently; a single peer is expected to be served serially.
type Gateway struct {
	logger *logrus.Logger
	client *http.Client
	opts   Options

	queues    *hashmap.Map[string, *PrepareQueue]
	bodies    *hashmap.Map[string, []byte]
	notifiers *hashmap.Map[string, Notifier]
}

// New returns a Gateway using client for outbound requests (http.DefaultClient
// semantics with opts.HTTPTimeout when nil).
func New(client *http.Client, opts Options, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = link.DefaultPageSize
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = link.DefaultBodyCapacity
	}
	if client == nil {
		client = &http.Client{Timeout: opts.HTTPTimeout}
	}
	return &Gateway{
		logger:    logger,
		client:    client,
		opts:      opts,
		queues:    hashmap.New[string, *PrepareQueue](),
		bodies:    hashmap.New[string, []byte](),
		notifiers: hashmap.New[string, Notifier](),
	}
}

// PageSize returns the number of bytes served per read.
func (g *Gateway) PageSize() int { return g.opts.PageSize }

// Prepare queues a fragment written to handle at offset by peer.
func (g *Gateway) Prepare(peer string, handle uint16, offset int, data []byte) error {
	if control, _ := IsControl(handle); !control {
		return fmt.Errorf("%w: handle 0x%04x is not writable", ErrInvalidHandle, handle)
	}
	q, _ := g.queues.GetOrInsert(peer, NewPrepareQueue(maxRequestSize))
	if err := q.Prepare(handle, offset, data); err != nil {
		return err
	}
	g.logger.WithFields(logrus.Fields{
		"peer":   peer,
		"handle": fmt.Sprintf("0x%04x", handle),
		"offset": offset,
		"len":    len(data),
	}).Debug("Prepared write queued")
	return nil
}

// Commit applies (flags == link.ExecuteCommit) or cancels the prepared writes
// of peer. Applied values are returned in handle order for the caller to hand
// to HandleRequest.
func (g *Gateway) Commit(peer string, flags byte) []Value {
	q, ok := g.queues.Get(peer)
	if !ok {
		return nil
	}
	if flags != link.ExecuteCommit {
		q.Cancel()
		g.logger.WithField("peer", peer).Debug("Prepared writes cancelled")
		return nil
	}
	return q.Commit()
}

// Write hands a complete request written to a control characteristic to
// HandleRequest in the background, so the write is acknowledged before the
// peer is notified. ctx bounds the request.
func (g *Gateway) Write(ctx context.Context, peer string, handle uint16, data []byte) error {
	control, secure := IsControl(handle)
	if !control {
		return fmt.Errorf("%w: handle 0x%04x is not writable", ErrInvalidHandle, handle)
	}
	groutine.Go(ctx, "gateway-request", func(ctx context.Context) {
		_ = g.HandleRequest(ctx, peer, data, secure)
	})
	return nil
}

// Subscribe registers the notifier for peer's body characteristic.
func (g *Gateway) Subscribe(peer string, n Notifier) {
	g.notifiers.Set(peer, n)
}

// Unsubscribe removes peer's notifier.
func (g *Gateway) Unsubscribe(peer string) {
	g.notifiers.Del(peer)
}

// Subscribed reports whether peer has a notifier registered.
func (g *Gateway) Subscribed(peer string) bool {
	_, ok := g.notifiers.Get(peer)
	return ok
}

// Forget drops everything held for peer.
func (g *Gateway) Forget(peer string) {
	g.queues.Del(peer)
	g.bodies.Del(peer)
	g.notifiers.Del(peer)
}

// ReadBody returns at most PageSize bytes of peer's body starting at offset.
// An offset at or past the end yields an empty page.
func (g *Gateway) ReadBody(peer string, offset int) []byte {
	return g.ReadBodyAt(peer, offset, g.opts.PageSize)
}

// ReadBodyAt is ReadBody with the page bounded by limit instead of PageSize.
// A non-positive limit selects PageSize.
func (g *Gateway) ReadBodyAt(peer string, offset, limit int) []byte {
	if limit <= 0 {
		limit = g.opts.PageSize
	}
	body, _ := g.bodies.Get(peer)
	return page(body, offset, limit)
}

// Body returns the full stored body of peer.
func (g *Gateway) Body(peer string) ([]byte, bool) {
	return g.bodies.Get(peer)
}

// HandleRequest executes raw as an HTTP request on behalf of peer, stores the
// response body and notifies the peer.
func (g *Gateway) HandleRequest(ctx context.Context, peer string, raw []byte, secure bool) error {
	logger := g.logger.WithFields(logrus.Fields{
		"peer":   peer,
		"secure": secure,
	})

	req, err := ParseRequest(raw, secure)
	if err != nil {
		logger.WithError(err).Warn("Dropping request")
		return err
	}
	req = req.WithContext(ctx)
	logger = logger.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})
	logger.Info("Forwarding request")

	resp, err := g.client.Do(req)
	if err != nil {
		logger.WithError(err).Error("Request failed")
		return fmt.Errorf("request %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(g.opts.BodyLimit)))
	if err != nil {
		logger.WithError(err).Error("Reading response body failed")
		return fmt.Errorf("read response body: %w", err)
	}

	fields := logrus.Fields{"status": resp.StatusCode, "bytes": len(body)}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.WithFields(fields).Warn("Non-success response, storing body anyway")
	} else {
		logger.WithFields(fields).Info("Response stored")
	}

	g.bodies.Set(peer, body)
	if n, ok := g.notifiers.Get(peer); ok && n != nil {
		n(ReadyMessage)
	} else {
		logger.Debug("Peer not subscribed, body held until read")
	}
	return nil
}

func page(body []byte, offset, size int) []byte {
	if offset < 0 || offset >= len(body) {
		return []byte{}
	}
	end := offset + size
	if end > len(body) {
		end = len(body)
	}
	out := make([]byte, end-offset)
	copy(out, body[offset:end])
	return out
}
