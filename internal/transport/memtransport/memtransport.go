// Package memtransport is an in-process, channel-backed transport.Adapter
// used by the scenario tests in internal/dispatch and by anything that
// wants to drive the probe context without a network.
package memtransport

import (
	"context"
	"sync"

	"github.com/probed/probed/internal/transport"
	"github.com/probed/probed/internal/value"
)

// Reply is an observed outbound message, either a success payload or an
// error code, correlated to RID.
type Reply struct {
	RID     transport.RID
	Payload value.Value
	Err     transport.ErrorCode // empty on success
}

// Adapter is a transport.Adapter backed by Go channels. Tests push
// requests with Send and observe replies with Replies().
type Adapter struct {
	reqCh   chan *transport.Request
	replyCh chan Reply
	doneCh  chan struct{}

	mu     sync.Mutex
	closed bool
}

// New creates an Adapter with the given inbound request buffer size.
func New(buffer int) *Adapter {
	return &Adapter{
		reqCh:   make(chan *transport.Request, buffer),
		replyCh: make(chan Reply, buffer),
		doneCh:  make(chan struct{}),
	}
}

// Send enqueues a request as if it had arrived from the peer. Returns
// false if the adapter is closed. reqCh is never closed (only doneCh is),
// so a concurrent Close can never turn this into a send-on-closed-channel
// panic.
func (a *Adapter) Send(req *transport.Request) bool {
	select {
	case <-a.doneCh:
		return false
	default:
	}

	select {
	case a.reqCh <- req:
		return true
	case <-a.doneCh:
		return false
	}
}

// Replies returns the channel of observed outbound replies, for tests to
// drain.
func (a *Adapter) Replies() <-chan Reply {
	return a.replyCh
}

// Recv implements transport.Adapter. Buffered requests take priority over
// a pending Close: a request already queued before Close was called is
// still delivered, matching the buffered-channel drain semantics Close
// used to rely on when it closed reqCh directly.
func (a *Adapter) Recv(ctx context.Context) (*transport.Request, error) {
	select {
	case req := <-a.reqCh:
		return req, nil
	default:
	}

	select {
	case req := <-a.reqCh:
		return req, nil
	case <-a.doneCh:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply implements transport.Adapter.
func (a *Adapter) Reply(req *transport.Request, payload value.Value) error {
	a.replyCh <- Reply{RID: req.RID, Payload: payload}
	return nil
}

// ReplyError implements transport.Adapter.
func (a *Adapter) ReplyError(req *transport.Request, code transport.ErrorCode) error {
	a.replyCh <- Reply{RID: req.RID, Err: code}
	return nil
}

// Close implements transport.Adapter. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.doneCh)
	return nil
}
