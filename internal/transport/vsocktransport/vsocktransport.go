// Package vsocktransport implements transport.Adapter over a length-
// prefixed JSON framing on a net.Conn (AF_VSOCK when available, a Unix
// domain socket fallback otherwise). Framing is grounded directly in the
// teacher's cmd/agent/main.go readMessage/writeMessage and
// internal/firecracker/vsock.go sendLocked/receiveLocked: a 4-byte
// big-endian length prefix followed by a JSON body.
package vsocktransport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/probed/probed/internal/logging"
	"github.com/probed/probed/internal/observability"
	"github.com/probed/probed/internal/transport"
	"github.com/probed/probed/internal/value"
)

// frameKind tags a wire message's meaning.
type frameKind string

const (
	frameRequest    frameKind = "req"
	frameReply      frameKind = "reply"
	frameReplyError frameKind = "reply_error"
)

type wireFrame struct {
	Kind      frameKind                  `json:"kind"`
	RID       transport.RID              `json:"rid"`
	Payload   value.Value                `json:"payload,omitempty"`
	ErrorCode string                     `json:"error_code,omitempty"`
	Trace     observability.TraceContext `json:"trace,omitempty"`
}

func writeFrame(conn net.Conn, f wireFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("vsocktransport: marshal frame: %w", err)
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := conn.Write(lenBuf); err != nil {
		return fmt.Errorf("vsocktransport: write length prefix: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("vsocktransport: write frame body: %w", err)
	}
	return nil
}

func readFrame(conn net.Conn) (wireFrame, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return wireFrame{}, err
	}

	data := make([]byte, binary.BigEndian.Uint32(lenBuf))
	if _, err := io.ReadFull(conn, data); err != nil {
		return wireFrame{}, err
	}

	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return wireFrame{}, fmt.Errorf("vsocktransport: unmarshal frame: %w", err)
	}
	return f, nil
}

// Adapter is a transport.Adapter over a single accepted net.Conn.
type Adapter struct {
	conn net.Conn

	sendMu sync.Mutex

	reqCh  chan *transport.Request
	doneCh chan struct{}
	once   sync.Once
}

// New wraps an already-accepted connection and starts its read loop.
func New(conn net.Conn) *Adapter {
	a := &Adapter{
		conn:   conn,
		reqCh:  make(chan *transport.Request, 16),
		doneCh: make(chan struct{}),
	}
	go a.readLoop()
	return a
}

func (a *Adapter) readLoop() {
	defer a.Close()
	for {
		f, err := readFrame(a.conn)
		if err != nil {
			if err != io.EOF {
				logging.Op().Warn("vsocktransport: read failed, closing connection", "error", err)
			}
			return
		}
		if f.Kind != frameRequest {
			logging.Op().Warn("vsocktransport: unexpected frame kind from peer", "kind", f.Kind)
			continue
		}

		reqCtx := observability.InjectTraceContext(context.Background(), f.Trace)
		req := &transport.Request{RID: f.RID, Payload: f.Payload, Ctx: reqCtx}
		select {
		case a.reqCh <- req:
		case <-a.doneCh:
			return
		}
	}
}

// Recv implements transport.Adapter.
func (a *Adapter) Recv(ctx context.Context) (*transport.Request, error) {
	select {
	case req, ok := <-a.reqCh:
		if !ok {
			return nil, transport.ErrClosed
		}
		return req, nil
	case <-a.doneCh:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply implements transport.Adapter. The reply frame echoes back req's
// trace context so the peer can correlate it with the originating span.
func (a *Adapter) Reply(req *transport.Request, payload value.Value) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return writeFrame(a.conn, wireFrame{Kind: frameReply, RID: req.RID, Payload: payload, Trace: requestTrace(req)})
}

// ReplyError implements transport.Adapter.
func (a *Adapter) ReplyError(req *transport.Request, code transport.ErrorCode) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return writeFrame(a.conn, wireFrame{Kind: frameReplyError, RID: req.RID, ErrorCode: string(code), Trace: requestTrace(req)})
}

func requestTrace(req *transport.Request) observability.TraceContext {
	if req.Ctx == nil {
		return observability.TraceContext{}
	}
	return observability.ExtractTraceContext(req.Ctx)
}

// Close implements transport.Adapter. Idempotent.
func (a *Adapter) Close() error {
	var err error
	a.once.Do(func() {
		close(a.doneCh)
		err = a.conn.Close()
	})
	return err
}

// Accept blocks until listener accepts a single connection and returns
// an Adapter wrapping it, matching the dispatch core's
// single-channel-per-process model.
func Accept(listener net.Listener) (*Adapter, error) {
	conn, err := listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("vsocktransport: accept: %w", err)
	}
	return New(conn), nil
}
