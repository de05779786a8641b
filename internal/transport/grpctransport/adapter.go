// Package grpctransport implements transport.Adapter over a
// bidirectional-streaming gRPC method. There is no protoc-generated
// stub here: the wire message is structpb.Struct, a real proto.Message
// already implemented by google.golang.org/protobuf, hand-framed by
// frame.go instead of through generated marshal code — the generated
// novapb/agentpb packages the teacher's own gRPC layer depends on were
// not present in this repository's retrieval pack (see DESIGN.md).
package grpctransport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/probed/probed/internal/logging"
	"github.com/probed/probed/internal/observability"
	"github.com/probed/probed/internal/transport"
	"github.com/probed/probed/internal/value"
)

// probeServiceServer is the minimal handler-type interface the hand-rolled
// ServiceDesc registers against, standing in for a generated
// ProbeServiceServer interface.
type probeServiceServer interface {
	dispatchStream(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "probed.ProbeService",
	HandlerType: (*probeServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Dispatch",
			Handler:       dispatchHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "probed/dispatch",
}

func dispatchHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(probeServiceServer).dispatchStream(stream)
}

// Adapter is a transport.Adapter backed by a single bidi-streaming gRPC
// connection. It supports exactly one active stream at a time, matching
// the one-channel-per-probe-process model the dispatch core assumes.
type Adapter struct {
	reqCh chan *transport.Request

	sendMu sync.Mutex
	stream atomic.Pointer[grpc.ServerStream]

	closed atomic.Bool
	doneCh chan struct{}
}

// NewAdapter creates a grpc-backed Adapter with the given inbound request
// buffer size.
func NewAdapter(buffer int) *Adapter {
	return &Adapter{
		reqCh:  make(chan *transport.Request, buffer),
		doneCh: make(chan struct{}),
	}
}

// dispatchStream is invoked by gRPC for each Dispatch RPC. It pumps
// inbound frames into reqCh until the stream ends, then clears itself as
// the active stream.
func (a *Adapter) dispatchStream(stream grpc.ServerStream) error {
	_, span := observability.StartServerSpan(stream.Context(), "grpctransport.dispatch_stream")
	defer span.End()

	a.stream.Store(&stream)
	defer a.stream.Store(nil)

	for {
		msg := &structpb.Struct{}
		if err := stream.RecvMsg(msg); err != nil {
			if err != io.EOF {
				observability.SetSpanError(span, err)
			}
			return err
		}

		f, err := decodeFrame(msg)
		if err != nil {
			logging.Op().Warn("grpctransport: dropping malformed frame", "error", err)
			continue
		}
		if f.kind != frameRequest {
			logging.Op().Warn("grpctransport: unexpected frame kind from client", "kind", f.kind)
			continue
		}

		req := &transport.Request{RID: f.rid, Payload: f.payload}
		select {
		case a.reqCh <- req:
		case <-a.doneCh:
			return transport.ErrClosed
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

func (a *Adapter) send(f frame) error {
	streamPtr := a.stream.Load()
	if streamPtr == nil {
		return fmt.Errorf("grpctransport: no active stream")
	}

	msg, err := encodeFrame(f)
	if err != nil {
		return err
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return (*streamPtr).SendMsg(msg)
}

// Reply implements transport.Adapter.
func (a *Adapter) Reply(req *transport.Request, payload value.Value) error {
	return a.send(frame{rid: req.RID, kind: frameReply, payload: payload})
}

// ReplyError implements transport.Adapter.
func (a *Adapter) ReplyError(req *transport.Request, code transport.ErrorCode) error {
	return a.send(frame{rid: req.RID, kind: frameReplyError, errorCode: code})
}

// Close implements transport.Adapter. Idempotent.
func (a *Adapter) Close() error {
	if a.closed.CompareAndSwap(false, true) {
		close(a.doneCh)
	}
	return nil
}

// Server wraps a *grpc.Server hosting the Dispatch service on top of an
// Adapter, following the teacher's pattern of wrapping grpc.Server behind
// a small adapter-owning type (internal/grpc/server.go).
type Server struct {
	grpcServer *grpc.Server
	adapter    *Adapter
}

// NewServer constructs a Server that will dispatch through adapter.
func NewServer(adapter *Adapter) *Server {
	s := grpc.NewServer()
	s.RegisterService(&serviceDesc, adapter)
	return &Server{grpcServer: s, adapter: adapter}
}

// Start listens on addr and serves in the background. Serve errors are
// logged, not returned, matching the teacher's fire-and-forget
// go s.server.Serve(lis) pattern.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpctransport: listen %s: %w", addr, err)
	}

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			logging.Op().Error("grpctransport: serve exited", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
