// Package transport defines the Adapter contract the dispatch core
// receives requests from and replies through. It is deliberately
// transport-agnostic: memtransport, grpctransport, and vsocktransport
// all satisfy the same interface.
package transport

import (
	"context"
	"errors"

	"github.com/probed/probed/internal/value"
)

// RID is the request identifier assigned by the transport. It correlates
// a reply with its originating request and is unique among requests
// concurrently in flight on one channel.
type RID uint32

// ErrorCode is a small tagged error code sent on the wire in a ReplyError.
type ErrorCode string

// Error codes emitted by the dispatch core itself. Evaluator-specific
// codes are passed through unchanged.
const (
	ENoAttr  ErrorCode = "E_NO_ATTR"
	EUnknown ErrorCode = "E_UNKNOWN"
)

// Request is an inbound evaluation request.
type Request struct {
	RID     RID
	Payload value.Value

	// Ctx is the request's originating context, e.g. trace context
	// extracted from the wire by an adapter that carries one. Nil unless
	// the adapter populates it; callers must fall back to
	// context.Background() rather than assume it is set.
	Ctx context.Context
}

// ErrClosed is returned by Recv once the adapter has been closed, either
// by the peer disconnecting or by Shutdown closing the transport to
// unblock the input loop.
var ErrClosed = errors.New("transport: closed")

// Adapter is the contract between the message transport and the dispatch
// core. Recv is the input loop's sole suspension point and is
// single-consumer. Reply and ReplyError are multi-producer — called
// concurrently from worker goroutines — so implementations must
// serialize their own writes internally.
type Adapter interface {
	// Recv blocks until the next request arrives, ctx is cancelled, or
	// the adapter is closed. It is the only cancellation point in the
	// dispatch core's input loop.
	Recv(ctx context.Context) (*Request, error)

	// Reply sends a successful result correlated to req's RID.
	Reply(req *Request, payload value.Value) error

	// ReplyError sends an error correlated to req's RID.
	ReplyError(req *Request, code ErrorCode) error

	// Close unblocks any pending Recv with ErrClosed and releases the
	// adapter's resources. Idempotent.
	Close() error
}
