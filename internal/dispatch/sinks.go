package dispatch

import (
	"context"
	"time"

	"github.com/probed/probed/internal/transport"
)

// EvalRecord is the unit written to the audit sink: a write-only
// observability record of one completed evaluation. Distinct from
// CacheEntry — the audit sink is not a read path and carries no cache
// invariant obligations.
type EvalRecord struct {
	OID        OID
	RID        transport.RID
	Outcome    string // "ok" or "error"
	ErrorCode  transport.ErrorCode
	DurationMs int64
	StartedAt  time.Time
}

// AuditSink records completed evaluations for observability. Failures
// are logged by the caller and never block or fail the dispatch
// contract.
type AuditSink interface {
	Record(ctx context.Context, rec EvalRecord) error
}

// ArtifactSink uploads oversized result payloads out of band, returning
// a pointer value the worker replies with instead of the inline payload.
type ArtifactSink interface {
	Put(ctx context.Context, oid OID, data []byte) (pointer string, err error)
}

// NoopAuditSink discards every record. Used when audit is disabled.
type NoopAuditSink struct{}

func (NoopAuditSink) Record(ctx context.Context, rec EvalRecord) error { return nil }

// NoopArtifactSink never stores anything: Put always fails with an
// "artifact sink disabled" error, so the worker falls back to the inline
// payload. Used when the artifact sink is disabled.
type NoopArtifactSink struct{}

func (NoopArtifactSink) Put(ctx context.Context, oid OID, data []byte) (string, error) {
	return "", errArtifactsDisabled
}

var errArtifactsDisabled = &disabledError{"artifact sink disabled"}

type disabledError struct{ msg string }

func (e *disabledError) Error() string { return e.msg }
