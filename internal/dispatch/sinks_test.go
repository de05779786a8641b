package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probed/probed/internal/transport"
	"github.com/probed/probed/internal/transport/memtransport"
	"github.com/probed/probed/internal/value"
)

type recordingAuditSink struct {
	mu      sync.Mutex
	records []EvalRecord
	err     error
}

func (s *recordingAuditSink) Record(ctx context.Context, rec EvalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingAuditSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type failingArtifactSink struct {
	calls atomic64
}

type atomic64 struct {
	mu sync.Mutex
	n  int
}

func (a *atomic64) inc() {
	a.mu.Lock()
	a.n++
	a.mu.Unlock()
}

func (a *atomic64) load() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func (s *failingArtifactSink) Put(ctx context.Context, oid OID, data []byte) (string, error) {
	s.calls.inc()
	return "", errors.New("upload failed")
}

type recordingArtifactSink struct {
	pointer string
	calls   atomic64
}

func (s *recordingArtifactSink) Put(ctx context.Context, oid OID, data []byte) (string, error) {
	s.calls.inc()
	return s.pointer, nil
}

func TestWorkerAuditFailureDoesNotBlockReply(t *testing.T) {
	audit := &recordingAuditSink{err: errors.New("db unreachable")}
	eval, _ := countingEvaluator(0)

	adapter := memtransport.New(16)
	dc := NewContext(adapter, eval, WithAuditSink(audit))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dc.Run(ctx)

	adapter.Send(req(1, "A"))
	r := drainReply(t, adapter)

	assert.Equal(t, transport.RID(1), r.RID)
	assert.Empty(t, r.Err)
	// The worker records the audit entry after it replies.
	assert.Eventually(t, func() bool { return audit.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWorkerRecordsAuditOnEvaluatorFailure(t *testing.T) {
	audit := &recordingAuditSink{}
	evalErr := &EvalError{Code: "E_EVAL"}
	eval := func(ctx context.Context, oid OID, payload value.Value) (value.Value, error) {
		return value.Null, evalErr
	}

	adapter := memtransport.New(16)
	dc := NewContext(adapter, eval, WithAuditSink(audit))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dc.Run(ctx)

	adapter.Send(req(1, "A"))
	drainReply(t, adapter)

	require.Eventually(t, func() bool { return audit.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "error", audit.records[0].Outcome)
	assert.Equal(t, transport.ErrorCode("E_EVAL"), audit.records[0].ErrorCode)
}

func TestArtifactOffloadBelowThresholdStaysInline(t *testing.T) {
	artifacts := &recordingArtifactSink{pointer: "s3://bucket/key"}
	eval, _ := countingEvaluator(0)

	adapter := memtransport.New(16)
	dc := NewContext(adapter, eval, WithArtifactSink(artifacts, 1<<20))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dc.Run(ctx)

	adapter.Send(req(1, "A"))
	r := drainReply(t, adapter)

	assert.Empty(t, r.Err)
	_, isPointer := r.Payload.GetAttribute("artifact_pointer")
	assert.False(t, isPointer)
	assert.Equal(t, 0, artifacts.calls.load())
}

func TestArtifactOffloadAboveThresholdUsesPointer(t *testing.T) {
	artifacts := &recordingArtifactSink{pointer: "s3://bucket/big"}
	eval := func(ctx context.Context, oid OID, payload value.Value) (value.Value, error) {
		fields := map[string]value.Value{}
		for i := 0; i < 50; i++ {
			fields[fmt.Sprintf("f%d", i)] = value.String("padding-padding-padding-padding")
		}
		return value.Map(fields), nil
	}

	adapter := memtransport.New(16)
	dc := NewContext(adapter, eval, WithArtifactSink(artifacts, 64))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dc.Run(ctx)

	adapter.Send(req(1, "A"))
	r := drainReply(t, adapter)

	assert.Empty(t, r.Err)
	pointer, ok := r.Payload.GetAttribute("artifact_pointer")
	require.True(t, ok)
	s, _ := pointer.AsString()
	assert.Equal(t, "s3://bucket/big", s)
	assert.Equal(t, 1, artifacts.calls.load())
}

func TestArtifactOffloadFallsBackInlineOnUploadFailure(t *testing.T) {
	artifacts := &failingArtifactSink{}
	eval := func(ctx context.Context, oid OID, payload value.Value) (value.Value, error) {
		fields := map[string]value.Value{}
		for i := 0; i < 50; i++ {
			fields[fmt.Sprintf("f%d", i)] = value.String("padding-padding-padding-padding")
		}
		return value.Map(fields), nil
	}

	adapter := memtransport.New(16)
	dc := NewContext(adapter, eval, WithArtifactSink(artifacts, 64))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dc.Run(ctx)

	adapter.Send(req(1, "A"))
	r := drainReply(t, adapter)

	assert.Empty(t, r.Err)
	_, isPointer := r.Payload.GetAttribute("artifact_pointer")
	assert.False(t, isPointer)
	assert.Equal(t, 1, artifacts.calls.load())
}

func TestNoopSinksAreSafeDefaults(t *testing.T) {
	var audit AuditSink = NoopAuditSink{}
	require.NoError(t, audit.Record(context.Background(), EvalRecord{}))

	var artifacts ArtifactSink = NoopArtifactSink{}
	_, err := artifacts.Put(context.Background(), OID("A"), []byte("x"))
	assert.Error(t, err)
}
