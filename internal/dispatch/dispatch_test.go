package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probed/probed/internal/transport"
	"github.com/probed/probed/internal/transport/memtransport"
	"github.com/probed/probed/internal/value"
)

// countingEvaluator returns payload {"evaluated_id": oid} after an
// optional artificial delay, and counts invocations.
func countingEvaluator(delay time.Duration) (Evaluator, *atomic.Int64) {
	var calls atomic.Int64
	eval := func(ctx context.Context, oid OID, req value.Value) (value.Value, error) {
		calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return value.Map(map[string]value.Value{
			"evaluated_id": value.String(string(oid)),
		}), nil
	}
	return eval, &calls
}

func req(rid uint32, id string) *transport.Request {
	payload := value.Null
	if id != "" {
		payload = value.Map(map[string]value.Value{"id": value.String(id)})
	} else {
		payload = value.Map(map[string]value.Value{})
	}
	return &transport.Request{RID: transport.RID(rid), Payload: payload}
}

func runContext(t *testing.T, eval Evaluator) (*Context, *memtransport.Adapter, func()) {
	t.Helper()
	adapter := memtransport.New(16)
	dc := NewContext(adapter, eval)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		dc.Run(ctx)
		close(runDone)
	}()

	stop := func() {
		cancel()
		<-runDone
	}
	return dc, adapter, stop
}

func drainReply(t *testing.T, adapter *memtransport.Adapter) memtransport.Reply {
	t.Helper()
	select {
	case r := <-adapter.Replies():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return memtransport.Reply{}
	}
}

func TestScenarioS1_CacheMissThenHit(t *testing.T) {
	eval, calls := countingEvaluator(0)
	dc, adapter, stop := runContext(t, eval)
	defer stop()

	adapter.Send(req(1, "A"))
	r1 := drainReply(t, adapter)
	require.Equal(t, transport.RID(1), r1.RID)
	require.Empty(t, r1.Err)

	adapter.Send(req(2, "A"))
	r2 := drainReply(t, adapter)
	require.Equal(t, transport.RID(2), r2.RID)
	require.Empty(t, r2.Err)

	assert.Equal(t, r1.Payload, r2.Payload)
	assert.EqualValues(t, 1, calls.Load())

	_, ok := dc.Cache().Get(OID("A"))
	assert.True(t, ok)
}

func TestScenarioS2_TwoConcurrentDistinctOIDs(t *testing.T) {
	eval, calls := countingEvaluator(50 * time.Millisecond)
	dc, adapter, stop := runContext(t, eval)
	defer stop()

	adapter.Send(req(1, "A"))
	adapter.Send(req(2, "B"))

	seen := map[transport.RID]bool{}
	for i := 0; i < 2; i++ {
		r := drainReply(t, adapter)
		seen[r.RID] = true
	}
	assert.True(t, seen[1])
	assert.True(t, seen[2])
	assert.EqualValues(t, 2, calls.Load())

	_, okA := dc.Cache().Get(OID("A"))
	_, okB := dc.Cache().Get(OID("B"))
	assert.True(t, okA)
	assert.True(t, okB)
}

func TestScenarioS3_MissingID(t *testing.T) {
	eval, calls := countingEvaluator(0)
	dc, adapter, stop := runContext(t, eval)
	defer stop()

	adapter.Send(req(7, ""))
	r := drainReply(t, adapter)

	assert.Equal(t, transport.RID(7), r.RID)
	assert.Equal(t, transport.ENoAttr, r.Err)
	assert.EqualValues(t, 0, calls.Load())
	assert.Equal(t, 0, dc.Registry().Len())
	assert.Equal(t, 0, dc.Cache().Len())
}

func TestScenarioS4_SameRIDDuplicate(t *testing.T) {
	eval, calls := countingEvaluator(100 * time.Millisecond)
	dc, adapter, stop := runContext(t, eval)
	defer stop()

	adapter.Send(req(5, "A"))
	time.Sleep(10 * time.Millisecond) // ensure the first worker has registered
	adapter.Send(req(5, "A"))

	r := drainReply(t, adapter)
	assert.Equal(t, transport.RID(5), r.RID)

	select {
	case extra := <-adapter.Replies():
		t.Fatalf("unexpected second reply: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}

	assert.EqualValues(t, 1, calls.Load())
}

func TestScenarioS5_EvaluatorFailure(t *testing.T) {
	evalErr := &EvalError{Code: "E_EVAL"}
	eval := func(ctx context.Context, oid OID, payload value.Value) (value.Value, error) {
		return value.Null, evalErr
	}
	dc, adapter, stop := runContext(t, eval)
	defer stop()

	adapter.Send(req(9, "X"))
	r := drainReply(t, adapter)

	assert.Equal(t, transport.RID(9), r.RID)
	assert.Equal(t, transport.ErrorCode("E_EVAL"), r.Err)

	_, ok := dc.Cache().Get(OID("X"))
	assert.False(t, ok)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, dc.Registry().Len())
}

func TestScenarioS6_TransportRecvFailure(t *testing.T) {
	eval, _ := countingEvaluator(100 * time.Millisecond)
	adapter := memtransport.New(16)
	dc := NewContext(adapter, eval)

	ctx := context.Background()
	runDone := make(chan struct{})
	go func() {
		dc.Run(ctx)
		close(runDone)
	}()

	adapter.Send(req(1, "A"))
	time.Sleep(10 * time.Millisecond)
	adapter.Close()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("input loop did not exit after transport close")
	}

	r := drainReply(t, adapter)
	assert.Equal(t, transport.RID(1), r.RID)
}

func TestRegistryDoubleInsertRejected(t *testing.T) {
	reg := NewRegistry()
	h1 := &WorkerHandle{RID: 1}
	h2 := &WorkerHandle{RID: 1}

	assert.True(t, reg.TryInsert(1, h1))
	assert.False(t, reg.TryInsert(1, h2))
	assert.Equal(t, 1, reg.Len())

	reg.Remove(1)
	assert.Equal(t, 0, reg.Len())
	assert.True(t, reg.TryInsert(1, h2))
}

func TestCacheConcurrentInsertFirstWriterWins(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Insert(OID("A"), value.Int(int64(n)))
		}(i)
	}
	wg.Wait()

	v, ok := c.Get(OID("A"))
	require.True(t, ok)

	// Every subsequent read must observe the same winner.
	for i := 0; i < 10; i++ {
		v2, ok2 := c.Get(OID("A"))
		require.True(t, ok2)
		assert.Equal(t, v, v2)
	}
	assert.Equal(t, 1, c.Len())
	snap := c.Snapshot()
	assert.Contains(t, snap, OID("A"))
}

func TestBarrierRendezvous(t *testing.T) {
	const parties = 5
	b := NewBarrier(parties)

	var arrived atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < parties; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Arrive()
			arrived.Add(1)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier did not release all parties")
	}
	assert.EqualValues(t, parties, arrived.Load())
}

func TestShutdownDrainsWorkers(t *testing.T) {
	releaseCh := make(chan struct{})
	eval := func(ctx context.Context, oid OID, payload value.Value) (value.Value, error) {
		<-releaseCh
		return value.Map(map[string]value.Value{"ok": value.Bool(true)}), nil
	}

	adapter := memtransport.New(16)
	dc := NewContext(adapter, eval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dc.Run(ctx)

	adapter.Send(req(1, "A"))
	time.Sleep(20 * time.Millisecond) // let the worker register

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		shutdownDone <- dc.Shutdown(shutdownCtx)
	}()

	time.Sleep(50 * time.Millisecond)
	close(releaseCh)

	select {
	case err := <-shutdownDone:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete after worker finished")
	}
}

func TestShutdownTimesOutIfWorkerHangs(t *testing.T) {
	block := make(chan struct{})
	eval := func(ctx context.Context, oid OID, payload value.Value) (value.Value, error) {
		<-block
		return value.Null, nil
	}
	defer close(block)

	adapter := memtransport.New(16)
	dc := NewContext(adapter, eval)

	go dc.Run(context.Background())
	adapter.Send(req(1, "A"))
	time.Sleep(20 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := dc.Shutdown(shutdownCtx)
	assert.Error(t, err)
}
