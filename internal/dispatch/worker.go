package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/probed/probed/internal/logging"
	"github.com/probed/probed/internal/metrics"
	"github.com/probed/probed/internal/observability"
	"github.com/probed/probed/internal/transport"
	"github.com/probed/probed/internal/value"
)

// runWorker is the one-shot evaluation task spawned per cache-miss
// request. It is a detached goroutine: the input loop never joins it.
// On every path it removes its own registry entry and lets the request
// go out of scope, matching spec.md §4.D's lifecycle exactly.
func (c *Context) runWorker(handle *WorkerHandle, oid OID) {
	defer c.workers.Done()
	defer c.registry.Remove(handle.RID)

	req := handle.Request
	started := time.Now()

	parentCtx := context.Background()
	if req.Ctx != nil {
		parentCtx = req.Ctx
	}
	ctx, span := observability.StartSpan(parentCtx, "dispatch.worker.evaluate",
		observability.AttrOID.String(string(oid)),
		observability.AttrRID.String(ridString(handle.RID)),
	)
	defer span.End()

	log := logging.OpWithTrace(observability.GetTraceID(ctx), observability.GetSpanID(ctx))

	result, err := c.evaluator(ctx, oid, req.Payload)
	durationMs := time.Since(started).Milliseconds()

	if err != nil {
		code := transport.ErrorCode("E_EVAL")
		if evalErr, ok := err.(*EvalError); ok && evalErr.Code != "" {
			code = evalErr.Code
		}
		observability.SetSpanError(span, err)
		span.SetAttributes(
			observability.AttrOutcome.String("error"),
			observability.AttrErrorCode.String(string(code)),
			observability.AttrFromCache.Bool(false),
			observability.AttrDurationMs.Int64(durationMs),
		)

		if replyErr := c.transport.ReplyError(req, code); replyErr != nil {
			log.Error("worker: reply_error failed, retiring anyway", "rid", handle.RID, "error", replyErr)
		}
		metrics.RecordReply("error", string(code), float64(durationMs))
		c.recordAudit(ctx, oid, handle.RID, "error", code, durationMs, started)
		c.logEval(ctx, handle.RID, oid, durationMs, false, string(code), err.Error(), false)
		return
	}

	c.cache.Insert(oid, result)
	outPayload := c.maybeOffloadArtifact(ctx, oid, result)

	if replyErr := c.transport.Reply(req, outPayload); replyErr != nil {
		log.Error("worker: reply failed, retiring anyway", "rid", handle.RID, "error", replyErr)
	}
	observability.SetSpanOK(span)
	span.SetAttributes(
		observability.AttrOutcome.String("ok"),
		observability.AttrFromCache.Bool(false),
		observability.AttrDurationMs.Int64(durationMs),
	)
	metrics.RecordReply("ok", "", float64(durationMs))
	c.recordAudit(ctx, oid, handle.RID, "ok", "", durationMs, started)
	c.logEval(ctx, handle.RID, oid, durationMs, true, "", "", false)
}

func (c *Context) recordAudit(ctx context.Context, oid OID, rid transport.RID, outcome string, code transport.ErrorCode, durationMs int64, started time.Time) {
	rec := EvalRecord{
		OID:        oid,
		RID:        rid,
		Outcome:    outcome,
		ErrorCode:  code,
		DurationMs: durationMs,
		StartedAt:  started,
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.auditSink.Record(writeCtx, rec); err != nil {
		metrics.RecordAuditWriteError()
		logging.OpWithTrace(observability.GetTraceID(ctx), observability.GetSpanID(ctx)).
			Warn("worker: audit write failed", "oid", oid, "rid", rid, "error", err)
	}
}

// maybeOffloadArtifact uploads result via the artifact sink if it
// exceeds the configured inline threshold, replying with a pointer value
// instead. Any failure falls back to the inline payload.
func (c *Context) maybeOffloadArtifact(ctx context.Context, oid OID, result value.Value) value.Value {
	if c.inlineThresholdBytes <= 0 {
		return result
	}

	data, err := result.MarshalJSON()
	if err != nil || int64(len(data)) <= c.inlineThresholdBytes {
		return result
	}

	pointer, err := c.artifactSink.Put(ctx, oid, data)
	if err != nil {
		metrics.RecordArtifactUpload(false)
		logging.OpWithTrace(observability.GetTraceID(ctx), observability.GetSpanID(ctx)).
			Warn("worker: artifact upload failed, falling back to inline reply", "oid", oid, "error", err)
		return result
	}

	metrics.RecordArtifactUpload(true)
	return value.Map(map[string]value.Value{
		"artifact_pointer": value.String(pointer),
	})
}

func (c *Context) logEval(ctx context.Context, rid transport.RID, oid OID, durationMs int64, success bool, errorCode, errMsg string, fromCache bool) {
	logging.Default().Log(&logging.EvalLog{
		RID:        ridString(rid),
		OID:        string(oid),
		TraceID:    observability.GetTraceID(ctx),
		SpanID:     observability.GetSpanID(ctx),
		DurationMs: durationMs,
		Success:    success,
		ErrorCode:  errorCode,
		Error:      errMsg,
		FromCache:  fromCache,
	})
}

func ridString(rid transport.RID) string {
	return strconv.FormatUint(uint64(rid), 10)
}
