package dispatch

import (
	"context"

	"github.com/probed/probed/internal/transport"
	"github.com/probed/probed/internal/value"
)

// EvalError is an evaluator-specific failure, carrying a wire error code
// passed through unchanged to the peer.
type EvalError struct {
	Code transport.ErrorCode
	Err  error
}

func (e *EvalError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Evaluator is the domain-specific collector/evaluator plug-in: a pure
// function mapping a request payload to a result payload or an
// *EvalError. The dispatch core treats it as an external collaborator
// referenced only by contract — it never inspects the payload itself
// beyond OID extraction.
type Evaluator func(ctx context.Context, oid OID, req value.Value) (value.Value, error)
