// Package evaluator provides a minimal built-in Evaluator for running
// probed standalone. The real collector/evaluator plug-in that produces
// OVAL result objects is an external collaborator referenced only by
// contract (spec.md §1 Out of scope); Echo exists so cmd/probed has a
// working default instead of requiring every deployment to supply one.
package evaluator

import (
	"context"
	"time"

	"github.com/probed/probed/internal/dispatch"
	"github.com/probed/probed/internal/value"
)

// Echo returns a result payload that mirrors the request's attributes
// plus the oid and an evaluation timestamp. It never fails.
func Echo(ctx context.Context, oid dispatch.OID, req value.Value) (value.Value, error) {
	fields := map[string]value.Value{
		"oid":          value.String(string(oid)),
		"evaluated_at": value.String(time.Now().UTC().Format(time.RFC3339)),
	}
	if req.Kind == value.KindMap {
		for k, v := range req.Map {
			if _, exists := fields[k]; !exists {
				fields[k] = v
			}
		}
	}
	return value.Map(fields), nil
}
