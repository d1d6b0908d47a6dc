// Package scripting builds operation lists from user-provided JavaScript.
// Scripts declare work through a `job` object; they never touch documents
// directly, so a script cannot bypass the pipeline's atomicity rules.
package scripting

import (
	"context"
	"errors"

	"pdfsuite/pipeline"
)

// ErrScript wraps script evaluation failures.
var ErrScript = errors.New("scripting: script failed")

// Engine evaluates a script and returns the operations it declared, in
// declaration order.
type Engine interface {
	BuildOperations(ctx context.Context, script string) ([]pipeline.Operation, error)
}
