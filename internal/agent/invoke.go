// invoke.go centralizes the "bounded timeout + kill + fallback on any
// infrastructure failure" pattern so call sites declare their conservative
// default once instead of re-implementing the ladder.
package agent

import (
	"context"
	"fmt"
)

// Fallback wraps a call site's conservative default with the reason it
// was used, for logging.
type Fallback[T any] struct {
	Value  T
	Reason string
}

// Invoke runs the request and parses its output into a typed value. Every
// infrastructure failure — timeout, spawn error, agent-reported error,
// unparsable output — resolves to the call site's fallback with a synthetic
// reason; Invoke itself never returns an error.
func Invoke[T any](
	ctx context.Context,
	runner Runner,
	req Request,
	parse func(output string) (T, error),
	fallback T,
) (T, *Fallback[T]) {
	result, err := runner.Run(ctx, req)
	if err != nil {
		return fallback, &Fallback[T]{Value: fallback, Reason: fmt.Sprintf("agent invocation failed: %v", err)}
	}
	if result.IsError {
		return fallback, &Fallback[T]{Value: fallback, Reason: fmt.Sprintf("agent reported an error: %s", result.ErrMessage)}
	}

	parsed, err := parse(result.Output)
	if err != nil {
		return fallback, &Fallback[T]{Value: fallback, Reason: fmt.Sprintf("unparsable agent output: %v", err)}
	}
	return parsed, nil
}
