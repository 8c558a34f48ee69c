// Package tools defines the calling contract between the agent
// execution engine and the functions an agent may invoke. The engine
// dispatches by name and feeds results back to the model, so a tool
// failure is data, not a turn-ending error.
package tools

import (
	"context"
	"fmt"
)

// Func executes one tool call with the model-provided arguments.
type Func func(ctx context.Context, args map[string]any) (Result, error)

// Result is what the model sees back after a tool call.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Ok builds a successful result carrying data.
func Ok(data map[string]any) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failed result with a message for the model.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Unknown is the result for a call naming a tool the agent does not
// have. Returned to the model instead of failing the turn.
func Unknown(name string) Result {
	return Fail("unknown tool %q", name)
}
