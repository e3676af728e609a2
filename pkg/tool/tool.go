// Package tool implements the function registry the model calls into each
// tick: a typed tool surface with generated argument schemas, a base set of
// memory operations and named optional sets composed per agent.
package tool

import (
	"context"

	"github.com/memkeep/memkeep/pkg/memory"
)

// Session is the worker-side surface a tool uses to reach the live user.
type Session interface {
	// SendToUser emits a user-visible message over the session channel.
	SendToUser(text string)
}

// Tool is one named, schema-validated operation the model may invoke.
type Tool interface {
	Name() string

	// Description is the LLM-facing summary of what the tool does.
	Description() string

	// Schema is the JSON schema of the arguments object.
	Schema() map[string]any

	// Execute runs the tool against the agent's memory. The returned value
	// becomes the function result payload; an error becomes a failed result.
	Execute(ctx context.Context, mem *memory.Memory, sess Session, args map[string]any) (any, error)
}
