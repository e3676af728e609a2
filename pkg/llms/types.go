// Package llms provides the chat backend surface consumed by the heartbeat
// loop and the summarizer: an OpenAI-compatible provider plus a failover
// chain that tries each configured backend and model in order.
package llms

import (
	"context"
	"errors"
)

// Chat roles recognized by the backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one role-tagged entry of an LLM request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a single chat backend for a single model.
type Provider interface {
	// Chat performs a non-streaming chat completion and returns the raw
	// assistant text. An empty completion is an error.
	Chat(ctx context.Context, messages []ChatMessage) (string, error)

	// ModelName returns the model this provider targets.
	ModelName() string

	Close() error
}

// ErrAllBackendsFailed reports that every backend and model in the chain
// failed for one call.
var ErrAllBackendsFailed = errors.New("all LLM backends failed")
