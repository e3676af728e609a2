// Package store provides the relational persistence adapters for agents,
// working context, the FIFO queue, recall storage and the chat log. The
// rest of the system depends on the Store interface, not on the engine.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrAgentNotFound reports a lookup for an unknown agent id.
var ErrAgentNotFound = errors.New("agent not found")

// AgentRecord is one row of the agents table.
type AgentRecord struct {
	ID                        string
	OptionalToolSets          []string
	CreatedAt                 time.Time
	RecursiveSummary          string
	RecursiveSummaryUpdatedAt time.Time

	// LastUserExitAt is zero until the first session ends.
	LastUserExitAt time.Time
}

// WorkingContextRecord is the persona and task state of one agent.
type WorkingContextRecord struct {
	AgentPersona string
	UserPersona  string
	Tasks        []string
}

// MessageRecord is one stored message of the FIFO queue or recall storage.
// Content holds the JSON-encoded content variant for the kind.
type MessageRecord struct {
	ID        string
	AgentID   string
	Kind      string
	Timestamp time.Time
	Content   []byte
}

// ChatLogRecord is one simplified user-visible turn.
type ChatLogRecord struct {
	ID        string
	AgentID   string
	Kind      string
	Timestamp time.Time
	Content   string
}

// Store is the relational persistence surface consumed by the memory tiers
// and the agent lifecycle operations.
type Store interface {
	// Agents. CreateAgent writes the agent row and its working context in
	// one transaction; DeleteAgent removes all per-agent rows.
	CreateAgent(ctx context.Context, agent AgentRecord, wc WorkingContextRecord) error
	DeleteAgent(ctx context.Context, agentID string) error
	GetAgent(ctx context.Context, agentID string) (*AgentRecord, error)
	ListAgents(ctx context.Context) ([]AgentRecord, error)
	UpdateRecursiveSummary(ctx context.Context, agentID, summary string, updatedAt time.Time) error
	UpdateLastUserExit(ctx context.Context, agentID string, at time.Time) error

	// Working context.
	GetWorkingContext(ctx context.Context, agentID string) (*WorkingContextRecord, error)
	SetPersonas(ctx context.Context, agentID, agentPersona, userPersona string) error
	SetTasks(ctx context.Context, agentID string, tasks []string) error

	// FIFO queue. Messages come back in (timestamp, insertion) order.
	AppendFIFO(ctx context.Context, rec MessageRecord) error
	FIFOMessages(ctx context.Context, agentID string) ([]MessageRecord, error)
	DeleteFIFOMessage(ctx context.Context, agentID, messageID string) error
	FIFOLen(ctx context.Context, agentID string) (int, error)

	// Recall storage. Searches cover user/assistant kinds only and come
	// back newest-first.
	AppendRecall(ctx context.Context, rec MessageRecord) error
	SearchRecallText(ctx context.Context, agentID, query string) ([]MessageRecord, error)
	SearchRecallRange(ctx context.Context, agentID string, start, end time.Time) ([]MessageRecord, error)
	RecallLen(ctx context.Context, agentID string) (int, error)

	// Chat log. An empty query matches everything; results newest-first.
	AppendChatLog(ctx context.Context, rec ChatLogRecord) error
	SearchChatLog(ctx context.Context, agentID, query string) ([]ChatLogRecord, error)
	SearchChatLogRange(ctx context.Context, agentID string, start, end time.Time) ([]ChatLogRecord, error)

	// Archival category bookkeeping (the vector engines cannot enumerate
	// metadata values cheaply).
	AddArchivalCategory(ctx context.Context, agentID, category string) error
	ArchivalCategories(ctx context.Context, agentID string) ([]string, error)

	Close() error
}
