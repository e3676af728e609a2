// Package memory implements the hierarchical memory tiers of an agent:
// working context, FIFO queue, recall storage, chat log and archival
// storage, plus the facade that assembles the LLM context from them.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memkeep/memkeep/pkg/config"
	"github.com/memkeep/memkeep/pkg/llms"
	"github.com/memkeep/memkeep/pkg/protocol"
	"github.com/memkeep/memkeep/pkg/store"
	"github.com/memkeep/memkeep/pkg/tokenizer"
	"github.com/memkeep/memkeep/pkg/vector"
)

// Memory is the per-agent facade over all tiers. A worker owns one Memory
// for the duration of a run; the facade itself adds no locking.
type Memory struct {
	agentID string

	Working  *WorkingContext
	FIFO     *FIFOQueue
	Recall   *RecallStorage
	ChatLog  *ChatLog
	Archival *ArchivalStorage

	store   store.Store
	counter tokenizer.Counter
	cfg     *config.MemoryConfig

	systemPrompt string
	toolSchemas  string
	inConvo      bool
}

// New wires the tiers of one agent together.
func New(s store.Store, vp vector.Provider, counter tokenizer.Counter, cfg *config.MemoryConfig, agentID string) *Memory {
	return &Memory{
		agentID:  agentID,
		Working:  NewWorkingContext(s, agentID, cfg.PersonaMaxWords),
		FIFO:     NewFIFOQueue(s, agentID),
		Recall:   NewRecallStorage(s, agentID),
		ChatLog:  NewChatLog(s, agentID),
		Archival: NewArchivalStorage(vp, s, counter, agentID, cfg.ChunkMaxTokens),
		store:    s,
		counter:  counter,
		cfg:      cfg,
	}
}

// AgentID returns the owning agent id.
func (m *Memory) AgentID() string {
	return m.agentID
}

// Config returns the memory tuning parameters.
func (m *Memory) Config() *config.MemoryConfig {
	return m.cfg
}

// SetSystemPrompt installs the static prefix of the system entry.
func (m *Memory) SetSystemPrompt(prompt string) {
	m.systemPrompt = prompt
}

// SetToolSchemas installs the rendered schema block of the worker's registry.
func (m *Memory) SetToolSchemas(schemas string) {
	m.toolSchemas = schemas
}

// SetInConvo marks whether a user session is currently attached.
func (m *Memory) SetInConvo(v bool) {
	m.inConvo = v
}

// InConvo reports whether a user session is currently attached.
func (m *Memory) InConvo() bool {
	return m.inConvo
}

// PushMessage appends a message to the FIFO queue and mirrors it to recall
// storage. User and system turns also land in the chat log as plain text.
// Assistant turns and function results stay out: the chat log holds only
// what the user saw, and send_message records its own text when it fires.
func (m *Memory) PushMessage(ctx context.Context, msg protocol.Message) error {
	if err := m.FIFO.Push(ctx, msg); err != nil {
		return fmt.Errorf("failed to push to FIFO: %w", err)
	}
	if err := m.Recall.Push(ctx, msg); err != nil {
		return fmt.Errorf("failed to mirror to recall: %w", err)
	}

	switch msg.Kind {
	case protocol.KindUser, protocol.KindSystem:
		if err := m.ChatLog.Push(ctx, msg.Kind, msg.Timestamp, msg.Text()); err != nil {
			return fmt.Errorf("failed to push to chat log: %w", err)
		}
	}

	return nil
}

// Summary returns the current recursive summary and its update time.
func (m *Memory) Summary(ctx context.Context) (string, time.Time, error) {
	agent, err := m.store.GetAgent(ctx, m.agentID)
	if err != nil {
		return "", time.Time{}, err
	}
	return agent.RecursiveSummary, agent.RecursiveSummaryUpdatedAt, nil
}

// SetSummary replaces the recursive summary whole and advances its
// update time to now.
func (m *Memory) SetSummary(ctx context.Context, summary string) error {
	return m.store.UpdateRecursiveSummary(ctx, m.agentID, summary, time.Now())
}

// SummaryMessage renders the current summary as a system-kind message
// stamped with the summary's update time.
func (m *Memory) SummaryMessage(ctx context.Context) (protocol.Message, error) {
	summary, updatedAt, err := m.Summary(ctx)
	if err != nil {
		return protocol.Message{}, err
	}
	return protocol.Message{
		Kind:      protocol.KindSystem,
		Timestamp: updatedAt,
		Content:   protocol.TextContent{Message: "Recursive summary of the conversation so far: " + summary},
	}, nil
}

// SystemPrompt assembles the full system entry: the static prompt followed
// by the live memory-status block and the tool schemas.
func (m *Memory) SystemPrompt(ctx context.Context) (string, error) {
	working, err := m.Working.Render(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to render working context: %w", err)
	}

	archivalLen, err := m.Archival.Len(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read archival size: %w", err)
	}
	categories, err := m.Archival.Categories(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read archival categories: %w", err)
	}

	fifoLen, err := m.FIFO.Len(ctx)
	if err != nil {
		return "", err
	}
	recallLen, err := m.Recall.Len(ctx)
	if err != nil {
		return "", err
	}

	categoryList := "(none)"
	if len(categories) > 0 {
		categoryList = strings.Join(categories, ", ")
	}

	status := fmt.Sprintf(`# Memory Information

## Working Context

%s

## Archival Storage

%d chunks stored under categories: %s

## Conversation Status

%d messages in the live window; %d messages total in recall storage.

# Function Schemas

%s`, working, archivalLen, categoryList, fifoLen, recallLen, m.toolSchemas)

	return m.systemPrompt + "\n\n" + status, nil
}

// BuildContext assembles the role-tagged LLM context: one system entry,
// then the summary message and the FIFO window serialized to the wire
// format and role-translated. Runs of consecutive non-assistant messages
// fold into a single user entry; each assistant message stands alone.
func (m *Memory) BuildContext(ctx context.Context) ([]llms.ChatMessage, error) {
	system, err := m.SystemPrompt(ctx)
	if err != nil {
		return nil, err
	}

	summaryMsg, err := m.SummaryMessage(ctx)
	if err != nil {
		return nil, err
	}

	window, err := m.FIFO.Messages(ctx)
	if err != nil {
		return nil, err
	}

	entries := []llms.ChatMessage{{Role: llms.RoleSystem, Content: system}}

	var userRun []string
	for _, msg := range append([]protocol.Message{summaryMsg}, window...) {
		wire, err := msg.Wire()
		if err != nil {
			return nil, err
		}

		if msg.ChatRole() == llms.RoleUser {
			userRun = append(userRun, wire)
			continue
		}

		entries = append(entries,
			llms.ChatMessage{Role: llms.RoleUser, Content: strings.Join(userRun, "\n\n")},
			llms.ChatMessage{Role: llms.RoleAssistant, Content: wire},
		)
		userRun = nil
	}

	if len(userRun) > 0 {
		entries = append(entries, llms.ChatMessage{Role: llms.RoleUser, Content: strings.Join(userRun, "\n\n")})
	}

	return entries, nil
}

// InContextTokens measures the assembled context with the chat template
// overhead. Best effort; used only by control policies.
func (m *Memory) InContextTokens(ctx context.Context) (int, error) {
	entries, err := m.BuildContext(ctx)
	if err != nil {
		return 0, err
	}

	msgs := make([]tokenizer.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, tokenizer.Message{Role: e.Role, Content: e.Content})
	}
	return m.counter.CountMessages(msgs), nil
}
