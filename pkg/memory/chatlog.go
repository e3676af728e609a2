package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/memkeep/memkeep/pkg/protocol"
	"github.com/memkeep/memkeep/pkg/store"
)

// ChatEntry is one simplified user-visible turn: direct user inputs,
// direct assistant sends and system notices. Function results never
// appear here.
type ChatEntry struct {
	Kind      protocol.Kind
	Timestamp time.Time
	Content   string
}

// ChatLog is the linear transcript of user-visible turns.
type ChatLog struct {
	store   store.Store
	agentID string
}

// NewChatLog binds the chat log tier to an agent.
func NewChatLog(s store.Store, agentID string) *ChatLog {
	return &ChatLog{store: s, agentID: agentID}
}

// Push inserts a simplified turn.
func (c *ChatLog) Push(ctx context.Context, kind protocol.Kind, ts time.Time, text string) error {
	return c.store.AppendChatLog(ctx, store.ChatLogRecord{
		ID:        uuid.NewString(),
		AgentID:   c.agentID,
		Kind:      string(kind),
		Timestamp: ts,
		Content:   text,
	})
}

// RecentSearch returns turns containing q (case-insensitive), newest first.
// An empty q matches everything; pagination is the caller's concern.
func (c *ChatLog) RecentSearch(ctx context.Context, q string) ([]ChatEntry, error) {
	recs, err := c.store.SearchChatLog(ctx, c.agentID, q)
	if err != nil {
		return nil, err
	}
	return chatEntries(recs)
}

// DateSearch returns turns in the inclusive range, newest first.
func (c *ChatLog) DateSearch(ctx context.Context, start, end time.Time) ([]ChatEntry, error) {
	recs, err := c.store.SearchChatLogRange(ctx, c.agentID, start, end)
	if err != nil {
		return nil, err
	}
	return chatEntries(recs)
}

func chatEntries(recs []store.ChatLogRecord) ([]ChatEntry, error) {
	entries := make([]ChatEntry, 0, len(recs))
	for _, rec := range recs {
		kind, err := protocol.ParseKind(rec.Kind)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ChatEntry{Kind: kind, Timestamp: rec.Timestamp, Content: rec.Content})
	}
	return entries, nil
}
