package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/memkeep/memkeep/pkg/protocol"
	"github.com/memkeep/memkeep/pkg/store"
)

// FIFOQueue is the bounded in-context message window. Appends go to the
// tail; the summarizer evicts from the head.
type FIFOQueue struct {
	store   store.Store
	agentID string
}

// NewFIFOQueue binds the queue tier to an agent.
func NewFIFOQueue(s store.Store, agentID string) *FIFOQueue {
	return &FIFOQueue{store: s, agentID: agentID}
}

// Push appends a message with a fresh id.
func (q *FIFOQueue) Push(ctx context.Context, m protocol.Message) error {
	rec, err := toRecord(q.agentID, m)
	if err != nil {
		return err
	}
	return q.store.AppendFIFO(ctx, rec)
}

// Peek returns the oldest message without removing it.
func (q *FIFOQueue) Peek(ctx context.Context) (protocol.Message, error) {
	recs, err := q.store.FIFOMessages(ctx, q.agentID)
	if err != nil {
		return protocol.Message{}, err
	}
	if len(recs) == 0 {
		return protocol.Message{}, ErrEmpty
	}
	return fromRecord(recs[0])
}

// Pop removes and returns the oldest message.
func (q *FIFOQueue) Pop(ctx context.Context) (protocol.Message, error) {
	recs, err := q.store.FIFOMessages(ctx, q.agentID)
	if err != nil {
		return protocol.Message{}, err
	}
	if len(recs) == 0 {
		return protocol.Message{}, ErrEmpty
	}

	m, err := fromRecord(recs[0])
	if err != nil {
		return protocol.Message{}, err
	}
	if err := q.store.DeleteFIFOMessage(ctx, q.agentID, recs[0].ID); err != nil {
		return protocol.Message{}, err
	}
	return m, nil
}

// Len returns the queue length.
func (q *FIFOQueue) Len(ctx context.Context) (int, error) {
	return q.store.FIFOLen(ctx, q.agentID)
}

// Messages returns the full window in timestamp order.
func (q *FIFOQueue) Messages(ctx context.Context) ([]protocol.Message, error) {
	recs, err := q.store.FIFOMessages(ctx, q.agentID)
	if err != nil {
		return nil, err
	}
	return decodeRecords(recs)
}

func toRecord(agentID string, m protocol.Message) (store.MessageRecord, error) {
	content, err := protocol.EncodeContent(m.Content)
	if err != nil {
		return store.MessageRecord{}, err
	}
	return store.MessageRecord{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Kind:      string(m.Kind),
		Timestamp: m.Timestamp,
		Content:   content,
	}, nil
}

func fromRecord(rec store.MessageRecord) (protocol.Message, error) {
	kind, err := protocol.ParseKind(rec.Kind)
	if err != nil {
		return protocol.Message{}, err
	}
	content, err := protocol.DecodeContent(kind, rec.Content)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("failed to decode stored message %s: %w", rec.ID, err)
	}
	return protocol.Message{Kind: kind, Timestamp: rec.Timestamp, Content: content}, nil
}

func decodeRecords(recs []store.MessageRecord) ([]protocol.Message, error) {
	msgs := make([]protocol.Message, 0, len(recs))
	for _, rec := range recs {
		m, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
