package memory

import (
	"context"
	"time"

	"github.com/memkeep/memkeep/pkg/protocol"
	"github.com/memkeep/memkeep/pkg/store"
)

// RecallStorage is the full, never-evicted conversation archive.
type RecallStorage struct {
	store   store.Store
	agentID string
}

// NewRecallStorage binds the recall tier to an agent.
func NewRecallStorage(s store.Store, agentID string) *RecallStorage {
	return &RecallStorage{store: s, agentID: agentID}
}

// Push inserts a message. Nothing is ever removed from this tier.
func (r *RecallStorage) Push(ctx context.Context, m protocol.Message) error {
	rec, err := toRecord(r.agentID, m)
	if err != nil {
		return err
	}
	return r.store.AppendRecall(ctx, rec)
}

// TextSearch returns user/assistant messages whose serialized content
// contains q, case-insensitive, newest first.
func (r *RecallStorage) TextSearch(ctx context.Context, q string) ([]protocol.Message, error) {
	recs, err := r.store.SearchRecallText(ctx, r.agentID, q)
	if err != nil {
		return nil, err
	}
	return decodeRecords(recs)
}

// DateSearch returns user/assistant messages in the inclusive range,
// newest first.
func (r *RecallStorage) DateSearch(ctx context.Context, start, end time.Time) ([]protocol.Message, error) {
	recs, err := r.store.SearchRecallRange(ctx, r.agentID, start, end)
	if err != nil {
		return nil, err
	}
	return decodeRecords(recs)
}

// Len returns the total number of archived messages.
func (r *RecallStorage) Len(ctx context.Context) (int, error) {
	return r.store.RecallLen(ctx, r.agentID)
}
