package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memkeep/memkeep/pkg/protocol"
	"github.com/memkeep/memkeep/pkg/store"
	"github.com/memkeep/memkeep/pkg/tokenizer"
	"github.com/memkeep/memkeep/pkg/vector"
)

// ArchivalHit is one similarity search result.
type ArchivalHit struct {
	Document string
	Category string
	Inserted string
}

// ArchivalStorage is the per-agent vector collection of categorized,
// chunked text fragments.
type ArchivalStorage struct {
	provider vector.Provider
	store    store.Store
	counter  tokenizer.Counter
	agentID  string
	chunkMax int
}

// NewArchivalStorage binds the archival tier to an agent's collection.
func NewArchivalStorage(p vector.Provider, s store.Store, counter tokenizer.Counter, agentID string, chunkMax int) *ArchivalStorage {
	return &ArchivalStorage{
		provider: p,
		store:    s,
		counter:  counter,
		agentID:  agentID,
		chunkMax: chunkMax,
	}
}

// CollectionName returns the vector collection key for an agent id.
func CollectionName(agentID string) string {
	return "agent_" + agentID
}

func (a *ArchivalStorage) collection() string {
	return CollectionName(a.agentID)
}

// Insert splits text into chunks of at most chunkMax tokens, tags each with
// the category and insertion time, and indexes them under fresh ids.
func (a *ArchivalStorage) Insert(ctx context.Context, text, category string) error {
	chunks := a.counter.Split(text, a.chunkMax)
	if len(chunks) == 0 {
		return fmt.Errorf("nothing to insert")
	}

	inserted := time.Now().Format(protocol.TimestampLayout)
	docs := make([]vector.Document, 0, len(chunks))
	for _, chunk := range chunks {
		docs = append(docs, vector.Document{
			ID:      uuid.NewString(),
			Content: chunk,
			Metadata: map[string]string{
				"category":    category,
				"inserted_at": inserted,
			},
		})
	}

	if err := a.provider.Add(ctx, a.collection(), docs); err != nil {
		return fmt.Errorf("failed to index archival chunks: %w", err)
	}

	return a.store.AddArchivalCategory(ctx, a.agentID, category)
}

// Search runs similarity search over the collection, optionally filtered by
// category, and slices the hits to [offset, offset+count).
func (a *ArchivalStorage) Search(ctx context.Context, query string, offset, count int, category string) ([]ArchivalHit, error) {
	if count <= 0 {
		return nil, nil
	}

	var where map[string]string
	if category != "" {
		where = map[string]string{"category": category}
	}

	results, err := a.provider.Query(ctx, a.collection(), query, offset+count, where)
	if err != nil {
		return nil, fmt.Errorf("archival search failed: %w", err)
	}

	if offset >= len(results) {
		return nil, nil
	}
	results = results[offset:]

	hits := make([]ArchivalHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, ArchivalHit{
			Document: r.Content,
			Category: r.Metadata["category"],
			Inserted: r.Metadata["inserted_at"],
		})
	}
	return hits, nil
}

// Categories returns the distinct category labels ever inserted.
func (a *ArchivalStorage) Categories(ctx context.Context) ([]string, error) {
	return a.store.ArchivalCategories(ctx, a.agentID)
}

// Len returns the number of indexed chunks.
func (a *ArchivalStorage) Len(ctx context.Context) (int, error) {
	return a.provider.Count(ctx, a.collection())
}
