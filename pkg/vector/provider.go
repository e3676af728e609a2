// Package vector provides the archival vector store backends. A provider
// owns an embedder and exposes text-level add and query operations over
// named collections.
package vector

import (
	"context"
	"fmt"

	"github.com/memkeep/memkeep/pkg/config"
	"github.com/memkeep/memkeep/pkg/embedder"
)

// Document is one archival chunk to index.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Result is one similarity search hit.
type Result struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// Provider is a vector search backend over named collections.
type Provider interface {
	// CreateCollection ensures the collection exists.
	CreateCollection(ctx context.Context, collection string) error

	// DeleteCollection removes the collection and all its documents.
	DeleteCollection(ctx context.Context, collection string) error

	// Add embeds and indexes the documents.
	Add(ctx context.Context, collection string, docs []Document) error

	// Query embeds text and returns up to topK hits, most similar first.
	// A non-empty where filters on exact metadata values.
	Query(ctx context.Context, collection, text string, topK int, where map[string]string) ([]Result, error)

	// Count returns the number of documents in the collection.
	Count(ctx context.Context, collection string) (int, error)

	Name() string
	Close() error
}

// NewProvider builds the configured provider backed by emb.
func NewProvider(cfg *config.VectorConfig, emb embedder.Embedder) (Provider, error) {
	switch cfg.Provider {
	case "chromem":
		return NewChromemProvider(ChromemConfig{PersistPath: cfg.ChromemPath}, emb)
	case "qdrant":
		return NewQdrantProvider(QdrantConfig{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey,
			UseTLS: cfg.QdrantUseTLS,
		}, emb)
	default:
		return nil, fmt.Errorf("unsupported vector provider: %s (supported: chromem, qdrant)", cfg.Provider)
	}
}
