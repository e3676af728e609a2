// Package tokenizer provides token counting and token-aware text splitting
// for context-occupancy policies and archival chunking. Counts are a
// best-effort control signal, not exact accounting.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Message is a role-tagged entry for chat-template token counting.
type Message struct {
	Role    string
	Content string
}

// Counter measures token occupancy and splits text on token boundaries.
type Counter interface {
	// Count returns the token count for a single text.
	Count(text string) int

	// CountMessages counts tokens in a chat message list, including the
	// per-message template overhead.
	CountMessages(messages []Message) int

	// Split cuts text into pieces of at most maxTokens tokens each.
	Split(text string, maxTokens int) []string
}

var (
	// Cache encodings to avoid repeated initialization
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// TiktokenCounter counts tokens with the encoding of a specific model.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// NewTiktokenCounter creates a counter for the given model, falling back to
// cl100k_base when the model has no registered encoding.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TiktokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TiktokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens in a message list, including role overhead.
// Based on the OpenAI chat-template counting format.
func (c *TiktokenCounter) CountMessages(messages []Message) int {
	tokensPerMessage := 3 // <|start|>role|message<|end|>

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(c.encoding.Encode(msg.Role, nil, nil))
		total += len(c.encoding.Encode(msg.Content, nil, nil))
	}

	// Every reply is primed with <|start|>assistant<|message|>
	total += 3

	return total
}

// Split cuts text into chunks of at most maxTokens tokens each.
func (c *TiktokenCounter) Split(text string, maxTokens int) []string {
	if maxTokens <= 0 || text == "" {
		return nil
	}

	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return []string{text}
	}

	chunks := make([]string, 0, len(tokens)/maxTokens+1)
	for start := 0; start < len(tokens); start += maxTokens {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, c.encoding.Decode(tokens[start:end]))
	}
	return chunks
}

// Model returns the model name this counter is configured for.
func (c *TiktokenCounter) Model() string {
	return c.model
}

// Estimator is a rough counter (4 chars per token, whitespace splitting)
// for callers that cannot reach a real encoding.
type Estimator struct{}

// Count estimates tokens as len(text)/4.
func (Estimator) Count(text string) int {
	return len(text) / 4
}

// CountMessages estimates with the same per-message overhead as the
// tiktoken counter.
func (e Estimator) CountMessages(messages []Message) int {
	total := 3
	for _, msg := range messages {
		total += 3 + e.Count(msg.Role) + e.Count(msg.Content)
	}
	return total
}

// Split cuts on word boundaries, approximating one word per token.
func (Estimator) Split(text string, maxTokens int) []string {
	if maxTokens <= 0 || text == "" {
		return nil
	}

	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return []string{text}
	}

	chunks := make([]string, 0, len(words)/maxTokens+1)
	for start := 0; start < len(words); start += maxTokens {
		end := start + maxTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}

var (
	_ Counter = (*TiktokenCounter)(nil)
	_ Counter = Estimator{}
)
