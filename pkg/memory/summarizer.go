package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gopkg.in/yaml.v3"

	"github.com/memkeep/memkeep/pkg/llms"
	"github.com/memkeep/memkeep/pkg/protocol"
)

// Summarizer condenses the evicted FIFO prefix into the rolling recursive
// summary when the context overflows.
type Summarizer struct {
	mem      *Memory
	provider llms.Provider
	prompt   string
	maxTries int
}

// NewSummarizer builds a summarizer over mem using the given condensation
// prompt. maxTries bounds the LLM retry loop.
func NewSummarizer(mem *Memory, provider llms.Provider, prompt string, maxTries int) *Summarizer {
	return &Summarizer{mem: mem, provider: provider, prompt: prompt, maxTries: maxTries}
}

// flushResult is the YAML shape the condensation prompt asks for.
type flushResult struct {
	Analysis string `yaml:"analysis"`
	Summary  string `yaml:"summary"`
}

// Flush evicts the FIFO head region and folds it into the recursive
// summary. Eviction stops once the window is back under the target
// fraction and the head is a user turn, never dropping a user turn past
// the queue floor. Failure is recoverable; the caller retries next tick.
func (s *Summarizer) Flush(ctx context.Context) error {
	cfg := s.mem.Config()

	seed, err := s.mem.SummaryMessage(ctx)
	if err != nil {
		return err
	}
	seedWire, err := seed.Wire()
	if err != nil {
		return err
	}
	evicted := []string{seedWire}

	for {
		head, err := s.mem.FIFO.Peek(ctx)
		if errors.Is(err, ErrEmpty) {
			break
		}
		if err != nil {
			return err
		}

		length, err := s.mem.FIFO.Len(ctx)
		if err != nil {
			return err
		}
		inCtx, err := s.mem.InContextTokens(ctx)
		if err != nil {
			return err
		}

		overTarget := float64(inCtx) > cfg.FlushTgtFrac*float64(cfg.CtxWindow)
		headNonUser := head.Kind != protocol.KindUser
		headDroppable := head.Kind == protocol.KindAssistant || head.Kind == protocol.KindFunctionResult

		if !(overTarget || headNonUser) {
			break
		}
		if !(length > cfg.FIFOMin || headDroppable) {
			break
		}

		popped, err := s.mem.FIFO.Pop(ctx)
		if err != nil {
			return err
		}
		wire, err := popped.Wire()
		if err != nil {
			return err
		}
		evicted = append(evicted, wire)
	}

	if len(evicted) == 1 {
		slog.Debug("flush evicted nothing, keeping current summary", "agent", s.mem.AgentID())
		return nil
	}

	summary, err := s.condense(ctx, evicted)
	if err != nil {
		return fmt.Errorf("failed to condense evicted messages: %w", err)
	}

	if err := s.mem.SetSummary(ctx, summary); err != nil {
		return fmt.Errorf("failed to store summary: %w", err)
	}

	slog.Info("flushed FIFO prefix into recursive summary",
		"agent", s.mem.AgentID(), "evicted", len(evicted)-1)
	return nil
}

// condense calls the LLM on the eviction set and extracts the replacement
// summary, retrying with exponential backoff on backend or parse failure.
func (s *Summarizer) condense(ctx context.Context, evicted []string) (string, error) {
	msgs := []llms.ChatMessage{
		{Role: llms.RoleSystem, Content: s.prompt},
		{Role: llms.RoleUser, Content: strings.Join(evicted, "\n\n")},
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (string, error) {
		raw, err := s.provider.Chat(ctx, msgs)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(err)
			}
			return "", err
		}

		block, err := protocol.ExtractYAMLBlock(raw)
		if err != nil {
			return "", err
		}

		var res flushResult
		if err := yaml.Unmarshal([]byte(block), &res); err != nil {
			return "", fmt.Errorf("summary result does not parse: %w", err)
		}
		if strings.TrimSpace(res.Summary) == "" {
			return "", fmt.Errorf("summary result is empty")
		}
		return res.Summary, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(s.maxTries)))
}
