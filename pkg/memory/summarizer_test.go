package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkeep/memkeep/pkg/protocol"
)

const flushReply = "```yaml\n" +
	"analysis: the early turns covered greetings\n" +
	"summary: The user greeted the agent and asked about penguins.\n" +
	"```"

func TestFlushEvictsNonUserHead(t *testing.T) {
	mem, _ := newTestMemory(t, testConfig())
	ctx := context.Background()
	mem.SetSystemPrompt("prompt")

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindSystem, "startup notice")))
	for i := 0; i < 6; i++ {
		require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hello again")))
	}

	provider := &scriptedProvider{replies: []string{flushReply}}
	s := NewSummarizer(mem, provider, "condense", 3)

	require.NoError(t, s.Flush(ctx))

	// The system head goes; eviction stops at the first user turn because
	// the window is far under the target.
	n, err := mem.FIFO.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	head, err := mem.FIFO.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindUser, head.Kind)

	summary, _, err := mem.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "The user greeted the agent and asked about penguins.", summary)
	assert.Equal(t, 1, provider.callCount())
}

func TestFlushKeepsSummaryWhenNothingEvicts(t *testing.T) {
	mem, _ := newTestMemory(t, testConfig())
	ctx := context.Background()
	mem.SetSystemPrompt("prompt")

	for i := 0; i < 3; i++ {
		require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))
	}

	provider := &scriptedProvider{replies: []string{flushReply}}
	s := NewSummarizer(mem, provider, "condense", 3)

	require.NoError(t, s.Flush(ctx))

	summary, _, err := mem.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "The conversation has just begun.", summary)
	assert.Zero(t, provider.callCount())
}

func TestFlushRespectsQueueFloor(t *testing.T) {
	cfg := testConfig()
	cfg.CtxWindow = 1 // always over target
	mem, _ := newTestMemory(t, cfg)
	ctx := context.Background()
	mem.SetSystemPrompt("prompt")

	for i := 0; i < 7; i++ {
		require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "message")))
	}

	provider := &scriptedProvider{replies: []string{flushReply}}
	s := NewSummarizer(mem, provider, "condense", 3)

	require.NoError(t, s.Flush(ctx))

	// User turns never drop the queue below the floor.
	n, err := mem.FIFO.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.FIFOMin, n)
}

func TestFlushDropsTrailingNonUserPastFloor(t *testing.T) {
	cfg := testConfig()
	cfg.CtxWindow = 1
	cfg.FIFOMin = 3
	mem, _ := newTestMemory(t, cfg)
	ctx := context.Background()
	mem.SetSystemPrompt("prompt")

	// Assistant/function turns are droppable even at the floor.
	require.NoError(t, mem.PushMessage(ctx, assistantTurn("noop")))
	require.NoError(t, mem.PushMessage(ctx, protocol.NewFunctionResult(true, "ok")))
	require.NoError(t, mem.PushMessage(ctx, assistantTurn("noop")))

	provider := &scriptedProvider{replies: []string{flushReply}}
	s := NewSummarizer(mem, provider, "condense", 3)

	require.NoError(t, s.Flush(ctx))

	n, err := mem.FIFO.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlushRetriesMalformedSummary(t *testing.T) {
	mem, _ := newTestMemory(t, testConfig())
	ctx := context.Background()
	mem.SetSystemPrompt("prompt")

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindSystem, "notice")))
	for i := 0; i < 6; i++ {
		require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))
	}

	provider := &scriptedProvider{replies: []string{"no fences here", flushReply}}
	s := NewSummarizer(mem, provider, "condense", 3)

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 2, provider.callCount())

	summary, _, err := mem.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "The user greeted the agent and asked about penguins.", summary)
}

func TestFlushReportsCondenseFailure(t *testing.T) {
	mem, _ := newTestMemory(t, testConfig())
	ctx := context.Background()
	mem.SetSystemPrompt("prompt")

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindSystem, "notice")))
	for i := 0; i < 6; i++ {
		require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))
	}

	provider := &scriptedProvider{replies: []string{"still not yaml"}}
	s := NewSummarizer(mem, provider, "condense", 1)

	assert.Error(t, s.Flush(ctx))

	// The summary is untouched on failure; the caller retries next tick.
	summary, _, err := mem.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "The conversation has just begun.", summary)
}
