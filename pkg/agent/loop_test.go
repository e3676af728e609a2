package agent

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkeep/memkeep/pkg/config"
	"github.com/memkeep/memkeep/pkg/llms"
	"github.com/memkeep/memkeep/pkg/memory"
	"github.com/memkeep/memkeep/pkg/protocol"
	"github.com/memkeep/memkeep/pkg/store"
	"github.com/memkeep/memkeep/pkg/tokenizer"
	"github.com/memkeep/memkeep/pkg/tool"
	"github.com/memkeep/memkeep/pkg/vector"
)

// scriptedProvider returns canned completions in order, repeating the last.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (p *scriptedProvider) Chat(_ context.Context, _ []llms.ChatMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if len(p.replies) == 0 {
		return "", fmt.Errorf("no scripted reply")
	}
	reply := p.replies[0]
	if len(p.replies) > 1 {
		p.replies = p.replies[1:]
	}
	return reply, nil
}

func (p *scriptedProvider) ModelName() string { return "scripted" }
func (p *scriptedProvider) Close() error      { return nil }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// nullVector satisfies vector.Provider with empty results.
type nullVector struct{}

func (nullVector) CreateCollection(context.Context, string) error        { return nil }
func (nullVector) DeleteCollection(context.Context, string) error       { return nil }
func (nullVector) Add(context.Context, string, []vector.Document) error { return nil }
func (nullVector) Query(context.Context, string, string, int, map[string]string) ([]vector.Result, error) {
	return nil, nil
}
func (nullVector) Count(context.Context, string) (int, error) { return 0, nil }
func (nullVector) Name() string                               { return "null" }
func (nullVector) Close() error                               { return nil }

// turnYAML renders a canned assistant reply selecting the given tool.
func turnYAML(name string, args map[string]string, heartbeat bool) string {
	var b strings.Builder
	b.WriteString("```yaml\nemotions:\n  - [steady, 5]\nthoughts:\n  - scripted\nfunction_call:\n")
	fmt.Fprintf(&b, "  name: %s\n  arguments:\n", name)
	if len(args) == 0 {
		b.WriteString("    {}\n")
	}
	for k, v := range args {
		fmt.Fprintf(&b, "    %s: %q\n", k, v)
	}
	fmt.Fprintf(&b, "  do_heartbeat: %t\n```", heartbeat)
	return b.String()
}

const flushYAML = "```yaml\nanalysis: early turns condensed\nsummary: The user said hello.\n```"

func testMemoryConfig() config.MemoryConfig {
	return config.MemoryConfig{
		CtxWindow:       1000000,
		WarnFrac:        0.8,
		FlushFrac:       0.95,
		FlushTgtFrac:    0.6,
		FIFOMin:         5,
		OverthinkN:      10,
		ChunkMaxTokens:  128,
		PersonaMaxWords: 100,
		PageSize:        10,
		ChatLogPageSize: 10,
	}
}

func newTestWorker(t *testing.T, provider llms.Provider, cfg *config.MemoryConfig, inConvo bool) (*Worker, *memory.Memory) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	st, err := store.NewSQLStore(db, "sqlite")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.CreateAgent(context.Background(),
		store.AgentRecord{
			ID:                        "a1",
			CreatedAt:                 time.Now(),
			RecursiveSummary:          "The conversation has just begun.",
			RecursiveSummaryUpdatedAt: time.Now(),
		},
		store.WorkingContextRecord{AgentPersona: "Friendly helper.", UserPersona: "", Tasks: []string{}},
	))

	mem := memory.New(st, nullVector{}, tokenizer.Estimator{}, cfg, "a1")
	mem.SetInConvo(inConvo)

	registry, err := tool.ForAgent(nil, tool.Deps{})
	require.NoError(t, err)

	w, err := NewWorker(mem, registry, provider, 3)
	require.NoError(t, err)
	return w, mem
}

func collectEvents(w *Worker) []Event {
	var events []Event
	for e := range w.Events() {
		events = append(events, e)
	}
	return events
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestRunSendMessageThenHalt(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		turnYAML("send_message", map[string]string{"message": "Hello! Nice to meet you."}, false),
	}}

	cfg := testMemoryConfig()
	w, mem := newTestWorker(t, provider, &cfg, true)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))

	w.Run(ctx)
	events := collectEvents(w)

	toUser := eventsOfType(events, EventToUser)
	require.Len(t, toUser, 1)
	assert.Equal(t, "Hello! Nice to meet you.", toUser[0].Payload)

	halts := eventsOfType(events, EventHalt)
	assert.Len(t, halts, 1)
	assert.Equal(t, EventHalt, events[len(events)-1].Type)

	assert.Equal(t, 1, provider.callCount())

	// The assistant turn and its result both land in the window.
	msgs, err := mem.FIFO.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, protocol.KindAssistant, msgs[1].Kind)
	assert.Equal(t, protocol.KindFunctionResult, msgs[2].Kind)
	assert.True(t, msgs[2].Content.(protocol.FunctionResultContent).Success)
}

func TestRunUnknownToolForcesHeartbeat(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		turnYAML("does_not_exist", nil, false),
		turnYAML("noop", nil, false),
	}}

	cfg := testMemoryConfig()
	w, mem := newTestWorker(t, provider, &cfg, true)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))

	w.Run(ctx)
	events := collectEvents(w)

	// The failed dispatch forces another tick despite do_heartbeat false.
	assert.Equal(t, 2, provider.callCount())

	var sawFailure bool
	for _, e := range eventsOfType(events, EventMessage) {
		msg, ok := e.Payload.(protocol.Message)
		if !ok {
			continue
		}
		if res, ok := msg.Content.(protocol.FunctionResultContent); ok && !res.Success {
			assert.Equal(t, "Function does not exist", res.Result)
			sawFailure = true
		}
	}
	assert.True(t, sawFailure)
}

func TestRunFailedToolForcesHeartbeat(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		// pop_task on an empty queue fails.
		turnYAML("pop_task", nil, false),
		turnYAML("noop", nil, false),
	}}

	cfg := testMemoryConfig()
	w, mem := newTestWorker(t, provider, &cfg, true)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))

	w.Run(ctx)
	collectEvents(w)

	assert.Equal(t, 2, provider.callCount())
}

func TestRunRetriesMalformedTurn(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"this is not yaml at all",
		turnYAML("noop", nil, false),
	}}

	cfg := testMemoryConfig()
	w, mem := newTestWorker(t, provider, &cfg, true)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))

	w.Run(ctx)
	events := collectEvents(w)

	assert.Equal(t, 2, provider.callCount())
	assert.Empty(t, eventsOfType(events, EventError))
}

func TestRunHaltCommand(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		turnYAML("noop", nil, true),
	}}

	cfg := testMemoryConfig()
	w, mem := newTestWorker(t, provider, &cfg, true)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))

	w.Send(CommandHalt)
	w.Run(ctx)
	events := collectEvents(w)

	// One tick, then the control poll consumes the halt.
	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, EventHalt, events[len(events)-1].Type)

	var sawNotice bool
	for _, e := range eventsOfType(events, EventMessage) {
		if msg, ok := e.Payload.(protocol.Message); ok &&
			msg.Kind == protocol.KindSystem && strings.Contains(msg.Text(), "halted") {
			sawNotice = true
		}
	}
	assert.True(t, sawNotice)
}

func TestRunHaltSoonThenHalt(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		turnYAML("noop", nil, true),
	}}

	cfg := testMemoryConfig()
	w, mem := newTestWorker(t, provider, &cfg, true)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))

	w.Send(CommandHaltSoon)

	done := make(chan []Event, 1)
	go func() {
		w.Run(ctx)
		done <- nil
	}()

	var events []Event
	sentHalt := false
	for e := range w.Events() {
		events = append(events, e)
		if !sentHalt && e.Type == EventMessage {
			if msg, ok := e.Payload.(protocol.Message); ok &&
				msg.Kind == protocol.KindSystem && strings.Contains(msg.Text(), "wind down") {
				w.Send(CommandHalt)
				sentHalt = true
			}
		}
	}
	<-done

	assert.True(t, sentHalt)
	assert.GreaterOrEqual(t, provider.callCount(), 2)
	assert.Equal(t, EventHalt, events[len(events)-1].Type)
}

func TestRunOverthinkGuard(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		turnYAML("noop", nil, true),
		turnYAML("noop", nil, true),
		turnYAML("noop", nil, false),
	}}

	cfg := testMemoryConfig()
	cfg.OverthinkN = 1
	w, mem := newTestWorker(t, provider, &cfg, true)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))

	w.Run(ctx)
	events := collectEvents(w)

	var notices int
	for _, e := range eventsOfType(events, EventMessage) {
		if msg, ok := e.Payload.(protocol.Message); ok &&
			msg.Kind == protocol.KindSystem && strings.Contains(msg.Text(), "consecutive heartbeats") {
			notices++
		}
	}
	assert.Equal(t, 2, notices)
}

func TestRunContextWarning(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		turnYAML("noop", nil, false),
		turnYAML("noop", nil, false),
	}}

	cfg := testMemoryConfig()
	w, mem := newTestWorker(t, provider, &cfg, true)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))

	// Size the window so occupancy sits between the warning and flush lines.
	inCtx, err := mem.InContextTokens(ctx)
	require.NoError(t, err)
	cfg.CtxWindow = int(float64(inCtx) / 0.85)

	w.Run(ctx)
	events := collectEvents(w)

	var warnings int
	for _, e := range eventsOfType(events, EventMessage) {
		if msg, ok := e.Payload.(protocol.Message); ok &&
			msg.Kind == protocol.KindSystem && strings.Contains(msg.Text(), "approaching its limit") {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)

	// The warning forces a second tick even though do_heartbeat was false.
	assert.Equal(t, 2, provider.callCount())
}

func TestRunContextOverflowFlushes(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		turnYAML("noop", nil, false),
		flushYAML,
	}}

	cfg := testMemoryConfig()
	cfg.FIFOMin = 1
	w, mem := newTestWorker(t, provider, &cfg, true)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "hi")))

	inCtx, err := mem.InContextTokens(ctx)
	require.NoError(t, err)
	cfg.CtxWindow = int(float64(inCtx) / 0.97)

	w.Run(ctx)
	events := collectEvents(w)

	summary, _, err := mem.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "The user said hello.", summary)

	var sawFlushNotice bool
	for _, e := range eventsOfType(events, EventMessage) {
		if msg, ok := e.Payload.(protocol.Message); ok &&
			msg.Kind == protocol.KindSystem && strings.Contains(msg.Text(), "folded into the recursive summary") {
			sawFlushNotice = true
		}
	}
	assert.True(t, sawFlushNotice)
	assert.Equal(t, 2, provider.callCount())
}
