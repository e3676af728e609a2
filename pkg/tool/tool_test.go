package tool

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkeep/memkeep/pkg/config"
	"github.com/memkeep/memkeep/pkg/memory"
	"github.com/memkeep/memkeep/pkg/protocol"
	"github.com/memkeep/memkeep/pkg/store"
	"github.com/memkeep/memkeep/pkg/tokenizer"
	"github.com/memkeep/memkeep/pkg/vector"
)

// fakeSession records user-visible sends.
type fakeSession struct {
	mu   sync.Mutex
	sent []string
}

func (s *fakeSession) SendToUser(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
}

func (s *fakeSession) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// memVector is a minimal in-memory vector.Provider for tool-level tests.
type memVector struct {
	mu   sync.Mutex
	docs map[string][]vector.Document
}

func newMemVector() *memVector {
	return &memVector{docs: make(map[string][]vector.Document)}
}

func (v *memVector) CreateCollection(_ context.Context, collection string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.docs[collection]; !ok {
		v.docs[collection] = nil
	}
	return nil
}

func (v *memVector) DeleteCollection(_ context.Context, collection string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.docs, collection)
	return nil
}

func (v *memVector) Add(_ context.Context, collection string, docs []vector.Document) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.docs[collection] = append(v.docs[collection], docs...)
	return nil
}

func (v *memVector) Query(_ context.Context, collection, _ string, topK int, where map[string]string) ([]vector.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var results []vector.Result
	for _, doc := range v.docs[collection] {
		match := true
		for k, val := range where {
			if doc.Metadata[k] != val {
				match = false
				break
			}
		}
		if match {
			results = append(results, vector.Result{ID: doc.ID, Content: doc.Content, Metadata: doc.Metadata})
		}
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (v *memVector) Count(_ context.Context, collection string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.docs[collection]), nil
}

func (v *memVector) Name() string { return "mem" }
func (v *memVector) Close() error { return nil }

func newToolMemory(t *testing.T) *memory.Memory {
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

	cfg := &config.MemoryConfig{
		CtxWindow:       100000,
		WarnFrac:        0.8,
		FlushFrac:       0.95,
		FlushTgtFrac:    0.6,
		FIFOMin:         5,
		OverthinkN:      10,
		ChunkMaxTokens:  128,
		PersonaMaxWords: 100,
		PageSize:        2,
		ChatLogPageSize: 2,
	}

	return memory.New(st, newMemVector(), tokenizer.Estimator{}, cfg, "a1")
}

func baseRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := ForAgent(nil, Deps{})
	require.NoError(t, err)
	return r
}

func run(t *testing.T, r *Registry, mem *memory.Memory, sess Session, name string, args map[string]any) protocol.FunctionResultContent {
	t.Helper()
	return r.Execute(context.Background(), mem, sess, protocol.FunctionCall{Name: name, Arguments: args})
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	tool := MustNew("twin", "a tool", func(ctx context.Context, mem *memory.Memory, sess Session, args struct{}) (any, error) {
		return nil, nil
	})

	require.NoError(t, r.Register(tool))
	assert.Error(t, r.Register(tool))
}

func TestForAgentComposesSets(t *testing.T) {
	r, err := ForAgent([]string{"interpreter"}, Deps{})
	require.NoError(t, err)

	_, ok := r.Get("execute_python")
	assert.True(t, ok)
	_, ok = r.Get("send_message")
	assert.True(t, ok)

	_, err = ForAgent([]string{"nonexistent"}, Deps{})
	assert.Error(t, err)
}

func TestExecuteUnknownTool(t *testing.T) {
	r := baseRegistry(t)
	res := run(t, r, newToolMemory(t), &fakeSession{}, "does_not_exist", nil)

	assert.False(t, res.Success)
	assert.Equal(t, "Function does not exist", res.Result)
}

func TestExecuteMissingRequiredArgument(t *testing.T) {
	r := baseRegistry(t)
	res := run(t, r, newToolMemory(t), &fakeSession{}, "send_message", map[string]any{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Result.(string), "missing required argument")
}

func TestSendMessage(t *testing.T) {
	r := baseRegistry(t)
	mem := newToolMemory(t)
	sess := &fakeSession{}

	mem.SetInConvo(true)
	res := run(t, r, mem, sess, "send_message", map[string]any{"message": "hello!"})
	require.True(t, res.Success)
	assert.Equal(t, "Successfully sent message", res.Result)
	assert.Equal(t, []string{"hello!"}, sess.messages())

	entries, err := mem.ChatLog.RecentSearch(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, protocol.KindAssistant, entries[0].Kind)
}

func TestSendMessageOutsideConversation(t *testing.T) {
	r := baseRegistry(t)
	mem := newToolMemory(t)
	sess := &fakeSession{}

	mem.SetInConvo(false)
	res := run(t, r, mem, sess, "send_message", map[string]any{"message": "anyone there?"})

	assert.False(t, res.Success)
	assert.Contains(t, res.Result.(string), "cannot be used outside conversation")
	assert.Empty(t, sess.messages())
}

func TestPersonaAppend(t *testing.T) {
	r := baseRegistry(t)
	mem := newToolMemory(t)
	ctx := context.Background()

	res := run(t, r, mem, &fakeSession{}, "persona_append", map[string]any{
		"section": "agent", "text": " Likes birds.",
	})
	require.True(t, res.Success)
	assert.Equal(t, "Successfully updated Agent Persona", res.Result)

	persona, err := mem.Working.AgentPersona(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Friendly helper. Likes birds.", persona)

	res = run(t, r, mem, &fakeSession{}, "persona_append", map[string]any{
		"section": "user", "text": "Asks many questions.",
	})
	require.True(t, res.Success)

	persona, err = mem.Working.UserPersona(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Asks many questions.", persona)

	res = run(t, r, mem, &fakeSession{}, "persona_append", map[string]any{
		"section": "nonsense", "text": "x",
	})
	assert.False(t, res.Success)
}

func TestPersonaReplace(t *testing.T) {
	r := baseRegistry(t)
	mem := newToolMemory(t)

	res := run(t, r, mem, &fakeSession{}, "persona_replace", map[string]any{
		"section": "agent", "old_text": "Friendly", "new_text": "Grumpy",
	})
	require.True(t, res.Success)

	persona, err := mem.Working.AgentPersona(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Grumpy helper.", persona)
}

func TestPushAndPopTask(t *testing.T) {
	r := baseRegistry(t)
	mem := newToolMemory(t)

	res := run(t, r, mem, &fakeSession{}, "push_task", map[string]any{"task": "feed the cat"})
	require.True(t, res.Success)
	assert.Equal(t, "Successfully pushed task 'feed the cat' to task queue.", res.Result)

	res = run(t, r, mem, &fakeSession{}, "pop_task", map[string]any{})
	require.True(t, res.Success)
	assert.Equal(t, "Successfully popped task 'feed the cat' from task queue.", res.Result)

	res = run(t, r, mem, &fakeSession{}, "pop_task", map[string]any{})
	assert.False(t, res.Success)
}

func TestArchivalInsertAndSearch(t *testing.T) {
	r := baseRegistry(t)
	mem := newToolMemory(t)

	res := run(t, r, mem, &fakeSession{}, "archival_insert", map[string]any{
		"text": "penguins huddle for warmth", "category": "birds",
	})
	require.True(t, res.Success)
	assert.Equal(t, "Successfully inserted text 'penguins huddle for warmth' into Archival Storage with category 'birds'", res.Result)

	res = run(t, r, mem, &fakeSession{}, "archival_search", map[string]any{"query": "penguins"})
	require.True(t, res.Success)
	out := res.Result.(string)
	assert.Contains(t, out, "Results for page 0:")
	assert.Contains(t, out, "Result 1 (Category 'birds'")
	assert.Contains(t, out, "penguins huddle for warmth")

	res = run(t, r, mem, &fakeSession{}, "archival_search", map[string]any{"query": "penguins", "page": -1})
	assert.False(t, res.Success)
}

func TestRecallSearch(t *testing.T) {
	r := baseRegistry(t)
	mem := newToolMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "I adore penguins")))
	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "and owls")))

	res := run(t, r, mem, &fakeSession{}, "recall_search", map[string]any{"query": "penguins"})
	require.True(t, res.Success)
	out := res.Result.(string)
	assert.Contains(t, out, "Results for page 0/1:")
	assert.Contains(t, out, `"role":"user"`)
	assert.Contains(t, out, "I adore penguins")
}

func TestRecallSearchByDate(t *testing.T) {
	r := baseRegistry(t)
	mem := newToolMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "morning note")))

	start := time.Now().Add(-time.Hour).Format(time.RFC3339)
	end := time.Now().Add(time.Hour).Format(time.RFC3339)

	res := run(t, r, mem, &fakeSession{}, "recall_search_by_date", map[string]any{
		"start_timestamp": start, "end_timestamp": end,
	})
	require.True(t, res.Success)
	assert.Contains(t, res.Result.(string), "morning note")

	res = run(t, r, mem, &fakeSession{}, "recall_search_by_date", map[string]any{
		"start_timestamp": "not a date", "end_timestamp": end,
	})
	assert.False(t, res.Success)
}

func TestChatLogSearchReadsOldestToNewest(t *testing.T) {
	r := baseRegistry(t)
	mem := newToolMemory(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	require.NoError(t, mem.ChatLog.Push(ctx, protocol.KindUser, base, "first words"))
	require.NoError(t, mem.ChatLog.Push(ctx, protocol.KindAssistant, base.Add(time.Second), "second words"))

	res := run(t, r, mem, &fakeSession{}, "chat_log_search", map[string]any{})
	require.True(t, res.Success)
	out := res.Result.(string)

	assert.Contains(t, out, "Result 1 (user message")
	assert.Contains(t, out, "first words")
	assert.Less(t, strings.Index(out, "first words"), strings.Index(out, "second words"))
}

func TestSchemasYAML(t *testing.T) {
	r := baseRegistry(t)

	out, err := r.SchemasYAML()
	require.NoError(t, err)

	assert.Contains(t, out, "name: send_message")
	assert.Contains(t, out, "name: archival_search")
	assert.Contains(t, out, "description:")
	assert.Contains(t, out, "parameters:")
}

func TestToolSchemaShape(t *testing.T) {
	r := baseRegistry(t)

	tool, ok := r.Get("persona_append")
	require.True(t, ok)

	schema := tool.Schema()
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "section")
	assert.Contains(t, props, "text")

	section := props["section"].(map[string]any)
	assert.ElementsMatch(t, []any{"user", "agent"}, section["enum"])

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"section", "text"}, required)
}

func TestOptionalSetNames(t *testing.T) {
	assert.Equal(t, []string{"interpreter", "web_search"}, OptionalSetNames())

	_, err := OptionalSet("bogus", Deps{})
	assert.Error(t, err)
}

func TestWeaklyTypedArguments(t *testing.T) {
	r := baseRegistry(t)
	mem := newToolMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.PushMessage(ctx, protocol.NewText(protocol.KindUser, "note")))

	// Models often send page as a float or string.
	res := run(t, r, mem, &fakeSession{}, "recall_search", map[string]any{
		"query": "note", "page": float64(0),
	})
	assert.True(t, res.Success)

	res = run(t, r, mem, &fakeSession{}, "recall_search", map[string]any{
		"query": "note", "page": "0",
	})
	assert.True(t, res.Success)
}
