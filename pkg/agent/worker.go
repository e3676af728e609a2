package agent

import (
	"context"
	"log/slog"

	"github.com/memkeep/memkeep/pkg/llms"
	"github.com/memkeep/memkeep/pkg/memory"
	"github.com/memkeep/memkeep/pkg/tool"
)

// eventBuffer keeps the worker from stalling on a slow supervisor between
// drain points.
const eventBuffer = 64

// Worker executes one agent run: it owns the memory facade for the
// duration and drives the heartbeat loop, talking to the supervisor over
// a typed event channel and an inbound command channel.
type Worker struct {
	mem        *memory.Memory
	registry   *tool.Registry
	provider   llms.Provider
	summarizer *memory.Summarizer
	maxTries   int

	events   chan Event
	commands chan Command

	// loop state
	warned    bool
	overthink int
}

// NewWorker assembles a worker for one run. The registry's schema block is
// installed into the memory facade so the model sees its own tool surface.
func NewWorker(mem *memory.Memory, registry *tool.Registry, provider llms.Provider, maxTries int) (*Worker, error) {
	schemas, err := registry.SchemasYAML()
	if err != nil {
		return nil, err
	}
	mem.SetSystemPrompt(systemPrompt)
	mem.SetToolSchemas(schemas)

	return &Worker{
		mem:        mem,
		registry:   registry,
		provider:   provider,
		summarizer: memory.NewSummarizer(mem, provider, recursiveSummaryPrompt, maxTries),
		maxTries:   maxTries,
		events:     make(chan Event, eventBuffer),
		commands:   make(chan Command, 1),
	}, nil
}

// Events is the outbound frame stream. It is closed after the halt event.
func (w *Worker) Events() <-chan Event {
	return w.events
}

// Send injects a control command. Only the most recent pending command is
// kept; the worker polls at most one per tick.
func (w *Worker) Send(cmd Command) {
	for {
		select {
		case w.commands <- cmd:
			return
		default:
			select {
			case <-w.commands:
			default:
			}
		}
	}
}

// SendToUser emits a user-visible send. Implements tool.Session.
func (w *Worker) SendToUser(text string) {
	w.emit(Event{Type: EventToUser, Payload: text})
}

func (w *Worker) emit(e Event) {
	select {
	case w.events <- e:
	default:
		// Drop debug chatter rather than stall the run.
		if e.Type == EventDebug || e.Type == EventPing {
			slog.Debug("dropping event on full channel", "type", e.Type)
			return
		}
		w.events <- e
	}
}

var _ tool.Session = (*Worker)(nil)

// Run drives the heartbeat loop until halt and closes the event stream.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.events)
	defer w.emitHalt()

	if err := w.loop(ctx); err != nil {
		slog.Error("agent run failed", "agent", w.mem.AgentID(), "error", err)
		w.emit(Event{Type: EventError, Payload: err.Error()})
	}
}

func (w *Worker) emitHalt() {
	w.emit(Event{Type: EventHalt})
}
