package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/memkeep/memkeep/pkg/store"
)

// WorkingContext is the always-in-context persona and task state of one
// agent. Reads and writes go straight through to the store; the worker's
// per-agent lock serializes them.
type WorkingContext struct {
	store    store.Store
	agentID  string
	maxWords int
}

// NewWorkingContext binds the working context tier to an agent row.
func NewWorkingContext(s store.Store, agentID string, maxWords int) *WorkingContext {
	return &WorkingContext{store: s, agentID: agentID, maxWords: maxWords}
}

// AgentPersona returns the agent persona text.
func (w *WorkingContext) AgentPersona(ctx context.Context) (string, error) {
	wc, err := w.store.GetWorkingContext(ctx, w.agentID)
	if err != nil {
		return "", err
	}
	return wc.AgentPersona, nil
}

// UserPersona returns the user persona text.
func (w *WorkingContext) UserPersona(ctx context.Context) (string, error) {
	wc, err := w.store.GetWorkingContext(ctx, w.agentID)
	if err != nil {
		return "", err
	}
	return wc.UserPersona, nil
}

// SetAgentPersona replaces the agent persona. The write is rejected without
// touching state when the new text exceeds the word cap.
func (w *WorkingContext) SetAgentPersona(ctx context.Context, persona string) error {
	if err := w.checkLength(persona); err != nil {
		return err
	}
	wc, err := w.store.GetWorkingContext(ctx, w.agentID)
	if err != nil {
		return err
	}
	return w.store.SetPersonas(ctx, w.agentID, persona, wc.UserPersona)
}

// SetUserPersona replaces the user persona under the same word cap.
func (w *WorkingContext) SetUserPersona(ctx context.Context, persona string) error {
	if err := w.checkLength(persona); err != nil {
		return err
	}
	wc, err := w.store.GetWorkingContext(ctx, w.agentID)
	if err != nil {
		return err
	}
	return w.store.SetPersonas(ctx, w.agentID, wc.AgentPersona, persona)
}

func (w *WorkingContext) checkLength(persona string) error {
	if n := len(strings.Fields(persona)); n > w.maxWords {
		return fmt.Errorf("%w: %d words, limit %d", ErrPersonaTooLong, n, w.maxWords)
	}
	return nil
}

// Tasks returns the task queue, oldest first.
func (w *WorkingContext) Tasks(ctx context.Context) ([]string, error) {
	wc, err := w.store.GetWorkingContext(ctx, w.agentID)
	if err != nil {
		return nil, err
	}
	return wc.Tasks, nil
}

// PushTask appends a task to the tail of the queue.
func (w *WorkingContext) PushTask(ctx context.Context, task string) error {
	wc, err := w.store.GetWorkingContext(ctx, w.agentID)
	if err != nil {
		return err
	}
	return w.store.SetTasks(ctx, w.agentID, append(wc.Tasks, task))
}

// PopTask removes and returns the oldest task.
func (w *WorkingContext) PopTask(ctx context.Context) (string, error) {
	wc, err := w.store.GetWorkingContext(ctx, w.agentID)
	if err != nil {
		return "", err
	}
	if len(wc.Tasks) == 0 {
		return "", ErrTaskQueueEmpty
	}

	head := wc.Tasks[0]
	if err := w.store.SetTasks(ctx, w.agentID, wc.Tasks[1:]); err != nil {
		return "", err
	}
	return head, nil
}

// Render produces the working-context block of the system prompt.
func (w *WorkingContext) Render(ctx context.Context) (string, error) {
	wc, err := w.store.GetWorkingContext(ctx, w.agentID)
	if err != nil {
		return "", err
	}

	var tasks strings.Builder
	if len(wc.Tasks) == 0 {
		tasks.WriteString("(empty)")
	} else {
		for i, t := range wc.Tasks {
			if i > 0 {
				tasks.WriteString("\n")
			}
			fmt.Fprintf(&tasks, "%d. %s", i+1, t)
		}
	}

	return fmt.Sprintf(`## Agent Persona

%s

## User Persona

%s

## Task Queue

%s`, wc.AgentPersona, wc.UserPersona, tasks.String()), nil
}
