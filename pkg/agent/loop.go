package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/memkeep/memkeep/pkg/protocol"
)

// controlPollWindow bounds how long ExitOrContinue waits for a pending
// user control command each tick.
const controlPollWindow = 250 * time.Millisecond

// loop is the heartbeat state machine: CallAgent, then RunTool or
// InvalidTool, then ExitOrContinue, until heartbeat goes false.
func (w *Worker) loop(ctx context.Context) error {
	heartbeat := true

	for heartbeat {
		w.emit(Event{Type: EventPing})

		turn, err := w.callAgent(ctx)
		if err != nil {
			return fmt.Errorf("agent call failed: %w", err)
		}

		result := w.dispatch(ctx, turn.FunctionCall)

		resMsg := protocol.NewFunctionResult(result.Success, result.Result)
		if err := w.mem.PushMessage(ctx, resMsg); err != nil {
			return err
		}
		w.emit(Event{Type: EventMessage, Payload: resMsg})

		heartbeat = turn.FunctionCall.DoHeartbeat
		if !result.Success {
			// Give the model a tick to recover from the failure.
			heartbeat = true
		}

		heartbeat, err = w.exitOrContinue(ctx, heartbeat)
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return nil
}

// callAgent assembles the context, calls the LLM and parses the assistant
// turn, retrying schema failures with backoff. The validated turn is
// appended to the memory tiers before any tool side effects run.
func (w *Worker) callAgent(ctx context.Context) (*protocol.AssistantContent, error) {
	entries, err := w.mem.BuildContext(ctx)
	if err != nil {
		return nil, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond

	turn, err := backoff.Retry(ctx, func() (*protocol.AssistantContent, error) {
		raw, chatErr := w.provider.Chat(ctx, entries)
		if chatErr != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(chatErr)
			}
			return nil, chatErr
		}

		parsed, parseErr := protocol.ParseAssistantTurn(raw)
		if parseErr != nil {
			slog.Debug("assistant turn rejected", "agent", w.mem.AgentID(), "error", parseErr)
			return nil, parseErr
		}
		return parsed, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(w.maxTries)))
	if err != nil {
		return nil, err
	}

	msg := protocol.NewAssistant(*turn)
	if err := w.mem.PushMessage(ctx, msg); err != nil {
		return nil, err
	}
	w.emit(Event{Type: EventMessage, Payload: msg})

	return turn, nil
}

// dispatch routes the function call to RunTool or InvalidTool.
func (w *Worker) dispatch(ctx context.Context, call protocol.FunctionCall) protocol.FunctionResultContent {
	if _, ok := w.registry.Get(call.Name); !ok {
		slog.Warn("model called unknown tool", "agent", w.mem.AgentID(), "tool", call.Name)
		return protocol.FunctionResultContent{Success: false, Result: "Function does not exist"}
	}
	return w.registry.Execute(ctx, w.mem, w, call)
}

// exitOrContinue applies the control policies in order: context overflow,
// context warning, user control, overthink guard. At most one fires per
// tick.
func (w *Worker) exitOrContinue(ctx context.Context, heartbeat bool) (bool, error) {
	w.overthink++

	cfg := w.mem.Config()
	inCtx, err := w.mem.InContextTokens(ctx)
	if err != nil {
		return false, err
	}

	switch {
	case float64(inCtx) > cfg.FlushFrac*float64(cfg.CtxWindow):
		if err := w.pushNotice(ctx, "Context window is nearly full. Earlier messages are being folded into the recursive summary."); err != nil {
			return false, err
		}
		w.warned = false
		if err := w.summarizer.Flush(ctx); err != nil {
			// Recoverable: the next tick crosses the threshold again.
			slog.Warn("flush failed, will retry next tick", "agent", w.mem.AgentID(), "error", err)
			w.emit(Event{Type: EventDebug, Payload: fmt.Sprintf("flush failed: %v", err)})
		}

	case !w.warned && float64(inCtx) > cfg.WarnFrac*float64(cfg.CtxWindow):
		if err := w.pushNotice(ctx, "Context window is approaching its limit. Persist important information to Archival Storage or Working Context now, before earlier messages are summarized away."); err != nil {
			return false, err
		}
		w.warned = true
		w.overthink = 0
		heartbeat = true

	default:
		select {
		case cmd := <-w.commands:
			switch cmd {
			case CommandHaltSoon:
				if err := w.pushNotice(ctx, "The user has asked you to wind down. Finish your current train of thought and stop requesting heartbeats soon."); err != nil {
					return false, err
				}
				w.overthink = 0
			default:
				// halt, or any unrecognized command
				if err := w.pushNotice(ctx, "The user has halted further processing. This run ends now."); err != nil {
					return false, err
				}
				heartbeat = false
			}

		case <-time.After(controlPollWindow):
			if w.overthink >= cfg.OverthinkN && heartbeat {
				if err := w.pushNotice(ctx, "You have been running for many consecutive heartbeats. Re-evaluate whether continued processing is productive before requesting more."); err != nil {
					return false, err
				}
				w.overthink = 0
			}

		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return heartbeat, nil
}

// pushNotice appends a system notice to the memory tiers and mirrors it to
// the session.
func (w *Worker) pushNotice(ctx context.Context, text string) error {
	msg := protocol.NewText(protocol.KindSystem, text)
	if err := w.mem.PushMessage(ctx, msg); err != nil {
		return err
	}
	w.emit(Event{Type: EventMessage, Payload: msg})
	return nil
}
