package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/memkeep/memkeep/pkg/memory"
	"github.com/memkeep/memkeep/pkg/protocol"
)

// BaseTools returns the tool set every agent carries.
func BaseTools() []Tool {
	return []Tool{
		noopTool(),
		sendMessageTool(),
		personaAppendTool(),
		personaReplaceTool(),
		pushTaskTool(),
		popTaskTool(),
		archivalInsertTool(),
		archivalSearchTool(),
		recallSearchTool(),
		recallSearchByDateTool(),
		chatLogSearchTool(),
		chatLogSearchByDateTool(),
	}
}

type noopArgs struct{}

func noopTool() Tool {
	return MustNew("noop",
		"Does nothing. To be used when you do not need to do anything. MINIMISE unnecessary usage of this function.",
		func(ctx context.Context, mem *memory.Memory, sess Session, args noopArgs) (any, error) {
			return nil, nil
		})
}

type sendMessageArgs struct {
	Message string `json:"message" jsonschema:"required,description=Message to be sent."`
}

func sendMessageTool() Tool {
	return MustNew("send_message",
		"Sends a message to the user. You usually shouldn't request heartbeats when calling this function (unless you want to double text or perform other operations before sending updates to the user). Can only be used during conversations with the user.",
		func(ctx context.Context, mem *memory.Memory, sess Session, args sendMessageArgs) (any, error) {
			if !mem.InConvo() {
				return nil, fmt.Errorf("cannot be used outside conversation when user is absent")
			}

			sess.SendToUser(args.Message)
			if err := mem.ChatLog.Push(ctx, protocol.KindAssistant, time.Now(), args.Message); err != nil {
				return nil, err
			}
			return "Successfully sent message", nil
		})
}

type personaAppendArgs struct {
	Section string `json:"section" jsonschema:"required,enum=user,enum=agent,description=Persona section where the text will be appended to ('user' or 'agent')."`
	Text    string `json:"text" jsonschema:"required,description=Text to be appended to the given section."`
}

func personaAppendTool() Tool {
	return MustNew("persona_append",
		"Appends text to a persona section in Working Context.",
		func(ctx context.Context, mem *memory.Memory, sess Session, args personaAppendArgs) (any, error) {
			switch args.Section {
			case "user":
				current, err := mem.Working.UserPersona(ctx)
				if err != nil {
					return nil, err
				}
				if err := mem.Working.SetUserPersona(ctx, current+args.Text); err != nil {
					return nil, err
				}
				return "Successfully updated user Persona", nil
			case "agent":
				current, err := mem.Working.AgentPersona(ctx)
				if err != nil {
					return nil, err
				}
				if err := mem.Working.SetAgentPersona(ctx, current+args.Text); err != nil {
					return nil, err
				}
				return "Successfully updated Agent Persona", nil
			default:
				return nil, fmt.Errorf("section must be 'user' or 'agent'")
			}
		})
}

type personaReplaceArgs struct {
	Section string `json:"section" jsonschema:"required,enum=user,enum=agent,description=Persona section in which the text will be replaced ('user' or 'agent')."`
	OldText string `json:"old_text" jsonschema:"required,description=Old text in the given section."`
	NewText string `json:"new_text" jsonschema:"required,description=New text in the given section."`
}

func personaReplaceTool() Tool {
	return MustNew("persona_replace",
		"Replaces text in a persona section in Working Context.",
		func(ctx context.Context, mem *memory.Memory, sess Session, args personaReplaceArgs) (any, error) {
			switch args.Section {
			case "user":
				current, err := mem.Working.UserPersona(ctx)
				if err != nil {
					return nil, err
				}
				if err := mem.Working.SetUserPersona(ctx, strings.ReplaceAll(current, args.OldText, args.NewText)); err != nil {
					return nil, err
				}
				return "Successfully updated user Persona", nil
			case "agent":
				current, err := mem.Working.AgentPersona(ctx)
				if err != nil {
					return nil, err
				}
				if err := mem.Working.SetAgentPersona(ctx, strings.ReplaceAll(current, args.OldText, args.NewText)); err != nil {
					return nil, err
				}
				return "Successfully updated Agent Persona", nil
			default:
				return nil, fmt.Errorf("section must be 'user' or 'agent'")
			}
		})
}

type pushTaskArgs struct {
	Task string `json:"task" jsonschema:"required,description=Task to be pushed."`
}

func pushTaskTool() Tool {
	return MustNew("push_task",
		"Pushes a task to your Working Context's task queue.",
		func(ctx context.Context, mem *memory.Memory, sess Session, args pushTaskArgs) (any, error) {
			if err := mem.Working.PushTask(ctx, args.Task); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Successfully pushed task '%s' to task queue.", args.Task), nil
		})
}

type popTaskArgs struct{}

func popTaskTool() Tool {
	return MustNew("pop_task",
		"Pops task from your Working Context's task queue.",
		func(ctx context.Context, mem *memory.Memory, sess Session, args popTaskArgs) (any, error) {
			task, err := mem.Working.PopTask(ctx)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Successfully popped task '%s' from task queue.", task), nil
		})
}

type archivalInsertArgs struct {
	Text     string `json:"text" jsonschema:"required,description=Text to be inserted into archival storage. To be formatted such that it can be easily queried through vector search."`
	Category string `json:"category" jsonschema:"required,description=Category of information presented in the given text. Keep the number of categories low (so as not to make the categories too fine-grained) but not too low (to avoid overgeneralising the stored info)."`
}

func archivalInsertTool() Tool {
	return MustNew("archival_insert",
		"Inserts text into Archival Storage.",
		func(ctx context.Context, mem *memory.Memory, sess Session, args archivalInsertArgs) (any, error) {
			if err := mem.Archival.Insert(ctx, args.Text, args.Category); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Successfully inserted text '%s' into Archival Storage with category '%s'", args.Text, args.Category), nil
		})
}

type archivalSearchArgs struct {
	Query    string `json:"query" jsonschema:"required,description=Search query. To be formatted for more effective vector search."`
	Page     int    `json:"page,omitempty" jsonschema:"minimum=0,default=0,description=Result list page number. Defaults to 0 and must be non-negative. If you haven't found the target information from Archival Storage but are certain it's there increment page number and try again."`
	Category string `json:"category,omitempty" jsonschema:"description=Category of information to limit search to."`
}

func archivalSearchTool() Tool {
	return MustNew("archival_search",
		"Searches Archival Storage by text (vector search).",
		func(ctx context.Context, mem *memory.Memory, sess Session, args archivalSearchArgs) (any, error) {
			if args.Page < 0 {
				return nil, fmt.Errorf("page must be non-negative")
			}

			pageSize := mem.Config().PageSize
			hits, err := mem.Archival.Search(ctx, args.Query, args.Page*pageSize, pageSize, args.Category)
			if err != nil {
				return nil, err
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Results for page %d:", args.Page)
			for i, hit := range hits {
				fmt.Fprintf(&b, "\n\nResult %d (Category '%s', Timestamp %s): %s",
					i+1, hit.Category, hit.Inserted, hit.Document)
			}
			return b.String(), nil
		})
}

type recallSearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query. Exact match (case-insensitive) required for result to show up."`
	Page  int    `json:"page,omitempty" jsonschema:"minimum=0,default=0,description=Result list page number. Defaults to 0 and must be non-negative. If you haven't found the target information from Recall Storage but are certain it's there increment page number or tweak query and try again."`
}

func recallSearchTool() Tool {
	return MustNew("recall_search",
		"Searches Recall Storage by text (exact match).",
		func(ctx context.Context, mem *memory.Memory, sess Session, args recallSearchArgs) (any, error) {
			if args.Page < 0 {
				return nil, fmt.Errorf("page must be non-negative")
			}

			messages, err := mem.Recall.TextSearch(ctx, args.Query)
			if err != nil {
				return nil, err
			}
			return renderRecallPage(messages, args.Page, mem.Config().PageSize)
		})
}

type recallSearchByDateArgs struct {
	StartTimestamp string `json:"start_timestamp" jsonschema:"required,description=Starting timestamp (must conform to ISO 8601 format)"`
	EndTimestamp   string `json:"end_timestamp" jsonschema:"required,description=Ending timestamp (must conform to ISO 8601 format)"`
	Page           int    `json:"page,omitempty" jsonschema:"minimum=0,default=0,description=Result list page number. Defaults to 0 and must be non-negative. If you haven't found the target information from Recall Storage but are certain it's there increment page number or tweak date range and try again."`
}

func recallSearchByDateTool() Tool {
	return MustNew("recall_search_by_date",
		"Searches Recall Storage by datetime range.",
		func(ctx context.Context, mem *memory.Memory, sess Session, args recallSearchByDateArgs) (any, error) {
			if args.Page < 0 {
				return nil, fmt.Errorf("page must be non-negative")
			}

			start, end, err := parseRange(args.StartTimestamp, args.EndTimestamp)
			if err != nil {
				return nil, err
			}

			messages, err := mem.Recall.DateSearch(ctx, start, end)
			if err != nil {
				return nil, err
			}
			return renderRecallPage(messages, args.Page, mem.Config().PageSize)
		})
}

type chatLogSearchArgs struct {
	Query string `json:"query,omitempty" jsonschema:"description=Optional search query. Exact match (case-insensitive) required for result to show up."`
	Page  int    `json:"page,omitempty" jsonschema:"minimum=0,default=0,description=Result list page number."`
}

func chatLogSearchTool() Tool {
	return MustNew("chat_log_search",
		"Queries recent messages (oldest to newest within page, higher pages yield older messages) from Chat Log. Optionally filters by text (exact match).",
		func(ctx context.Context, mem *memory.Memory, sess Session, args chatLogSearchArgs) (any, error) {
			if args.Page < 0 {
				return nil, fmt.Errorf("page must be non-negative")
			}

			entries, err := mem.ChatLog.RecentSearch(ctx, args.Query)
			if err != nil {
				return nil, err
			}
			return renderChatLogPage(entries, args.Page, mem.Config().ChatLogPageSize), nil
		})
}

type chatLogSearchByDateArgs struct {
	StartTimestamp string `json:"start_timestamp" jsonschema:"required,description=Starting timestamp (must conform to ISO 8601 format)"`
	EndTimestamp   string `json:"end_timestamp" jsonschema:"required,description=Ending timestamp (must conform to ISO 8601 format)"`
	Page           int    `json:"page,omitempty" jsonschema:"minimum=0,default=0,description=Result list page number."`
}

func chatLogSearchByDateTool() Tool {
	return MustNew("chat_log_search_by_date",
		"Searches Chat Log by datetime range (oldest to newest within page, higher pages yield older messages).",
		func(ctx context.Context, mem *memory.Memory, sess Session, args chatLogSearchByDateArgs) (any, error) {
			if args.Page < 0 {
				return nil, fmt.Errorf("page must be non-negative")
			}

			start, end, err := parseRange(args.StartTimestamp, args.EndTimestamp)
			if err != nil {
				return nil, err
			}

			entries, err := mem.ChatLog.DateSearch(ctx, start, end)
			if err != nil {
				return nil, err
			}
			return renderChatLogPage(entries, args.Page, mem.Config().ChatLogPageSize), nil
		})
}

// parseRange parses an inclusive ISO 8601 timestamp range.
func parseRange(start, end string) (time.Time, time.Time, error) {
	s, err := parseISO(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_timestamp: %w", err)
	}
	e, err := parseISO(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_timestamp: %w", err)
	}
	return s, e, nil
}

func parseISO(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q does not conform to ISO 8601", s)
}

// renderRecallPage formats one page of recall hits, newest first, each hit
// rendered as the JSON form of its role-tagged wire entry.
func renderRecallPage(messages []protocol.Message, page, pageSize int) (string, error) {
	pages := (len(messages) + pageSize - 1) / pageSize

	var b strings.Builder
	fmt.Fprintf(&b, "Results for page %d/%d:", page, pages)

	offset := page * pageSize
	if offset > len(messages) {
		offset = len(messages)
	}
	slice := messages[offset:]
	if len(slice) > pageSize {
		slice = slice[:pageSize]
	}

	for i, msg := range slice {
		wire, err := msg.Wire()
		if err != nil {
			return "", err
		}
		entry, err := json.Marshal(map[string]string{"role": msg.ChatRole(), "content": wire})
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\n\nResult %d: %s", i+1, entry)
	}

	return b.String(), nil
}

// renderChatLogPage formats one page of chat log entries, reversed so the
// page reads oldest to newest.
func renderChatLogPage(entries []memory.ChatEntry, page, pageSize int) string {
	pages := (len(entries) + pageSize - 1) / pageSize

	var b strings.Builder
	if len(entries) > 0 {
		fmt.Fprintf(&b, "Results for page %d/%d (Newest message timestamp: %s, Oldest message timestamp: %s):",
			page, pages,
			entries[0].Timestamp.Format(time.RFC3339),
			entries[len(entries)-1].Timestamp.Format(time.RFC3339))
	} else {
		fmt.Fprintf(&b, "Results for page %d/%d:", page, pages)
	}

	offset := page * pageSize
	if offset > len(entries) {
		offset = len(entries)
	}
	slice := entries[offset:]
	if len(slice) > pageSize {
		slice = slice[:pageSize]
	}

	for i := len(slice) - 1; i >= 0; i-- {
		e := slice[i]
		fmt.Fprintf(&b, "\n\nResult %d (%s message, timestamp %s): %s",
			len(slice)-i, e.Kind, e.Timestamp.Format(time.RFC3339), e.Content)
	}

	return b.String()
}
