// Package protocol defines the typed message model shared by the memory
// tiers, the heartbeat loop and the session channel, plus the YAML wire
// format the model reads and writes.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the four message variants.
type Kind string

const (
	KindUser           Kind = "user"
	KindSystem         Kind = "system"
	KindAssistant      Kind = "assistant"
	KindFunctionResult Kind = "function_res"
)

// TimestampLayout is the human-readable timestamp shown to the model.
const TimestampLayout = "Mon 02 Jan 2006, 03:04PM"

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindUser, KindSystem, KindAssistant, KindFunctionResult:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("invalid message kind: %q", s)
	}
}

// Content is the tagged payload of a Message.
type Content interface {
	isContent()
}

// TextContent carries user and system turns.
type TextContent struct {
	Message string `json:"message" yaml:"message"`
}

func (TextContent) isContent() {}

// Emotion is one (label, intensity) pair of the assistant's emotional state.
// On the wire it is a two-element sequence: ["curious", 7].
type Emotion struct {
	Label     string `json:"label"`
	Intensity int    `json:"intensity"`
}

// MarshalYAML renders the pair as a flow sequence.
func (e Emotion) MarshalYAML() (any, error) {
	return []any{e.Label, e.Intensity}, nil
}

// UnmarshalYAML accepts a [label, intensity] pair. Intensity may arrive as a
// float from the model; it is truncated to an int.
func (e *Emotion) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode || len(value.Content) != 2 {
		return fmt.Errorf("emotion must be a [label, intensity] pair")
	}
	if err := value.Content[0].Decode(&e.Label); err != nil {
		return fmt.Errorf("invalid emotion label: %w", err)
	}
	var intensity float64
	if err := value.Content[1].Decode(&intensity); err != nil {
		return fmt.Errorf("invalid emotion intensity: %w", err)
	}
	e.Intensity = int(intensity)
	return nil
}

// FunctionCall is the tool invocation the assistant selects each tick.
type FunctionCall struct {
	Name        string         `json:"name" yaml:"name"`
	Arguments   map[string]any `json:"arguments" yaml:"arguments"`
	DoHeartbeat bool           `json:"do_heartbeat" yaml:"do_heartbeat"`
}

// AssistantContent is the assistant turn envelope: emotional state, inner
// monologue and the selected function call.
type AssistantContent struct {
	Emotions     []Emotion    `json:"emotions" yaml:"emotions"`
	Thoughts     []string     `json:"thoughts" yaml:"thoughts"`
	FunctionCall FunctionCall `json:"function_call" yaml:"function_call"`
}

func (AssistantContent) isContent() {}

// Validate checks the envelope against the assistant turn schema.
func (c *AssistantContent) Validate() error {
	if strings.TrimSpace(c.FunctionCall.Name) == "" {
		return fmt.Errorf("function_call.name is required")
	}
	for _, e := range c.Emotions {
		if e.Intensity < 1 || e.Intensity > 10 {
			return fmt.Errorf("emotion %q intensity %d out of range [1,10]", e.Label, e.Intensity)
		}
	}
	return nil
}

// FunctionResultContent is the uniform result shape of a tool invocation.
type FunctionResultContent struct {
	Success bool `json:"success" yaml:"success"`
	Result  any  `json:"result" yaml:"result"`
}

func (FunctionResultContent) isContent() {}

// Message is one timestamped turn in an agent's history. Messages are
// created once and never mutated; the FIFO tier evicts, Recall keeps all.
type Message struct {
	Kind      Kind
	Timestamp time.Time
	Content   Content
}

// NewText builds a user- or system-kind text message stamped now.
func NewText(kind Kind, text string) Message {
	return Message{Kind: kind, Timestamp: time.Now(), Content: TextContent{Message: text}}
}

// NewAssistant builds an assistant message stamped now.
func NewAssistant(content AssistantContent) Message {
	return Message{Kind: KindAssistant, Timestamp: time.Now(), Content: content}
}

// NewFunctionResult builds a function-result message stamped now.
func NewFunctionResult(success bool, result any) Message {
	return Message{
		Kind:      KindFunctionResult,
		Timestamp: time.Now(),
		Content:   FunctionResultContent{Success: success, Result: result},
	}
}

// ChatRole is the role the message occupies after role translation:
// assistant turns keep their role, everything else folds into user entries.
func (m Message) ChatRole() string {
	if m.Kind == KindAssistant {
		return "assistant"
	}
	return "user"
}

// Wire serializes the message to the standard YAML block the model sees.
func (m Message) Wire() (string, error) {
	doc := map[string]any{
		"message_type": string(m.Kind),
		"timestamp":    m.Timestamp.Format(TimestampLayout),
		"content":      m.Content,
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to serialize %s message: %w", m.Kind, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Text returns the inner text of a user/system message, or "" otherwise.
func (m Message) Text() string {
	if tc, ok := m.Content.(TextContent); ok {
		return tc.Message
	}
	return ""
}

// envelope is the JSON storage/transport form of a Message.
type envelope struct {
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Content   json.RawMessage `json:"content"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	content, err := EncodeContent(m.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: m.Kind, Timestamp: m.Timestamp, Content: content})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode message envelope: %w", err)
	}
	content, err := DecodeContent(env.Kind, env.Content)
	if err != nil {
		return err
	}
	m.Kind = env.Kind
	m.Timestamp = env.Timestamp
	m.Content = content
	return nil
}

// EncodeContent serializes a content variant for storage.
func EncodeContent(c Content) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("message content cannot be nil")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content: %w", err)
	}
	return data, nil
}

// DecodeContent deserializes a stored content variant for the given kind.
func DecodeContent(kind Kind, data []byte) (Content, error) {
	switch kind {
	case KindUser, KindSystem:
		var c TextContent
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode text content: %w", err)
		}
		return c, nil
	case KindAssistant:
		var c AssistantContent
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode assistant content: %w", err)
		}
		return c, nil
	case KindFunctionResult:
		var c FunctionResultContent
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode function result content: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("invalid message kind: %q", kind)
	}
}
