package protocol

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var thinkBlockRe = regexp.MustCompile(`(?s)^\s*<think>.*?</think>`)

const yamlFence = "```yaml"

// ExtractYAMLBlock pulls the fenced YAML payload out of a raw model
// response. A leading <think>...</think> block is tolerated, the last
// fenced block wins when several appear, and lone surrogate code points
// are stripped before parsing.
func ExtractYAMLBlock(raw string) (string, error) {
	s := stripLoneSurrogates(raw)
	s = thinkBlockRe.ReplaceAllString(s, "")

	start := strings.LastIndex(s, yamlFence)
	if start < 0 {
		return "", fmt.Errorf("no fenced yaml block in response")
	}

	rest := s[start+len(yamlFence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", fmt.Errorf("unterminated yaml block in response")
	}

	return strings.TrimSpace(rest[:end]), nil
}

// ParseAssistantTurn extracts and validates the assistant turn envelope
// from a raw model response. If the model echoed the input framing, the
// nested content object is accepted as a fallback.
func ParseAssistantTurn(raw string) (*AssistantContent, error) {
	block, err := ExtractYAMLBlock(raw)
	if err != nil {
		return nil, err
	}

	var turn AssistantContent
	directErr := yaml.Unmarshal([]byte(block), &turn)
	if directErr == nil {
		if err := turn.Validate(); err == nil {
			return &turn, nil
		}
	}

	// The model sometimes conforms to the input message schema instead,
	// wrapping the turn in {message_type, timestamp, content}.
	var wrapped struct {
		Content AssistantContent `yaml:"content"`
	}
	if err := yaml.Unmarshal([]byte(block), &wrapped); err == nil {
		if err := wrapped.Content.Validate(); err == nil {
			return &wrapped.Content, nil
		}
	}

	if directErr != nil {
		return nil, fmt.Errorf("assistant turn does not parse: %w", directErr)
	}
	return nil, fmt.Errorf("assistant turn does not fit schema: %w", turn.Validate())
}

// stripLoneSurrogates drops surrogate code points and invalid UTF-8 bytes.
// Some backends leak these when truncating multi-byte output.
func stripLoneSurrogates(s string) string {
	if utf8.ValidString(s) && !strings.ContainsFunc(s, isSurrogate) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		if isSurrogate(r) {
			i += size
			continue
		}
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}

func isSurrogate(r rune) bool {
	return r >= 0xD800 && r <= 0xDFFF
}
