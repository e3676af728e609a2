package agent

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/memkeep/memkeep/pkg/llms"
	"github.com/memkeep/memkeep/pkg/protocol"
)

// GeneratePersona asks the LLM to write an Agent Persona serving the given
// free-form goals, enforcing the word cap before returning it.
func GeneratePersona(ctx context.Context, provider llms.Provider, goals string, maxWords, maxTries int) (string, error) {
	if strings.TrimSpace(goals) == "" {
		return "", fmt.Errorf("goals are required")
	}

	raw, err := llms.ChatWithRetry(ctx, provider, []llms.ChatMessage{
		{Role: llms.RoleUser, Content: personaGenPrompt(goals, maxWords)},
	}, maxTries)
	if err != nil {
		return "", err
	}

	block, err := protocol.ExtractYAMLBlock(raw)
	if err != nil {
		return "", err
	}

	var result struct {
		Persona string `yaml:"persona"`
	}
	if err := yaml.Unmarshal([]byte(block), &result); err != nil {
		return "", fmt.Errorf("persona result does not parse: %w", err)
	}
	if strings.TrimSpace(result.Persona) == "" {
		return "", fmt.Errorf("persona result is empty")
	}
	if n := len(strings.Fields(result.Persona)); n > maxWords {
		return "", fmt.Errorf("generated persona is %d words, limit %d", n, maxWords)
	}

	return result.Persona, nil
}
