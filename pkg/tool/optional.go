package tool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/memkeep/memkeep/pkg/llms"
	"github.com/memkeep/memkeep/pkg/memory"
)

// optionalSets maps set names to their builders. An agent row stores the
// set names it was created with; the worker composes its registry from them.
var optionalSets = map[string]func(Deps) ([]Tool, error){
	"interpreter": buildInterpreterSet,
	"web_search":  buildWebSearchSet,
}

const executeTimeout = 30 * time.Second

type executePythonArgs struct {
	Program string `json:"program" jsonschema:"required,description=Python program to be run in the sandbox."`
}

func buildInterpreterSet(Deps) ([]Tool, error) {
	t, err := New("execute_python",
		"Executes a Python 3 program in a sandbox (maximum execution time: 30s). Use this when you need to run computations requiring accuracy or mathematical calculations. Stdout and stderr returned.",
		func(ctx context.Context, mem *memory.Memory, sess Session, args executePythonArgs) (any, error) {
			runCtx, cancel := context.WithTimeout(ctx, executeTimeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "python3", "-I", "-c", args.Program)

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			runErr := cmd.Run()
			output := fmt.Sprintf("stdout: %s\n\nstderr: %s", stdout.String(), stderr.String())

			// Nonzero exit means the program failed; surface the output
			// so the model can recover.
			if runErr != nil {
				return nil, fmt.Errorf("%s\n\n%s", runErr, output)
			}
			return output, nil
		})
	if err != nil {
		return nil, err
	}
	return []Tool{t}, nil
}

const researchPrompt = `You are a research assistant. Answer the following question as accurately and completely as you can, stating clearly when you are uncertain or when the answer may have changed since your knowledge was last updated.`

type callResearchAgentArgs struct {
	Query string `json:"query" jsonschema:"required,description=Question to ask the researcher to research about. Should have the necessary background information and be well-framed and specific in the required internet information."`
}

func buildWebSearchSet(deps Deps) ([]Tool, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("web_search tool set requires an LLM provider")
	}

	t, err := New("call_research_agent",
		"Requests a researcher AI to search the web to answer a given query.",
		func(ctx context.Context, mem *memory.Memory, sess Session, args callResearchAgentArgs) (any, error) {
			answer, err := deps.Provider.Chat(ctx, []llms.ChatMessage{
				{Role: llms.RoleSystem, Content: researchPrompt},
				{Role: llms.RoleUser, Content: args.Query},
			})
			if err != nil {
				return nil, fmt.Errorf("research agent failed: %w", err)
			}
			return answer, nil
		})
	if err != nil {
		return nil, err
	}
	return []Tool{t}, nil
}
