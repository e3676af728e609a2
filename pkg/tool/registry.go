package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/memkeep/memkeep/pkg/llms"
	"github.com/memkeep/memkeep/pkg/memory"
	"github.com/memkeep/memkeep/pkg/protocol"
)

// Registry maps tool names to tools. A worker composes one registry at
// start from the base set plus the agent's optional set names.
type Registry struct {
	tools map[string]Tool
	order []string
}

// Deps carries the external collaborators optional tools need.
type Deps struct {
	// Provider backs LLM-assisted tools such as call_research_agent.
	Provider llms.Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// ForAgent composes the base set with the named optional sets.
func ForAgent(optionalSets []string, deps Deps) (*Registry, error) {
	r := NewRegistry()

	for _, t := range BaseTools() {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}

	for _, name := range optionalSets {
		tools, err := OptionalSet(name, deps)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			if err := r.Register(t); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Execute runs the named tool and converts any failure into an unsuccessful
// function result. Tool errors never escape this wrapper.
func (r *Registry) Execute(ctx context.Context, mem *memory.Memory, sess Session, call protocol.FunctionCall) protocol.FunctionResultContent {
	t, ok := r.tools[call.Name]
	if !ok {
		return protocol.FunctionResultContent{Success: false, Result: "Function does not exist"}
	}

	result, err := t.Execute(ctx, mem, sess, call.Arguments)
	if err != nil {
		slog.Warn("tool execution failed", "tool", call.Name, "error", err)
		return protocol.FunctionResultContent{Success: false, Result: err.Error()}
	}

	return protocol.FunctionResultContent{Success: true, Result: result}
}

// SchemasYAML renders the LLM-facing schema block for the system prompt.
func (r *Registry) SchemasYAML() (string, error) {
	type entry struct {
		Name        string         `yaml:"name"`
		Description string         `yaml:"description"`
		Parameters  map[string]any `yaml:"parameters"`
	}

	entries := make([]entry, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		entries = append(entries, entry{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}

	out, err := yaml.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to render tool schemas: %w", err)
	}
	return string(out), nil
}

// OptionalSetNames lists the known optional set names, sorted.
func OptionalSetNames() []string {
	names := make([]string, 0, len(optionalSets))
	for name := range optionalSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OptionalSet builds the named optional tool set.
func OptionalSet(name string, deps Deps) ([]Tool, error) {
	build, ok := optionalSets[name]
	if !ok {
		return nil, fmt.Errorf("unknown optional tool set: %q (available: %v)", name, OptionalSetNames())
	}
	return build(deps)
}
