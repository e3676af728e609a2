package tool

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/memkeep/memkeep/pkg/memory"
)

// funcTool adapts a typed Go function into a Tool, generating the argument
// schema from the Args struct tags.
type funcTool[Args any] struct {
	name        string
	description string
	schema      map[string]any
	fn          func(ctx context.Context, mem *memory.Memory, sess Session, args Args) (any, error)
}

// New creates a Tool from a typed function. Args must be a struct with json
// and jsonschema tags describing the parameters.
func New[Args any](name, description string, fn func(ctx context.Context, mem *memory.Memory, sess Session, args Args) (any, error)) (Tool, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if description == "" {
		return nil, fmt.Errorf("tool description is required")
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", name, err)
	}

	return &funcTool[Args]{
		name:        name,
		description: description,
		schema:      schema,
		fn:          fn,
	}, nil
}

// MustNew is New for statically known tools; it panics on definition errors.
func MustNew[Args any](name, description string, fn func(ctx context.Context, mem *memory.Memory, sess Session, args Args) (any, error)) Tool {
	t, err := New(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *funcTool[Args]) Name() string {
	return t.name
}

func (t *funcTool[Args]) Description() string {
	return t.description
}

func (t *funcTool[Args]) Schema() map[string]any {
	return t.schema
}

// Execute validates and decodes the argument map, then calls the function.
func (t *funcTool[Args]) Execute(ctx context.Context, mem *memory.Memory, sess Session, args map[string]any) (any, error) {
	if err := checkRequired(t.schema, args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.name, err)
	}

	var typed Args
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &typed,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.name, err)
	}

	return t.fn(ctx, mem, sess, typed)
}

// checkRequired rejects calls missing a schema-required argument.
func checkRequired(schema, args map[string]any) error {
	required, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	for _, key := range required {
		name, ok := key.(string)
		if !ok {
			continue
		}
		if _, present := args[name]; !present {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	return nil
}
