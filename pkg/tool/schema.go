package tool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// generateSchema derives the arguments schema of a tool from its Go argument
// struct. Field names come from json tags; jsonschema tags add "required",
// "description=...", repeated "enum=..." values and numeric bounds.
//
// The reflected schema is round-tripped through JSON so it becomes plain
// maps, then reduced to the type/properties/required triple that is rendered
// into the prompt.
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	raw, err := json.Marshal(reflector.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize schema: %w", err)
	}

	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}

	if full["type"] != "object" {
		delete(full, "$schema")
		delete(full, "$id")
		return full, nil
	}

	reduced := map[string]any{
		"type":       "object",
		"properties": full["properties"],
	}
	if required, ok := full["required"]; ok {
		reduced["required"] = required
	}
	return reduced, nil
}
