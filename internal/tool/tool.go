package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Descriptor describes a tool to the decision stage and to argument
// validation: its name, what it does, and the JSON schema of its arguments.
type Descriptor struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	ArgumentSchema any    `json:"argument_schema"`
}

// Tool is one pluggable capability the pipeline can invoke.
type Tool interface {
	Describe() Descriptor
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// TextModel is the minimal reasoning-backend surface a tool may need for
// text completion (used by the summarizer).
type TextModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// reflectSchema builds a JSON schema for a tool's argument struct.
func reflectSchema(args any) map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(args)

	out := map[string]any{
		"type":       "object",
		"properties": schema.Properties,
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

// decodeArgs copies a raw argument map into a typed argument struct.
func decodeArgs(args map[string]any, into any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err = json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
