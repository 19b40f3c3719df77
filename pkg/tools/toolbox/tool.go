package toolbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Handler executes a tool with the given JSON input and returns a text result.
// The input has already passed InputSchema validation when the tool is called
// through a ToolBox.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool represents an executable tool with a name, description, JSON Schema, and handler.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// SchemaFor reflects a Go struct type into a draft 2020-12 JSON Schema suitable
// for a Tool's InputSchema. Required fields and descriptions come from
// `jsonschema` struct tags; fields marked omitempty are optional.
func SchemaFor[T any]() json.RawMessage {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("toolbox: marshal schema for %T: %v", v, err))
	}
	return raw
}
