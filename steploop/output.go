package steploop

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/coopersmall/agentruntime/message"
)

// validateOutput compiles schemaBytes and validates inputJSON against it,
// matching the registry's schema-validation pattern: decode both documents,
// compile via jsonschema.NewCompiler, validate the payload. On success it
// returns the output-tool's value wrapped as a {type: json} ToolOutput
// (spec.md §4.4 step 7).
func validateOutput(schemaBytes []byte, inputJSON string) (*message.ToolOutput, error) {
	var payload any
	if err := json.Unmarshal([]byte(inputJSON), &payload); err != nil {
		return nil, fmt.Errorf("decode output-tool input: %w", err)
	}
	if len(schemaBytes) == 0 {
		out, err := message.JSONOutput(payload)
		return out, err
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return nil, fmt.Errorf("decode output-tool schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("output-schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add output schema resource: %w", err)
	}
	schema, err := c.Compile("output-schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return nil, err
	}
	return message.JSONOutput(payload)
}
