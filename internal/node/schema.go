package node

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateAgainstSchema checks value against a raw JSON Schema document,
// the way a task's input.schema/output.schema clause constrains the shape
// of its transformed data (Serverless Workflow DSL v1.0 schema validation).
// Adapted from the teacher's pkg/schema/export_helper.go
// validateDataAgainstSchema, which ran the same gojsonschema.Validate
// call against an Agent's custom input schema; generalized here from
// agent-input validation to arbitrary task input/output values keyed by
// a Task.Input/Output.Schema document instead of Agent.InputSchema.
func ValidateAgainstSchema(schema json.RawMessage, value any) error {
	if len(schema) == 0 {
		return nil
	}
	dataJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for schema validation: %w", err)
	}

	schemaLoader := gojsonschema.NewBytesLoader(schema)
	dataLoader := gojsonschema.NewBytesLoader(dataJSON)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("evaluate schema: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}
