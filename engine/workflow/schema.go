package workflow

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed workflow.schema.json
var schemaSource string

var documentSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaSource))
	if err != nil {
		panic(fmt.Sprintf("workflow schema is not valid JSON: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("workflow.schema.json", doc); err != nil {
		panic(fmt.Sprintf("failed to register workflow schema: %v", err))
	}
	schema, err := compiler.Compile("workflow.schema.json")
	if err != nil {
		panic(fmt.Sprintf("failed to compile workflow schema: %v", err))
	}
	return schema
}

// ValidateJSON checks a raw workflow document against the embedded schema.
// This catches shape errors (wrong types, missing required fields) before
// decoding; semantic rules live in Validate.
func ValidateJSON(data []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("document is not valid JSON: %v", err)}
	}
	if err := documentSchema.Validate(instance); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}
