package registry

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// SchemaError lists the JSON Schema violations of one document.
type SchemaError struct {
	Schema string
	Errors []FieldError
}

// FieldError is a single schema violation at a field path.
type FieldError struct {
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("does not match %s:", e.Schema))
	for _, fe := range e.Errors {
		sb.WriteString(fmt.Sprintf(" %s: %s;", fe.Field, fe.Message))
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// validateDocument checks a raw JSON document against the named embedded schema.
func validateDocument(schemaName string, data []byte) error {
	schema, err := schemaFS.ReadFile("schemas/" + schemaName + ".schema.json")
	if err != nil {
		return fmt.Errorf("loading schema %s: %w", schemaName, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validating against %s: %w", schemaName, err)
	}
	if result.Valid() {
		return nil
	}

	schemaErr := &SchemaError{
		Schema: schemaName,
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		schemaErr.Errors = append(schemaErr.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return schemaErr
}
