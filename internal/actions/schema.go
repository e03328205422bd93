package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldError is a single field-level validation failure
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Schema validates and describes an action's structured input. The document
// is plain JSON Schema: Describe hands it to model providers verbatim as the
// tool input schema, Validate checks user and agent input against it.
type Schema struct {
	doc      map[string]any
	compiled *jsonschema.Schema
}

// NewSchema compiles a JSON Schema document
func NewSchema(doc map[string]any) (*Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema document: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Schema{doc: doc, compiled: compiled}, nil
}

// MustSchema is NewSchema for package-level action definitions
func MustSchema(doc map[string]any) *Schema {
	s, err := NewSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks input against the schema and returns field-level failures
func (s *Schema) Validate(input map[string]any) []FieldError {
	err := s.compiled.Validate(normalize(input))
	if err == nil {
		return nil
	}

	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []FieldError{{Message: err.Error()}}
	}

	var errs []FieldError
	collectLeaves(ve, &errs)
	return errs
}

// Describe returns the raw schema document. Safe on a nil schema so callers
// can describe definitions that take no input.
func (s *Schema) Describe() map[string]any {
	if s == nil {
		return nil
	}
	return s.doc
}

// collectLeaves walks the validation error tree and keeps the most specific
// failures, one per instance location
func collectLeaves(ve *jsonschema.ValidationError, out *[]FieldError) {
	if len(ve.Causes) == 0 {
		*out = append(*out, FieldError{
			Field:   instanceField(ve.InstanceLocation),
			Message: ve.Message,
		})
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, out)
	}
}

func instanceField(location string) string {
	return strings.TrimPrefix(strings.ReplaceAll(location, "/", "."), ".")
}

// normalize round-trips input through JSON so typed Go values (int, struct)
// validate the same as decoded request bodies
func normalize(input map[string]any) any {
	raw, err := json.Marshal(input)
	if err != nil {
		return input
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return input
	}
	return v
}
