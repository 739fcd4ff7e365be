package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const resourceURL = "record.schema.json"

// Validator checks candidate records against a compiled Schema.
// It is safe for concurrent use.
type Validator struct {
	schema   *Schema
	compiled *jsonschema.Schema
}

// Violation describes the first place a value fails the schema.
type Violation struct {
	// Path is a JSON pointer into the record, e.g. "/sentiment".
	Path    string
	Message string
}

func (v *Violation) Error() string {
	if v.Path == "" {
		return v.Message
	}
	return fmt.Sprintf("at %s: %s", v.Path, v.Message)
}

// Compile prepares a Validator for the schema.
func (s *Schema) Compile() (*Validator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	doc, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("encoding json schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(resourceURL, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	compiled, err := c.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &Validator{schema: s, compiled: compiled}, nil
}

// Schema returns the schema the validator was compiled from.
func (v *Validator) Schema() *Schema { return v.schema }

// ValidateRecord checks a decoded JSON value. On failure it returns a
// *Violation for the most specific failing location.
func (v *Validator) ValidateRecord(value any) error {
	err := v.compiled.Validate(value)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return &Violation{Path: leaf.InstanceLocation, Message: leaf.Message}
}
