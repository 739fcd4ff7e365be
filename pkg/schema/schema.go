// Package schema describes the shape of one extracted record and validates
// candidate records against it.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// FieldType is the JSON type of a field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Record is one validated output element.
type Record = map[string]any

// Field is one named property of a record.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	// Enum restricts a string field to a fixed set of values.
	Enum []string `json:"enum,omitempty" yaml:"enum,omitempty"`
	// Items is the element type of an array field.
	Items *Field `json:"items,omitempty" yaml:"items,omitempty"`
}

// Schema is the structural contract every output record must satisfy.
type Schema struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the schema definition itself.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q has no fields", s.Name)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if !fieldName.MatchString(f.Name) {
			return fmt.Errorf("invalid field name %q", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if err := f.validateType(); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}

func (f Field) validateType() error {
	switch f.Type {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeObject:
	case TypeArray:
		if f.Items == nil {
			return fmt.Errorf("array field needs items")
		}
		return f.Items.validateType()
	default:
		return fmt.Errorf("unsupported type %q", f.Type)
	}
	if len(f.Enum) > 0 && f.Type != TypeString {
		return fmt.Errorf("enum is only supported on string fields")
	}
	return nil
}

// JSONSchema renders the schema as a draft 2020-12 JSON Schema document.
// Optional fields also accept null.
func (s *Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	required := []string{}
	for _, f := range s.Fields {
		prop := f.jsonSchema()
		if !f.Required {
			prop["type"] = []any{string(f.Type), "null"}
			if len(f.Enum) > 0 {
				prop["enum"] = append(prop["enum"].([]any), nil)
			}
		} else {
			required = append(required, f.Name)
		}
		props[f.Name] = prop
	}

	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"title":      s.Name,
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	if s.Description != "" {
		doc["description"] = s.Description
	}
	return doc
}

func (f Field) jsonSchema() map[string]any {
	prop := map[string]any{"type": string(f.Type)}
	if f.Description != "" {
		prop["description"] = f.Description
	}
	if len(f.Enum) > 0 {
		enum := make([]any, len(f.Enum))
		for i, e := range f.Enum {
			enum[i] = e
		}
		prop["enum"] = enum
	}
	if f.Type == TypeArray && f.Items != nil {
		prop["items"] = f.Items.jsonSchema()
	}
	return prop
}

// Describe returns the indented JSON Schema text shown to the model.
func (s *Schema) Describe() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	// Encoding a map of JSON-native values cannot fail.
	_ = enc.Encode(s.JSONSchema())
	return string(bytes.TrimSpace(buf.Bytes()))
}

// Parse reads a schema definition from YAML or JSON.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &s, nil
}

// Load reads a schema definition file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return Parse(data)
}

// Decode converts validated records into values of a caller-defined type.
func Decode[T any](records []Record) ([]T, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encoding records: %w", err)
	}
	out := make([]T, 0, len(records))
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return out, nil
}
