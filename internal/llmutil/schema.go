// internal/llmutil/schema.go
package llmutil

import (
	"fmt"
	"math"
	"sort"
	"strings"

	json "github.com/json-iterator/go"
)

// Type is a JSON schema primitive type.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
)

// Schema is the provider-neutral description of an expected model output. It covers
// the subset of JSON schema that structured-output providers accept.
type Schema struct {
	Type        Type               `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
	// MinProperties/MaxProperties constrain objects such as single-key action entries.
	MinProperties int `json:"minProperties,omitempty"`
	MaxProperties int `json:"maxProperties,omitempty"`
}

// Object builds an object schema. Every listed property is required.
func Object(props map[string]*Schema) *Schema {
	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	sort.Strings(required)
	return &Schema{Type: TypeObject, Properties: props, Required: required}
}

func String(desc string) *Schema  { return &Schema{Type: TypeString, Description: desc} }
func Boolean(desc string) *Schema { return &Schema{Type: TypeBoolean, Description: desc} }
func Integer(desc string) *Schema { return &Schema{Type: TypeInteger, Description: desc} }
func Array(items *Schema) *Schema { return &Schema{Type: TypeArray, Items: items} }

// PropertyNames returns the property names in sorted order.
func (s *Schema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ValidateJSON decodes raw and validates it against the schema.
func (s *Schema) ValidateJSON(raw []byte) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return s.Validate(v)
}

// Validate checks a decoded JSON value against the schema.
func (s *Schema) Validate(v interface{}) error {
	return s.validate("$", v)
}

func (s *Schema) validate(path string, v interface{}) error {
	if s == nil {
		return nil
	}
	if v == nil {
		if s.Nullable {
			return nil
		}
		return fmt.Errorf("%s: expected %s, got null", path, s.Type)
	}

	switch s.Type {
	case TypeObject:
		obj, ok := v.(map[string]interface{})
		if !ok {
			return typeError(path, s.Type, v)
		}
		for _, name := range s.Required {
			if _, present := obj[name]; !present {
				return fmt.Errorf("%s: missing required property %q", path, name)
			}
		}
		n := countProperties(obj)
		if s.MinProperties > 0 && n < s.MinProperties {
			return fmt.Errorf("%s: expected at least %d properties, got %d", path, s.MinProperties, n)
		}
		if s.MaxProperties > 0 && n > s.MaxProperties {
			return fmt.Errorf("%s: expected at most %d properties, got %d", path, s.MaxProperties, n)
		}
		for name, prop := range s.Properties {
			if val, present := obj[name]; present {
				if err := prop.validate(path+"."+name, val); err != nil {
					return err
				}
			}
		}
	case TypeArray:
		arr, ok := v.([]interface{})
		if !ok {
			return typeError(path, s.Type, v)
		}
		for i, item := range arr {
			if err := s.Items.validate(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return typeError(path, s.Type, v)
		}
		if len(s.Enum) > 0 && !contains(s.Enum, str) {
			return fmt.Errorf("%s: %q is not one of [%s]", path, str, strings.Join(s.Enum, ", "))
		}
	case TypeNumber:
		if _, ok := v.(float64); !ok {
			return typeError(path, s.Type, v)
		}
	case TypeInteger:
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			return typeError(path, s.Type, v)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return typeError(path, s.Type, v)
		}
	}
	return nil
}

// countProperties counts the non-null properties of obj. Structured output
// fills unused nullable properties with null, so those do not count unless
// every property is null.
func countProperties(obj map[string]interface{}) int {
	n := 0
	for _, v := range obj {
		if v != nil {
			n++
		}
	}
	if n == 0 {
		return len(obj)
	}
	return n
}

func typeError(path string, want Type, got interface{}) error {
	return fmt.Errorf("%s: expected %s, got %T", path, want, got)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
