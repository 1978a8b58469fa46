package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validatorSchema() *Schema {
	return Object(map[string]*Schema{
		"is_valid": Boolean("whether the task is complete"),
		"reason":   String("why"),
		"answer":   String("final answer"),
	})
}

func TestObject_RequiresAllProperties(t *testing.T) {
	s := validatorSchema()
	assert.Equal(t, []string{"answer", "is_valid", "reason"}, s.Required)
	assert.Equal(t, []string{"answer", "is_valid", "reason"}, s.PropertyNames())
}

func TestSchema_ValidateJSON(t *testing.T) {
	tests := []struct {
		name    string
		schema  *Schema
		raw     string
		wantErr string
	}{
		{"valid object", validatorSchema(), `{"is_valid":true,"reason":"r","answer":"✅ a"}`, ""},
		{"missing property", validatorSchema(), `{"is_valid":true,"reason":"r"}`, `missing required property "answer"`},
		{"wrong type", validatorSchema(), `{"is_valid":"yes","reason":"r","answer":"a"}`, "$.is_valid: expected boolean"},
		{"not an object", validatorSchema(), `[1,2]`, "$: expected object"},
		{"invalid json", validatorSchema(), `{`, "invalid JSON"},
		{"integer accepts whole numbers", Integer("i"), `5`, ""},
		{"integer rejects fractions", Integer("i"), `5.5`, "expected integer"},
		{"array items", Array(Integer("i")), `[1,"x"]`, "$[1]: expected integer"},
		{"enum", &Schema{Type: TypeString, Enum: []string{"up", "down"}}, `"left"`, "is not one of [up, down]"},
		{"nullable", &Schema{Type: TypeString, Nullable: true}, `null`, ""},
		{"null not allowed", String("s"), `null`, "got null"},
		{"max properties", &Schema{Type: TypeObject, MaxProperties: 1}, `{"a":1,"b":2}`, "at most 1 properties"},
		{"min properties", &Schema{Type: TypeObject, MinProperties: 1}, `{}`, "at least 1 properties"},
		{"null siblings are not counted", &Schema{Type: TypeObject, MaxProperties: 1}, `{"a":1,"b":null,"c":null}`, ""},
		{"a lone null property counts", &Schema{Type: TypeObject, MinProperties: 1, MaxProperties: 1}, `{"a":null}`, ""},
		{"all null properties count", &Schema{Type: TypeObject, MaxProperties: 1}, `{"a":null,"b":null}`, "at most 1 properties"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.ValidateJSON([]byte(tt.raw))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
