package tools

import (
	"fmt"

	"github.com/deskwing/deskwing/pkg/models"
)

// validateArgs checks call arguments against the tool's input schema, a
// JSON-schema subset: top-level "required" names and per-property "type".
func validateArgs(def *models.ToolDefinition, args map[string]any) error {
	schema := def.InputSchema
	if schema == nil {
		return nil
	}

	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, present := args[field]; !present {
				return &models.ValidationError{Tool: def.Name, Field: field, Reason: "required field missing"}
			}
		}
	} else if required, ok := schema["required"].([]any); ok {
		for _, f := range required {
			field, _ := f.(string)
			if _, present := args[field]; !present {
				return &models.ValidationError{Tool: def.Name, Field: field, Reason: "required field missing"}
			}
		}
	}

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	for field, raw := range args {
		propRaw, declared := properties[field]
		if !declared {
			continue
		}
		prop, ok := propRaw.(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := prop["type"].(string)
		if wantType == "" {
			continue
		}
		if !typeMatches(wantType, raw) {
			return &models.ValidationError{
				Tool:   def.Name,
				Field:  field,
				Reason: fmt.Sprintf("expected %s, got %T", wantType, raw),
			}
		}
	}
	return nil
}

// typeMatches checks a value against a JSON-schema primitive type name.
// Numbers arrive as float64 from JSON decoding.
func typeMatches(wantType string, v any) bool {
	switch wantType {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
