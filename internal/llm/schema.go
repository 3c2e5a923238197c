package llm

// BuildProductJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as a structured output constraint and also use it locally to validate.
func BuildProductJSONSchema() map[string]any {
	props := map[string]any{
		"name":        map[string]any{"type": "string", "minLength": 1, "maxLength": 300},
		"kind":        map[string]any{"type": "string"},
		"type":        map[string]any{"type": "string"},
		"brand":       map[string]any{"type": "string"},
		"article":     map[string]any{"type": "string"},
		"price":       map[string]any{"type": "string", "pattern": `^\d+(\.\d{1,2})?$`},
		"description": map[string]any{"type": "string"},
		"specs": map[string]any{
			"type": "object",
			"additionalProperties": map[string]any{
				"type": []any{"string", "number", "boolean"},
			},
		},
		"images": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "minLength": 1},
		},
		"gau_code":       map[string]any{"type": "string", "pattern": `^\d{3}$`},
		"gau_confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"name"},
	}
}
