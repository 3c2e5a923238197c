package draft

// PatchSchema is the JSON Schema for the body of a final_data update.
// Nulls are accepted anywhere and mean "leave unchanged".
func PatchSchema() map[string]any {
	str := map[string]any{"type": []any{"string", "null"}, "maxLength": 2000}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"final_data"},
		"properties": map[string]any{
			"final_data": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"kind":           str,
					"type":           str,
					"brand":          str,
					"article":        str,
					"generated_name": str,
					"description":    map[string]any{"type": []any{"string", "null"}, "maxLength": 20000},
					"specs": map[string]any{
						"type": []any{"object", "null"},
						"additionalProperties": map[string]any{
							"type": []any{"string", "number", "boolean", "null", "array", "object"},
						},
					},
					"images": map[string]any{
						"type": []any{"array", "null"},
						"items": map[string]any{
							"type":                 "object",
							"additionalProperties": false,
							"required":             []any{"src"},
							"properties": map[string]any{
								"src": map[string]any{"type": "string", "minLength": 1},
								"alt": map[string]any{"type": []any{"string", "null"}},
							},
						},
					},
				},
			},
		},
	}
}
