package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/catalog-drafts/internal/core/draft"
)

func TestPatchSchema(t *testing.T) {
	s, err := Compile("patch", draft.PatchSchema())
	require.NoError(t, err)

	ok := []string{
		`{"final_data":{}}`,
		`{"final_data":{"brand":"Logitech","specs":{"dpi":8000,"wireless":true}}}`,
		`{"final_data":{"brand":null,"images":[{"src":"https://cdn/x.jpg","alt":"front"}]}}`,
	}
	for _, body := range ok {
		assert.NoError(t, s.ValidateJSON([]byte(body)), body)
	}

	bad := []string{
		`{}`,
		`{"final_data":{"status":"synced"}}`,
		`{"final_data":{"images":[{"alt":"no src"}]}}`,
		`{"final_data":{"brand":42}}`,
		`not json`,
	}
	for _, body := range bad {
		assert.Error(t, s.ValidateJSON([]byte(body)), body)
	}
}

func TestValidateJSONAgainstSchema(t *testing.T) {
	m := map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "minLength": 1},
		},
	}
	assert.NoError(t, ValidateJSONAgainstSchema(m, []byte(`{"name":"mouse"}`)))
	assert.Error(t, ValidateJSONAgainstSchema(m, []byte(`{"name":""}`)))
}
