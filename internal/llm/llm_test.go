package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

func strp(s string) *string { return &s }

func TestMockExtractProduct(t *testing.T) {
	m := NewMock()
	fields, raw, err := m.ExtractProduct(context.Background(), ExtractRequest{Source: SourceContent{
		SourceType: constants.SourceTypeText,
		Text:       "Logitech M705 Marathon\nWireless mouse with five year battery life.\n\nColor: Black\nPrice: 3 490,50",
		ImageURLs:  []string{"https://shop.test/m705.jpg"},
	}})
	require.NoError(t, err)

	assert.Equal(t, "Logitech M705 Marathon", fields.Name)
	assert.Equal(t, "Logitech", fields.Brand)
	assert.Equal(t, "M705", fields.Article)
	assert.Equal(t, "Computer mouse", fields.Type)
	assert.Equal(t, "3490.50", fields.Price)
	assert.Equal(t, "Black", fields.Specs["Color"])
	assert.Equal(t, "Wireless mouse with five year battery life.", fields.Description)
	assert.Equal(t, []string{"https://shop.test/m705.jpg"}, fields.Images)

	var decoded ProductFields
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, fields.Name, decoded.Name)
}

func TestMockExtractProductErrors(t *testing.T) {
	_, _, err := NewMock().ExtractProduct(context.Background(), ExtractRequest{Source: SourceContent{Text: "  "}})
	assert.Equal(t, common.CodeValidation, common.ErrorCode(err))

	boom := errors.New("boom")
	_, _, err = (&Mock{Err: boom}).ExtractProduct(context.Background(), ExtractRequest{Source: SourceContent{Text: "x"}})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = NewMock().ExtractProduct(ctx, ExtractRequest{Source: SourceContent{Text: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockGenerateName(t *testing.T) {
	m := NewMock()
	name, err := m.GenerateName(context.Background(), NameRequest{FinalData: entity.FinalData{
		Type:    strp("Computer mouse"),
		Brand:   strp("Logitech"),
		Article: strp(" M705 "),
		Specs:   map[string]any{"color": "Black"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Computer mouse Logitech M705 black", name)

	name, err = m.GenerateName(context.Background(), NameRequest{
		ExtractedData: map[string]any{"data": map[string]any{"name": "Bosch GSR 120-LI"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bosch GSR 120-LI", name)

	_, err = m.GenerateName(context.Background(), NameRequest{})
	assert.Equal(t, common.CodeValidation, common.ErrorCode(err))
}

func TestDetectBrandNeedsWordBoundary(t *testing.T) {
	assert.Equal(t, "HP", detectBrand("HP LaserJet 107a"))
	assert.Equal(t, "", detectBrand("Asustor NAS"))
	assert.Equal(t, "Sony", detectBrand("headphones by sony."))
}

func TestNormalizeAndSanitizeJSON(t *testing.T) {
	in := `{
		"title": "  Logitech K120 ",
		"manufacturer": "Logitech",
		"model": "K120",
		"brand": "",
		"price": "1 299,00 RUB",
		"characteristics": {"Color": "Black", "Keys": 104, "Layout": {"en": true}, "": "x", "Cable": null},
		"pictures": [{"src": "https://shop.test/k120.jpg"}, "https://shop.test/k120-2.jpg", 7],
		"gau_code": 42,
		"gau_confidence": "1.7",
		"seller": "somebody"
	}`
	out, dropped, err := NormalizeAndSanitizeJSON([]byte(in), nil)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "Logitech K120", m["name"])
	assert.Equal(t, "K120", m["article"])
	assert.Equal(t, "1299.00", m["price"])
	assert.Equal(t, "042", m["gau_code"])
	assert.Equal(t, 1.0, m["gau_confidence"])
	assert.Equal(t, []any{"https://shop.test/k120.jpg", "https://shop.test/k120-2.jpg"}, m["images"])
	assert.Equal(t, map[string]any{"Color": "Black", "Keys": 104.0, "Layout": `{"en":true}`}, m["specs"])
	assert.NotContains(t, m, "seller")
	// an empty brand blocks the manufacturer synonym and is then dropped
	assert.NotContains(t, m, "brand")
	assert.Contains(t, dropped, "seller(unknown)")
	assert.Contains(t, dropped, "specs.Cable(null)")

	_, _, err = NormalizeAndSanitizeJSON([]byte(`[1,2]`), nil)
	assert.Error(t, err)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence(`  {"a":1} `))
}

func TestBuildPrompts(t *testing.T) {
	req := ExtractRequest{Locale: "ru", Source: SourceContent{
		SourceType: constants.SourceTypeURL,
		URL:        "https://shop.test/p/1",
		Title:      "Logitech MX Master 3S",
		Text:       strings.Repeat("ж", maxSourceChars),
		ImageURLs:  []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"},
	}}
	assert.Contains(t, BuildSystemPrompt(req), "Write free-text fields in ru.")
	assert.Contains(t, BuildSystemPrompt(ExtractRequest{}), "the language of the source")

	user := BuildUserPrompt(req)
	assert.Contains(t, user, "URL: https://shop.test/p/1")
	assert.Contains(t, user, "Page title: Logitech MX Master 3S")
	assert.Contains(t, user, "- h\n")
	assert.NotContains(t, user, "- i\n")
	assert.Contains(t, user, "…(truncated)")

	_, named := BuildNamePrompt(NameRequest{
		FinalData:     entity.FinalData{Brand: strp("Logitech"), Specs: map[string]any{"dpi": 8000, "color": "graphite"}},
		ExtractedData: map[string]any{"name": "MX Master 3S"},
		Locale:        "en",
	})
	assert.Contains(t, named, "Brand: Logitech\n")
	assert.Contains(t, named, "Specs:\n- color: graphite\n- dpi: 8000\n")
	assert.Contains(t, named, "Name on the source: MX Master 3S")
	assert.Contains(t, named, "Language: en")
}

func TestTruncateUTF8KeepsRunesWhole(t *testing.T) {
	s := "ab" + "ж" + "c"
	assert.Equal(t, "ab", truncateUTF8(s, 3))
	assert.Equal(t, "abж", truncateUTF8(s, 4))
	assert.Equal(t, s, truncateUTF8(s, 10))
}

func TestProductFieldsSuggestion(t *testing.T) {
	f := ProductFields{
		Name:    "Logitech M705",
		Brand:   "Logitech",
		Article: "M705",
		Specs:   map[string]any{"color": "black"},
		Images:  []string{"https://shop.test/1.jpg"},
		GauCode: "123", GauConfidence: 0.4,
	}
	s := f.Suggestion()
	assert.Nil(t, s.Kind)
	assert.Equal(t, "Logitech", *s.Brand)
	assert.Equal(t, []entity.Image{{Src: "https://shop.test/1.jpg", Alt: "Logitech M705"}}, s.Images)

	f.Specs["color"] = "white"
	assert.Equal(t, "black", s.Specs["color"])

	assert.Equal(t, &entity.GauPrediction{Code: "123", Confidence: 0.4}, f.Prediction())
	assert.Nil(t, ProductFields{}.Prediction())
}
