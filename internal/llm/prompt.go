package llm

import (
	"encoding/json"
	"sort"
	"strings"
)

// maxSourceChars bounds how much source text goes into a prompt.
const maxSourceChars = 6000

// BuildSystemPrompt composes the extraction system message.
func BuildSystemPrompt(req ExtractRequest) string {
	lang := strings.TrimSpace(req.Locale)
	if lang == "" {
		lang = "the language of the source"
	}
	parts := []string{
		"You are a product catalog assistant. Return ONLY JSON that matches the provided JSON Schema.",
		"'name' is the full commercial product name as a shopper would search for it.",
		"'kind' is the catalog entity kind (for example 'Product' or 'Service'); 'type' is the product category.",
		"'article' is the manufacturer part number or model code exactly as printed, without the brand.",
		"Put technical characteristics into 'specs' as short key/value pairs (units inside the value).",
		"'images' are absolute image URLs that show the product; never invent URLs.",
		"'gau_code' is a three digit product group code with 'gau_confidence' between 0 and 1; omit both if unsure.",
		"Write free-text fields in " + lang + ".",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the source material.
func BuildUserPrompt(req ExtractRequest) string {
	src := req.Source
	var b strings.Builder
	b.WriteString("Source type: ")
	b.WriteString(string(src.SourceType))
	b.WriteString("\n")
	if src.URL != "" {
		b.WriteString("URL: ")
		b.WriteString(src.URL)
		b.WriteString("\n")
	}
	if src.Filename != "" {
		b.WriteString("Filename: ")
		b.WriteString(src.Filename)
		b.WriteString("\n")
	}
	if src.Title != "" {
		b.WriteString("Page title: ")
		b.WriteString(src.Title)
		b.WriteString("\n")
	}
	if len(src.ImageURLs) > 0 {
		b.WriteString("Image candidates:\n")
		for i, u := range src.ImageURLs {
			if i == 8 {
				break
			}
			b.WriteString("- ")
			b.WriteString(u)
			b.WriteString("\n")
		}
	}

	text := strings.TrimSpace(src.Text)
	b.WriteString("\nSource text (first ~6k chars):\n")
	if len(text) > maxSourceChars {
		b.WriteString(truncateUTF8(text, maxSourceChars))
		b.WriteString("\n…(truncated)")
	} else {
		b.WriteString(text)
	}
	return b.String()
}

// BuildNamePrompt asks for a single catalog display name.
func BuildNamePrompt(req NameRequest) (system, user string) {
	system = "You write product names for a retail catalog. Reply with the name only, no quotes, " +
		"at most 120 characters: product type, brand, model, then the one or two most distinguishing characteristics."
	fd := req.FinalData
	var b strings.Builder
	line := func(k string, v *string) {
		if v != nil && strings.TrimSpace(*v) != "" {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(*v))
			b.WriteString("\n")
		}
	}
	line("Kind", fd.Kind)
	line("Type", fd.Type)
	line("Brand", fd.Brand)
	line("Article", fd.Article)
	if len(fd.Specs) > 0 {
		keys := make([]string, 0, len(fd.Specs))
		for k := range fd.Specs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Specs:\n")
		for _, k := range keys {
			v, _ := json.Marshal(fd.Specs[k])
			b.WriteString("- ")
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(strings.Trim(string(v), `"`))
			b.WriteString("\n")
		}
	}
	if name, ok := extractedName(req.ExtractedData); ok {
		b.WriteString("Name on the source: ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	if req.Locale != "" {
		b.WriteString("Language: ")
		b.WriteString(req.Locale)
		b.WriteString("\n")
	}
	return system, b.String()
}

func extractedName(extracted map[string]any) (string, bool) {
	if data, ok := extracted["data"].(map[string]any); ok {
		if n, ok := data["name"].(string); ok && n != "" {
			return n, true
		}
	}
	if n, ok := extracted["name"].(string); ok && n != "" {
		return n, true
	}
	return "", false
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
