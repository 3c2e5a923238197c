package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
)

// Mock is a deterministic Provider used when no model is configured and in tests.
// It reads names, brands, model codes and "key: value" spec lines straight from
// the source text.
type Mock struct {
	// Err, when set, is returned by every call.
	Err error
}

func NewMock() *Mock { return &Mock{} }

var (
	knownBrands = []string{
		"Logitech", "Apple", "Samsung", "Xiaomi", "Bosch", "Sony", "Lenovo",
		"Razer", "Dell", "Asus", "Acer", "Philips", "Makita", "Canon", "HP",
	}
	kindKeywords = []struct {
		keyword, typ string
	}{
		{"mouse", "Computer mouse"},
		{"keyboard", "Keyboard"},
		{"headphone", "Headphones"},
		{"headset", "Headphones"},
		{"monitor", "Monitor"},
		{"laptop", "Laptop"},
		{"drill", "Power tool"},
		{"printer", "Printer"},
		{"phone", "Smartphone"},
	}
	reArticle  = regexp.MustCompile(`\b([A-Z]{1,5}[- ]?\d{1,5}[A-Z0-9-]*|[A-Z]{2,}[- ][A-Z0-9]{1,8}(?:[- ][A-Z0-9]{1,4})?)\b`)
	reSpecLine = regexp.MustCompile(`^\s*([^:\n]{2,40}):\s*(.{1,120})\s*$`)
	rePrice    = regexp.MustCompile(`(?i)(?:price|цена)\s*:?\s*([\d\s]+(?:[.,]\d{1,2})?)`)
)

// ExtractProduct implements Extractor.
func (m *Mock) ExtractProduct(ctx context.Context, req ExtractRequest) (ProductFields, []byte, error) {
	if err := ctx.Err(); err != nil {
		return ProductFields{}, nil, err
	}
	if m.Err != nil {
		return ProductFields{}, nil, m.Err
	}
	src := req.Source
	text := strings.TrimSpace(src.Text)
	if text == "" && src.Title == "" {
		return ProductFields{}, nil, common.NewValidationError("source has no readable content")
	}

	name := strings.TrimSpace(src.Title)
	if name == "" {
		name = firstLine(text)
	}
	if len(name) > 120 {
		name = truncateUTF8(name, 120)
	}
	haystack := name + "\n" + text

	out := ProductFields{
		Name:          name,
		Kind:          "Product",
		Brand:         detectBrand(haystack),
		Type:          detectType(haystack),
		Specs:         specLines(text),
		Images:        src.ImageURLs,
		GauCode:       "001",
		GauConfidence: 0.95,
	}
	if a := reArticle.FindString(name); a != "" {
		out.Article = strings.ReplaceAll(a, " ", "-")
	}
	if p := rePrice.FindStringSubmatch(text); len(p) == 2 {
		out.Price = strings.ReplaceAll(strings.ReplaceAll(strings.TrimSpace(p[1]), " ", ""), ",", ".")
	}
	if desc := paragraphAfter(text, name); desc != "" {
		out.Description = truncateUTF8(desc, 500)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return ProductFields{}, nil, fmt.Errorf("mock: encode: %w", err)
	}
	return out, raw, nil
}

// GenerateName implements Namer.
func (m *Mock) GenerateName(ctx context.Context, req NameRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	fd := req.FinalData
	var parts []string
	add := func(p *string) {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	add(fd.Type)
	add(fd.Brand)
	add(fd.Article)
	for _, key := range []string{"color", "Color", "Цвет", "connection", "Тип подключения"} {
		if v, ok := fd.Specs[key].(string); ok && v != "" {
			parts = append(parts, strings.ToLower(v))
			break
		}
	}
	if len(parts) == 0 {
		if n, ok := extractedName(req.ExtractedData); ok {
			return n, nil
		}
		return "", common.NewValidationError("draft has no data to build a name from")
	}
	return strings.Join(parts, " "), nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			return l
		}
	}
	return ""
}

func paragraphAfter(text, name string) string {
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if l == "" || l == name || reSpecLine.MatchString(l) {
			continue
		}
		if len(l) >= 20 {
			return l
		}
	}
	return ""
}

func detectBrand(s string) string {
	lower := strings.ToLower(s)
	for _, b := range knownBrands {
		idx := strings.Index(lower, strings.ToLower(b))
		if idx < 0 {
			continue
		}
		end := idx + len(b)
		if (idx == 0 || !isWordRune(rune(lower[idx-1]))) && (end == len(lower) || !isWordRune(rune(lower[end]))) {
			return b
		}
	}
	return ""
}

func detectType(s string) string {
	lower := strings.ToLower(s)
	for _, k := range kindKeywords {
		if strings.Contains(lower, k.keyword) {
			return k.typ
		}
	}
	return ""
}

func specLines(text string) map[string]any {
	specs := map[string]any{}
	for _, line := range strings.Split(text, "\n") {
		mm := reSpecLine.FindStringSubmatch(line)
		if len(mm) != 3 {
			continue
		}
		key := strings.TrimSpace(mm[1])
		if strings.Contains(key, "://") || strings.EqualFold(key, "price") || strings.HasPrefix(strings.ToLower(key), "http") {
			continue
		}
		specs[key] = strings.TrimSpace(mm[2])
	}
	if len(specs) == 0 {
		return nil
	}
	return specs
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
