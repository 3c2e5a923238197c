package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
)

// NormalizeAndSanitizeJSON
// - Renames known synonyms (title -> name, model -> article, ...)
// - Drops null/empty optionals
// - Coerces price and gau fields to their string forms
// - Flattens image objects to URLs and non-scalar specs to strings
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	// 1) rename synonyms to our schema
	renamed("title", "name")
	renamed("product_name", "name")
	renamed("manufacturer", "brand")
	renamed("vendor", "brand")
	renamed("model", "article")
	renamed("sku", "article")
	renamed("mpn", "article")
	renamed("category", "type")
	renamed("characteristics", "specs")
	renamed("attributes", "specs")
	renamed("image_urls", "images")
	renamed("pictures", "images")

	// 2) trim obvious strings, drop null / ""
	for _, k := range []string{"name", "kind", "type", "brand", "article", "description"} {
		switch v := m[k].(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		case nil:
			if _, ok := m[k]; ok {
				delete(m, k)
				dropped = append(dropped, k+"(null)")
			}
		case float64:
			m[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			delete(m, k)
			dropped = append(dropped, k+"(type)")
		}
	}

	// 3) price as plain decimal string
	if v, ok := m["price"]; ok {
		switch t := v.(type) {
		case float64:
			m["price"] = strconv.FormatFloat(t, 'f', -1, 64)
		case string:
			s := strings.Map(func(r rune) rune {
				switch {
				case r >= '0' && r <= '9', r == '.':
					return r
				case r == ',':
					return '.'
				}
				return -1
			}, t)
			if _, err := strconv.ParseFloat(s, 64); err != nil || s == "" {
				delete(m, "price")
				dropped = append(dropped, "price(format)")
			} else {
				m["price"] = s
			}
		default:
			delete(m, "price")
			dropped = append(dropped, "price(type)")
		}
	}

	// 4) specs: scalar values only
	switch specs := m["specs"].(type) {
	case map[string]any:
		for k, v := range maps.Clone(specs) {
			delete(specs, k)
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			switch t := v.(type) {
			case nil:
				dropped = append(dropped, "specs."+key+"(null)")
			case string:
				if s := strings.TrimSpace(t); s != "" {
					specs[key] = s
				}
			case float64, bool:
				specs[key] = t
			default:
				b, _ := json.Marshal(t)
				specs[key] = string(b)
			}
		}
		if len(specs) == 0 {
			delete(m, "specs")
		}
	case nil:
		delete(m, "specs")
	default:
		delete(m, "specs")
		dropped = append(dropped, "specs(type)")
	}

	// 5) images: URLs only
	if v, ok := m["images"]; ok {
		var urls []string
		if arr, ok := v.([]any); ok {
			for _, it := range arr {
				switch t := it.(type) {
				case string:
					if s := strings.TrimSpace(t); s != "" {
						urls = append(urls, s)
					}
				case map[string]any:
					for _, key := range []string{"src", "url", "href"} {
						if s, ok := t[key].(string); ok && strings.TrimSpace(s) != "" {
							urls = append(urls, strings.TrimSpace(s))
							break
						}
					}
				}
			}
		}
		if len(urls) == 0 {
			delete(m, "images")
		} else {
			m["images"] = urls
		}
	}

	// 6) gau code as three digits, confidence as 0..1
	switch t := m["gau_code"].(type) {
	case float64:
		m["gau_code"] = fmt.Sprintf("%03d", int(t))
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < 1000 {
			m["gau_code"] = fmt.Sprintf("%03d", n)
		} else {
			delete(m, "gau_code")
			dropped = append(dropped, "gau_code(format)")
		}
	case nil:
		delete(m, "gau_code")
	}
	switch t := m["gau_confidence"].(type) {
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			m["gau_confidence"] = clamp01(f)
		} else {
			delete(m, "gau_confidence")
		}
	case float64:
		m["gau_confidence"] = clamp01(t)
	case nil:
		delete(m, "gau_confidence")
	}

	// 7) remove unknown keys (everything not in the schema set below)
	allowed := map[string]struct{}{
		"name": {}, "kind": {}, "type": {}, "brand": {}, "article": {}, "price": {},
		"description": {}, "specs": {}, "images": {}, "gau_code": {}, "gau_confidence": {},
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// StripCodeFence removes a ```json ... ``` wrapper some models add around JSON.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
