package draft

import (
	"maps"

	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

// ApplyPatch merges p into base and returns a new value; neither input is
// modified. Scalars set in p win. Specs merge per key and nil values in the
// patch are skipped. Images are replaced as a whole when p carries them.
func ApplyPatch(base, p entity.FinalData) entity.FinalData {
	out := Clone(base)
	setStr(&out.Kind, p.Kind)
	setStr(&out.Type, p.Type)
	setStr(&out.Brand, p.Brand)
	setStr(&out.Article, p.Article)
	setStr(&out.GeneratedName, p.GeneratedName)
	setStr(&out.Description, p.Description)

	for k, v := range p.Specs {
		if v == nil {
			continue
		}
		if out.Specs == nil {
			out.Specs = make(map[string]any, len(p.Specs))
		}
		out.Specs[k] = v
	}
	if p.Images != nil {
		out.Images = append(make([]entity.Image, 0, len(p.Images)), p.Images...)
	}
	return out
}

// MergePatches folds q over p so that applying the result equals applying p
// then q.
func MergePatches(p, q entity.FinalData) entity.FinalData {
	return ApplyPatch(p, q)
}

// FillMissing copies keys from suggestion that base does not have yet.
// Extraction uses it so caller edits made during processing are kept.
func FillMissing(base, suggestion entity.FinalData) entity.FinalData {
	out := Clone(base)
	fill := func(dst **string, src *string) {
		if *dst == nil && src != nil && *src != "" {
			v := *src
			*dst = &v
		}
	}
	fill(&out.Kind, suggestion.Kind)
	fill(&out.Type, suggestion.Type)
	fill(&out.Brand, suggestion.Brand)
	fill(&out.Article, suggestion.Article)
	fill(&out.GeneratedName, suggestion.GeneratedName)
	fill(&out.Description, suggestion.Description)

	for k, v := range suggestion.Specs {
		if v == nil {
			continue
		}
		if _, ok := out.Specs[k]; ok {
			continue
		}
		if out.Specs == nil {
			out.Specs = make(map[string]any, len(suggestion.Specs))
		}
		out.Specs[k] = v
	}
	if out.Images == nil && len(suggestion.Images) > 0 {
		out.Images = append([]entity.Image(nil), suggestion.Images...)
	}
	return out
}

// IsEmpty reports whether a patch would change nothing.
func IsEmpty(p entity.FinalData) bool {
	if p.Kind != nil || p.Type != nil || p.Brand != nil || p.Article != nil ||
		p.GeneratedName != nil || p.Description != nil || p.Images != nil {
		return false
	}
	for _, v := range p.Specs {
		if v != nil {
			return false
		}
	}
	return true
}

// Clone deep-copies the top level of fd so callers can mutate freely.
func Clone(fd entity.FinalData) entity.FinalData {
	out := fd
	out.Kind = cloneStr(fd.Kind)
	out.Type = cloneStr(fd.Type)
	out.Brand = cloneStr(fd.Brand)
	out.Article = cloneStr(fd.Article)
	out.GeneratedName = cloneStr(fd.GeneratedName)
	out.Description = cloneStr(fd.Description)
	if len(fd.Specs) > 0 {
		out.Specs = maps.Clone(fd.Specs)
	} else {
		out.Specs = nil
	}
	if fd.Images != nil {
		out.Images = append(make([]entity.Image, 0, len(fd.Images)), fd.Images...)
	}
	return out
}

func setStr(dst **string, src *string) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
