package llm

import (
	"context"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

// SourceContent is the readable material an extraction runs over.
type SourceContent struct {
	SourceType constants.SourceType
	URL        string
	Filename   string
	Title      string
	Text       string
	ImageURLs  []string
}

// ProductFields is the normalized shape we want from the LLM.
type ProductFields struct {
	Name          string         `json:"name"`
	Kind          string         `json:"kind,omitempty"`
	Type          string         `json:"type,omitempty"`
	Brand         string         `json:"brand,omitempty"`
	Article       string         `json:"article,omitempty"`
	Price         string         `json:"price,omitempty"`
	Description   string         `json:"description,omitempty"`
	Specs         map[string]any `json:"specs,omitempty"`
	Images        []string       `json:"images,omitempty"`
	GauCode       string         `json:"gau_code,omitempty"`       // three digit product group
	GauConfidence float64        `json:"gau_confidence,omitempty"` // 0..1
}

type ExtractRequest struct {
	Source SourceContent
	// Locale steers the language of free-text fields.
	Locale string
}

// Extractor turns source content into product fields. The raw JSON returned
// alongside is persisted as extracted_data.
type Extractor interface {
	ExtractProduct(ctx context.Context, req ExtractRequest) (ProductFields, []byte, error)
}

type NameRequest struct {
	FinalData     entity.FinalData
	ExtractedData map[string]any
	Locale        string
}

// Namer produces a catalog display name for a draft.
type Namer interface {
	GenerateName(ctx context.Context, req NameRequest) (string, error)
}

// Provider bundles the model-backed collaborators chosen at startup.
type Provider interface {
	Extractor
	Namer
}

// Suggestion converts extracted fields into a final_data seed.
func (f ProductFields) Suggestion() entity.FinalData {
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	out := entity.FinalData{
		Kind:        opt(f.Kind),
		Type:        opt(f.Type),
		Brand:       opt(f.Brand),
		Article:     opt(f.Article),
		Description: opt(f.Description),
	}
	if len(f.Specs) > 0 {
		out.Specs = make(map[string]any, len(f.Specs))
		for k, v := range f.Specs {
			out.Specs[k] = v
		}
	}
	for _, src := range f.Images {
		out.Images = append(out.Images, entity.Image{Src: src, Alt: f.Name})
	}
	return out
}

// Prediction returns the GAU classification, if the model produced one.
func (f ProductFields) Prediction() *entity.GauPrediction {
	if f.GauCode == "" {
		return nil
	}
	return &entity.GauPrediction{Code: f.GauCode, Confidence: f.GauConfidence}
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
