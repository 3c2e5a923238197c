package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/constants"
)

// Image is a product picture reference.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// FinalData is the human-curated product card. Every field is optional; a nil
// field means "absent", both on stored drafts and on patches.
type FinalData struct {
	Kind          *string        `json:"kind,omitempty"`
	Type          *string        `json:"type,omitempty"`
	Brand         *string        `json:"brand,omitempty"`
	Article       *string        `json:"article,omitempty"`
	Specs         map[string]any `json:"specs,omitempty"`
	GeneratedName *string        `json:"generated_name,omitempty"`
	Description   *string        `json:"description,omitempty"`
	Images        []Image        `json:"images,omitempty"`
}

// GauPrediction is the advisory product-group classification.
type GauPrediction struct {
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
}

// DuplicatesPrediction counts likely duplicates already in the catalog.
type DuplicatesPrediction struct {
	Count         int        `json:"count"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

// Predictions are advisory only and never gate a transition.
type Predictions struct {
	Gau        *GauPrediction        `json:"gau,omitempty"`
	Duplicates *DuplicatesPrediction `json:"duplicates,omitempty"`
}

// Draft represents a product card for data transfer between layers.
type Draft struct {
	ID            uuid.UUID             `json:"id"`
	Status        constants.DraftStatus `json:"status"`
	ExtractedData map[string]any        `json:"extracted_data"`
	FinalData     FinalData             `json:"final_data"`
	Predictions   Predictions           `json:"predictions"`
	ERPRefKey     *string               `json:"erp_ref_key"`
	SourceType    constants.SourceType  `json:"source_type"`
	SourcePayload string                `json:"source_payload"`
	ErrorMessage  *string               `json:"error_message,omitempty"`
	Version       int64                 `json:"version"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`

	// SourceRef locates stored source bytes (blob key for file uploads).
	SourceRef string `json:"-"`
}

// DisplayName picks the best human label available on the card.
func (d *Draft) DisplayName() string {
	switch {
	case d.FinalData.GeneratedName != nil && *d.FinalData.GeneratedName != "":
		return *d.FinalData.GeneratedName
	case d.FinalData.Brand != nil && d.FinalData.Article != nil:
		return *d.FinalData.Brand + " " + *d.FinalData.Article
	}
	return d.ExtractedName()
}

// ExtractedName is the product name the extractor found, if any.
func (d *Draft) ExtractedName() string {
	if data, ok := d.ExtractedData["data"].(map[string]any); ok {
		if name, ok := data["name"].(string); ok {
			return name
		}
	}
	if name, ok := d.ExtractedData["name"].(string); ok {
		return name
	}
	return ""
}
