package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/constants"
)

// CatalogItem is the local mirror of an item known to the ERP catalog.
type CatalogItem struct {
	RefKey    string     `json:"ref_key"`
	Name      string     `json:"name"`
	Brand     string     `json:"brand,omitempty"`
	Article   string     `json:"article,omitempty"`
	Kind      string     `json:"kind,omitempty"`
	ImageURL  string     `json:"image_url,omitempty"`
	DraftID   *uuid.UUID `json:"draft_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// AnalogMatch is one ranked analog search result.
type AnalogMatch struct {
	RefKey    string              `json:"ref_key"`
	Name      string              `json:"name"`
	Score     float64             `json:"score"`
	MatchType constants.MatchType `json:"match_type,omitempty"`
	ImageURL  string              `json:"imageUrl,omitempty"`
}
