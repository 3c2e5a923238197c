// Package catalog pushes committed drafts to the external ERP catalog.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

// PushRequest is the catalog representation of a committed draft.
type PushRequest struct {
	DraftID         uuid.UUID      `json:"draft_id"`
	Name            string         `json:"name"`
	Kind            string         `json:"kind,omitempty"`
	Type            string         `json:"type,omitempty"`
	Brand           string         `json:"brand,omitempty"`
	Article         string         `json:"article,omitempty"`
	Description     string         `json:"description,omitempty"`
	DescriptionHTML string         `json:"description_html,omitempty"`
	Specs           map[string]any `json:"specs,omitempty"`
	Images          []entity.Image `json:"images,omitempty"`
	GauCode         string         `json:"gau_code,omitempty"`
}

// PushResult acknowledges a push.
type PushResult struct {
	RefKey string `json:"ref_key"`
	// Replayed is set when the catalog had already accepted this idempotency key.
	Replayed bool `json:"replayed,omitempty"`
}

// Client is the ERP catalog. Push must be idempotent per draft id.
type Client interface {
	Push(ctx context.Context, req PushRequest) (PushResult, error)
	Items(ctx context.Context) ([]entity.CatalogItem, error)
}

var markdown = goldmark.New()

// BuildPushRequest snapshots a draft for the catalog. A name is required.
func BuildPushRequest(d *entity.Draft) (PushRequest, error) {
	fd := d.FinalData
	req := PushRequest{
		DraftID: d.ID,
		Name:    strings.TrimSpace(d.DisplayName()),
		Kind:    deref(fd.Kind),
		Type:    deref(fd.Type),
		Brand:   deref(fd.Brand),
		Article: deref(fd.Article),
		Specs:   fd.Specs,
		Images:  fd.Images,
	}
	if req.Name == "" {
		return req, common.NewValidationError("draft has no name; set brand and article or generate a name before committing")
	}
	if desc := strings.TrimSpace(deref(fd.Description)); desc != "" {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(desc), &buf); err != nil {
			return req, fmt.Errorf("render description: %w", err)
		}
		req.Description = desc
		req.DescriptionHTML = buf.String()
	}
	if d.Predictions.Gau != nil {
		req.GauCode = d.Predictions.Gau.Code
	}
	return req, nil
}

// Item converts an acknowledged push into a local catalog mirror row.
func (r PushRequest) Item(refKey string) entity.CatalogItem {
	id := r.DraftID
	item := entity.CatalogItem{
		RefKey:  refKey,
		Name:    r.Name,
		Brand:   r.Brand,
		Article: r.Article,
		Kind:    r.Type,
		DraftID: &id,
	}
	if item.Kind == "" {
		item.Kind = r.Kind
	}
	if len(r.Images) > 0 {
		item.ImageURL = r.Images[0].Src
	}
	return item
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
