package source

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
)

// PageFetcher is the part of Fetcher the loader needs.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Loader resolves a draft's source into extraction input.
type Loader struct {
	fetcher PageFetcher
	files   *FileStore
}

func NewLoader(fetcher PageFetcher, files *FileStore) *Loader {
	return &Loader{fetcher: fetcher, files: files}
}

func (l *Loader) Load(ctx context.Context, d *entity.Draft) (llm.SourceContent, error) {
	out := llm.SourceContent{SourceType: d.SourceType}
	switch d.SourceType {
	case constants.SourceTypeURL:
		page, err := l.fetcher.Fetch(ctx, d.SourcePayload)
		if err != nil {
			return out, err
		}
		out.URL = d.SourcePayload
		out.Title = page.Title
		out.Text = page.Text
		out.ImageURLs = page.Images

	case constants.SourceTypeText:
		out.Text = d.SourcePayload

	case constants.SourceTypeFile:
		if l.files == nil {
			return out, common.NewAppError(common.CodeInternal, "file store is not configured", common.ErrInternal)
		}
		raw, err := l.files.Open(d.SourceRef)
		if err != nil {
			return out, err
		}
		out.Filename = d.SourcePayload
		if constants.IsHTMLExt(filepath.Ext(d.SourceRef)) {
			page, err := ParseHTML(bytes.NewReader(raw), nil)
			if err != nil {
				return out, common.NewAppError(common.CodeDecode, "parse html file", err)
			}
			out.Title, out.Text, out.ImageURLs = page.Title, page.Text, page.Images
		} else {
			if !utf8.Valid(raw) {
				return out, common.NewValidationError("file is not UTF-8 text")
			}
			out.Text = string(raw)
		}

	default:
		return out, common.NewValidationErrorf("unknown source type %q", d.SourceType)
	}

	if strings.TrimSpace(out.Text) == "" && out.Title == "" {
		return out, common.NewValidationError("source has no readable content")
	}
	return out, nil
}
