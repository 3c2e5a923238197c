package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
)

const userAgent = "catalog-drafts/1.0 (+product-card-extractor)"

// Fetcher downloads product pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, maxBytes: constants.MaxFetchBytes, logger: logger}
}

// Fetch retrieves rawURL and reduces it to readable content. Network failures
// and non-2xx replies are TRANSPORT errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Page{}, common.NewValidationError("source_url must be an absolute http(s) URL")
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("source.fetch.error", "url", rawURL, "error", err)
		return Page{}, common.NewTransportError("fetch "+u.Host, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Warn("source.fetch.close_error", "error", cerr)
		}
	}()

	if resp.StatusCode/100 != 2 {
		f.logger.Warn("source.fetch.status", "url", rawURL, "status", resp.StatusCode)
		return Page{}, common.NewTransportError(fmt.Sprintf("fetch %s: status %d", u.Host, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return Page{}, common.NewTransportError("read "+u.Host, err)
	}

	var page Page
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/plain":
		page = Page{Text: tidyLines(string(body))}
	default:
		page, err = ParseHTML(bytes.NewReader(body), resp.Request.URL)
		if err != nil {
			return Page{}, common.NewAppError(common.CodeDecode, "parse page", err)
		}
	}
	if page.Title == "" && strings.TrimSpace(page.Text) == "" {
		return Page{}, common.NewValidationError("page has no readable content")
	}

	f.logger.Info("source.fetch.ok",
		"url", rawURL,
		"bytes", len(body),
		"title", page.Title,
		"images", len(page.Images),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return page, nil
}
