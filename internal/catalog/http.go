package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/utils"
)

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient talks to the ERP catalog REST API.
type HTTPClient struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
}

func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

func (c *HTTPClient) headers(extra map[string]string) map[string]string {
	h := map[string]string{}
	if c.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

// Push creates the catalog item. The draft id is sent as Idempotency-Key so a
// retried push never creates a second item.
func (c *HTTPClient) Push(ctx context.Context, req PushRequest) (PushResult, error) {
	start := time.Now()
	raw, status, err := utils.SendJSON(ctx, c.client, http.MethodPost, c.cfg.BaseURL+"/products", req,
		c.headers(map[string]string{"Idempotency-Key": req.DraftID.String()}), c.logger)
	if err != nil {
		c.logger.Error("catalog.push.error", "draft_id", req.DraftID, "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return PushResult{}, err
	}

	var out PushResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return PushResult{}, common.NewTransportError("catalog push: decode response", err)
	}
	if out.RefKey == "" {
		return PushResult{}, common.NewTransportError("catalog push: response has no ref_key", nil)
	}
	c.logger.Info("catalog.push.ok", "draft_id", req.DraftID, "ref_key", out.RefKey, "replayed", out.Replayed,
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// Items lists the catalog for the local search mirror.
func (c *HTTPClient) Items(ctx context.Context) ([]entity.CatalogItem, error) {
	raw, _, err := utils.SendJSON(ctx, c.client, http.MethodGet, c.cfg.BaseURL+"/products", nil, c.headers(nil), c.logger)
	if err != nil {
		return nil, err
	}
	var body struct {
		Items []entity.CatalogItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, common.NewTransportError(fmt.Sprintf("catalog items: decode %d bytes", len(raw)), err)
	}
	return body.Items, nil
}
