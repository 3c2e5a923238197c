// Package client is a Go SDK for the draft REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/utils"
)

type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
}

type Client struct {
	base   string
	token  string
	http   *http.Client
	stream *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/") + "/api/v1",
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
		// chat streams are bounded by the caller's context only
		stream: &http.Client{},
		logger: logger,
	}
}

func (c *Client) headers() map[string]string {
	if c.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.token}
}

// do sends a JSON request and decodes a JSON reply into out. Error replies
// are rebuilt into typed errors from their envelope.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	raw, status, err := utils.SendJSON(ctx, c.http, method, c.base+path, body, c.headers(), c.logger)
	if err != nil {
		if status != 0 {
			return apiError(status, raw)
		}
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return common.NewAppError(common.CodeDecode, fmt.Sprintf("decode %s %s response", method, path), err)
	}
	return nil
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Status  string `json:"status"`
	} `json:"error"`
}

func apiError(status int, raw []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Error.Message == "" {
		env.Error.Message = strings.TrimSpace(string(raw))
	}
	return common.FromHTTPStatus(status, env.Error.Code, env.Error.Message, env.Error.Status)
}

// IngestRequest names exactly one source.
type IngestRequest struct {
	SourceType string `json:"source_type,omitempty"`
	URL        string `json:"url,omitempty"`
	Text       string `json:"text,omitempty"`
}

type IngestResponse struct {
	DraftID       uuid.UUID             `json:"draft_id"`
	Status        constants.DraftStatus `json:"status"`
	SourceType    constants.SourceType  `json:"source_type"`
	SourcePayload string                `json:"source_payload"`
}

func (c *Client) Ingest(ctx context.Context, req IngestRequest) (IngestResponse, error) {
	var out IngestResponse
	err := c.do(ctx, http.MethodPost, "/ingest", req, &out)
	return out, err
}

// IngestFile uploads r as a multipart "file".
func (c *Client) IngestFile(ctx context.Context, filename string, r io.Reader) (IngestResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return IngestResponse{}, err
	}
	if _, err := io.Copy(fw, io.LimitReader(r, constants.MaxUploadBytes+1)); err != nil {
		return IngestResponse{}, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return IngestResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/ingest", &buf)
	if err != nil {
		return IngestResponse{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	raw, status, err := c.send(req, c.http)
	if err != nil {
		return IngestResponse{}, err
	}
	if status/100 != 2 {
		return IngestResponse{}, apiError(status, raw)
	}
	var out IngestResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return IngestResponse{}, common.NewAppError(common.CodeDecode, "decode ingest response", err)
	}
	return out, nil
}

func (c *Client) GetDraft(ctx context.Context, id uuid.UUID) (*entity.Draft, error) {
	var d entity.Draft
	if err := c.do(ctx, http.MethodGet, "/drafts/"+id.String(), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

type ListOptions struct {
	Statuses []constants.DraftStatus
	Limit    int
	Offset   int
}

type ListResult struct {
	Items  []*entity.Draft `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (c *Client) ListDrafts(ctx context.Context, opts ListOptions) (ListResult, error) {
	q := url.Values{}
	addStatuses(q, opts.Statuses)
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	var out ListResult
	err := c.do(ctx, http.MethodGet, withQuery("/drafts", q), nil, &out)
	return out, err
}

// UpdateDraft merges patch into the draft's final_data.
func (c *Client) UpdateDraft(ctx context.Context, id uuid.UUID, patch entity.FinalData) (*entity.Draft, error) {
	var out struct {
		Draft *entity.Draft `json:"draft"`
	}
	body := map[string]any{"final_data": patch}
	if err := c.do(ctx, http.MethodPatch, "/drafts/"+id.String(), body, &out); err != nil {
		return nil, err
	}
	return out.Draft, nil
}

func (c *Client) GenerateName(ctx context.Context, id uuid.UUID) (string, error) {
	var out struct {
		GeneratedName string `json:"generated_name"`
	}
	if err := c.do(ctx, http.MethodPost, "/drafts/"+id.String()+"/generate-name", nil, &out); err != nil {
		return "", err
	}
	return out.GeneratedName, nil
}

type CommitResponse struct {
	Status    constants.CommitStatus `json:"status"`
	ERPRefKey string                 `json:"erp_ref_key,omitempty"`
}

// Commit pushes the draft to the catalog. Besides synced it accepts
// ready_to_sync from catalog front-ends that sync asynchronously.
func (c *Client) Commit(ctx context.Context, id uuid.UUID) (CommitResponse, error) {
	var out CommitResponse
	if err := c.do(ctx, http.MethodPost, "/drafts/"+id.String()+"/commit", nil, &out); err != nil {
		return CommitResponse{}, err
	}
	switch out.Status {
	case constants.CommitStatusSynced, constants.CommitStatusReadyToSync:
		return out, nil
	}
	return CommitResponse{}, common.NewAppError(common.CodeDecode,
		fmt.Sprintf("unexpected commit status %q", out.Status), common.ErrDecode)
}

type SearchRequest struct {
	DraftID *uuid.UUID `json:"draft_id,omitempty"`
	Query   string     `json:"query,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

func (c *Client) SearchAnalogs(ctx context.Context, req SearchRequest) ([]entity.AnalogMatch, error) {
	var out struct {
		Results []entity.AnalogMatch `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/search/analogs", req, &out); err != nil {
		return nil, err
	}
	if out.Results == nil {
		out.Results = []entity.AnalogMatch{}
	}
	return out.Results, nil
}

type ExportOptions struct {
	Statuses []constants.DraftStatus
	From, To *time.Time
}

// ExportXLSX downloads the drafts workbook.
func (c *Client) ExportXLSX(ctx context.Context, opts ExportOptions) ([]byte, error) {
	q := url.Values{}
	addStatuses(q, opts.Statuses)
	if opts.From != nil {
		q.Set("from", opts.From.Format(time.DateOnly))
	}
	if opts.To != nil {
		q.Set("to", opts.To.Format(time.DateOnly))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+withQuery("/drafts/export", q), nil)
	if err != nil {
		return nil, err
	}
	raw, status, err := c.send(req, c.http)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, apiError(status, raw)
	}
	return raw, nil
}

// WaitReady polls until the draft leaves new/processing or ctx ends.
func (c *Client) WaitReady(ctx context.Context, id uuid.UUID, interval time.Duration) (*entity.Draft, error) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		d, err := c.GetDraft(ctx, id)
		if err != nil {
			return nil, err
		}
		if !d.Status.Pending() {
			return d, nil
		}
		c.logger.Debug("client.wait_ready.pending", "draft_id", id, "status", d.Status)
		select {
		case <-ctx.Done():
			return d, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) send(req *http.Request, hc *http.Client) ([]byte, int, error) {
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
	if id := common.RequestIDFromContext(req.Context()); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, common.NewTransportError(req.Method+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxUploadBytes*4))
	if err != nil {
		return nil, resp.StatusCode, common.NewTransportError("read response", err)
	}
	return raw, resp.StatusCode, nil
}

func addStatuses(q url.Values, statuses []constants.DraftStatus) {
	if len(statuses) == 0 {
		return
	}
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	q.Set("status", strings.Join(parts, ","))
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
