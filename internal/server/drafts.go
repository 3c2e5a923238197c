package server

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/repository"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/drafts"
)

// maxJSONBody bounds JSON request bodies; text sources are capped lower by the service.
const maxJSONBody = 1 << 20

type DraftHandler struct {
	svc    *drafts.Service
	logger *slog.Logger
}

func NewDraftHandler(svc *drafts.Service, logger *slog.Logger) *DraftHandler {
	return &DraftHandler{svc: svc, logger: logger}
}

type ingestBody struct {
	SourceType string `json:"source_type"`
	URL        string `json:"url"`
	Text       string `json:"text"`
}

type ingestResponse struct {
	DraftID       uuid.UUID             `json:"draft_id"`
	Status        constants.DraftStatus `json:"status"`
	SourceType    constants.SourceType  `json:"source_type"`
	SourcePayload string                `json:"source_payload"`
}

// Ingest accepts a JSON {url} / {text} body or a multipart "file" upload.
func (h *DraftHandler) Ingest(c *gin.Context) {
	var req drafts.IngestRequest
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))

	if mediaType == "multipart/form-data" {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, constants.MaxUploadBytes+(1<<20))
		fh, err := c.FormFile("file")
		if err != nil {
			RespondError(c, h.logger, common.NewValidationErrorf("file: %v", err))
			return
		}
		if fh.Size > constants.MaxUploadBytes {
			RespondError(c, h.logger, common.NewValidationErrorf("file exceeds %d bytes", constants.MaxUploadBytes))
			return
		}
		f, err := fh.Open()
		if err != nil {
			RespondError(c, h.logger, common.NewValidationErrorf("file: %v", err))
			return
		}
		defer f.Close()
		req.File = &drafts.FileUpload{Name: fh.Filename, Reader: f}
		if u := c.PostForm("url"); u != "" {
			req.URL = u
		}
		if t := c.PostForm("text"); t != "" {
			req.Text = t
		}
	} else {
		var body ingestBody
		if !h.bindJSON(c, &body) {
			return
		}
		if err := checkSourceType(body); err != nil {
			RespondError(c, h.logger, err)
			return
		}
		req.URL, req.Text = body.URL, body.Text
	}

	d, err := h.svc.Ingest(c.Request.Context(), req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, ingestResponse{
		DraftID:       d.ID,
		Status:        d.Status,
		SourceType:    d.SourceType,
		SourcePayload: d.SourcePayload,
	})
}

// checkSourceType rejects a declared source_type that disagrees with the
// field actually supplied.
func checkSourceType(b ingestBody) error {
	switch constants.SourceType(strings.TrimSpace(b.SourceType)) {
	case "":
		return nil
	case constants.SourceTypeURL:
		if b.URL == "" {
			return common.NewValidationError("source_type url requires url")
		}
	case constants.SourceTypeText:
		if b.Text == "" {
			return common.NewValidationError("source_type text requires text")
		}
	case constants.SourceTypeFile:
		return common.NewValidationError("file sources must be uploaded as multipart/form-data")
	default:
		return common.NewValidationErrorf("unknown source_type %q", b.SourceType)
	}
	return nil
}

func (h *DraftHandler) Get(c *gin.Context) {
	id, ok := h.draftID(c)
	if !ok {
		return
	}
	d, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, d)
}

// List supports ?status=new,processing&limit=&offset=.
func (h *DraftHandler) List(c *gin.Context) {
	statuses, err := parseStatuses(c.QueryArray("status"))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	res, err := h.svc.List(c.Request.Context(), repository.ListFilter{Statuses: statuses, Limit: limit, Offset: offset})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, res)
}

func (h *DraftHandler) Update(c *gin.Context) {
	id, ok := h.draftID(c)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxJSONBody+1))
	if err != nil {
		RespondError(c, h.logger, common.NewValidationErrorf("read body: %v", err))
		return
	}
	if len(raw) > maxJSONBody {
		RespondError(c, h.logger, common.NewValidationError("request body too large"))
		return
	}
	patch, err := drafts.DecodePatch(raw)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	d, err := h.svc.Update(c.Request.Context(), id, patch)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, gin.H{"draft": d})
}

func (h *DraftHandler) GenerateName(c *gin.Context) {
	id, ok := h.draftID(c)
	if !ok {
		return
	}
	d, err := h.svc.GenerateName(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	name := ""
	if d.FinalData.GeneratedName != nil {
		name = *d.FinalData.GeneratedName
	}
	RespondOK(c, gin.H{"generated_name": name, "draft": d})
}

func (h *DraftHandler) Commit(c *gin.Context) {
	id, ok := h.draftID(c)
	if !ok {
		return
	}
	res, err := h.svc.Commit(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, res)
}

type searchBody struct {
	DraftID *string `json:"draft_id"`
	Query   string  `json:"query"`
	Limit   int     `json:"limit"`
}

func (h *DraftHandler) SearchAnalogs(c *gin.Context) {
	var body searchBody
	if !h.bindJSON(c, &body) {
		return
	}
	req := drafts.SearchRequest{Query: body.Query, Limit: body.Limit}
	if body.DraftID != nil && strings.TrimSpace(*body.DraftID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(*body.DraftID))
		if err != nil {
			RespondError(c, h.logger, common.NewValidationError("draft_id must be a UUID"))
			return
		}
		req.DraftID = &id
	}
	results, err := h.svc.SearchAnalogs(c.Request.Context(), req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if results == nil {
		results = []entity.AnalogMatch{}
	}
	RespondOK(c, gin.H{"results": results})
}

func (h *DraftHandler) draftID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, h.logger, common.NewValidationError("id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *DraftHandler) bindJSON(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBody)
	if err := c.ShouldBindJSON(dst); err != nil {
		RespondError(c, h.logger, common.NewValidationErrorf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func parseStatuses(raw []string) ([]constants.DraftStatus, error) {
	var out []constants.DraftStatus
	for _, group := range raw {
		for _, s := range strings.Split(group, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			st, ok := constants.ParseDraftStatus(s)
			if !ok {
				return nil, common.NewValidationErrorf("unknown status %q", s)
			}
			out = append(out, st)
		}
	}
	return out, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, common.NewValidationErrorf("%s must be a non-negative integer", key)
	}
	return n, nil
}
