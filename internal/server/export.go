package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/export"
)

const (
	headerRowCount = "X-Row-Count"
	xlsxMediaType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type ExportHandler struct {
	svc    *export.Service
	logger *slog.Logger
}

func NewExportHandler(svc *export.Service, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{svc: svc, logger: logger}
}

// DraftsXLSX serves ?status=&from=YYYY-MM-DD&to=YYYY-MM-DD as a workbook.
// Only from means from..today; only to means everything up to to.
func (h *ExportHandler) DraftsXLSX(c *gin.Context) {
	statuses, err := parseStatuses(c.QueryArray("status"))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	from, err := queryDate(c, "from")
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	to, err := queryDate(c, "to")
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if from != nil && to != nil && to.Before(*from) {
		RespondError(c, h.logger, common.NewValidationError("to must not be before from"))
		return
	}

	xlsx, rows, err := h.svc.DraftsXLSX(c.Request.Context(), export.Filter{Statuses: statuses, From: from, To: to})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	filename := fmt.Sprintf("drafts-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header(headerRowCount, strconv.Itoa(rows))
	c.Data(http.StatusOK, xlsxMediaType, xlsx)
}

func queryDate(c *gin.Context, key string) (*time.Time, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, common.NewValidationErrorf("%s must be YYYY-MM-DD", key)
	}
	return &t, nil
}
