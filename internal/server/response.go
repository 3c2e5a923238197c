package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	// Status is the draft's current lifecycle state on conflicts.
	Status string `json:"status,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError writes err as an error envelope with the status its code maps to.
// Internal errors are logged and their details withheld from the caller.
func RespondError(c *gin.Context, logger *slog.Logger, err error) {
	status := common.HTTPStatus(err)
	apiErr := APIError{Code: common.ErrorCode(err), Message: publicMessage(err)}
	if st, ok := common.ConflictStatus(err); ok {
		apiErr.Status = st
	}
	if status >= http.StatusInternalServerError {
		common.LoggerFromContext(c.Request.Context(), logger).Error("http.handler.failed",
			"path", c.FullPath(), "code", apiErr.Code, "error", err)
		if apiErr.Code == common.CodeInternal {
			apiErr.Message = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: apiErr})
}

func publicMessage(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
