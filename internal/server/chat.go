package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/catalog-drafts/internal/chat"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/stream"
)

type ChatHandler struct {
	svc    *chat.Service
	logger *slog.Logger
}

func NewChatHandler(svc *chat.Service, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

// Completions answers OpenAI-style chat requests, as SSE unless stream is false.
func (h *ChatHandler) Completions(c *gin.Context) {
	var req chat.Request
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBody)
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, h.logger, common.NewValidationErrorf("invalid JSON body: %v", err))
		return
	}
	req.Authorization = c.GetHeader("Authorization")
	ctx := c.Request.Context()

	if !req.Streaming() {
		res, err := h.svc.Complete(ctx, req)
		if err != nil {
			RespondError(c, h.logger, err)
			return
		}
		RespondOK(c, res)
		return
	}

	src, err := h.svc.Stream(ctx, req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	defer func() {
		if cl, ok := src.(io.Closer); ok {
			_ = cl.Close()
		}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	logger := common.LoggerFromContext(ctx, h.logger)
	w := stream.NewSSEWriter(c.Writer)
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) || (err == nil && f.Done) {
			break
		}
		if err != nil {
			// headers are gone; the failure travels as an error frame and no [DONE] follows
			logger.Warn("chat.stream.aborted", "error", err)
			_ = w.WriteError(err)
			return
		}
		if f.Content == "" {
			continue
		}
		if err := w.WriteChunk(f.Content); err != nil {
			logger.Debug("chat.stream.client_gone", "error", err)
			return
		}
	}
	_ = w.WriteDone()
}
