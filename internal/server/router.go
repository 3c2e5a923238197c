// Package server exposes the draft API over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/joseph-ayodele/catalog-drafts/internal/chat"
	"github.com/joseph-ayodele/catalog-drafts/internal/export"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/drafts"
)

// Deps wires the router. Chat and Export are optional; their routes are only
// registered when set.
type Deps struct {
	Drafts *drafts.Service
	Chat   *chat.Service
	Export *export.Service
	// Ping reports database health for /healthcheck.
	Ping   func(ctx context.Context) error
	Logger *slog.Logger

	CORSOrigins []string
	JWTSecret   string
	// TraceService names the server span source; empty disables request spans.
	TraceService string
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if d.TraceService != "" {
		r.Use(otelgin.Middleware(d.TraceService))
	}
	r.Use(RequestContext(d.Logger))
	r.Use(RequestLogger(d.Logger))
	r.Use(CORS(d.CORSOrigins))

	r.GET("/healthcheck", healthCheck(d.Ping))

	api := r.Group("/api/v1")
	if d.JWTSecret != "" {
		api.Use(RequireAuth(d.JWTSecret))
	}

	dh := NewDraftHandler(d.Drafts, d.Logger)
	api.POST("/ingest", dh.Ingest)
	api.GET("/drafts", dh.List)
	api.GET("/drafts/:id", dh.Get)
	api.PATCH("/drafts/:id", dh.Update)
	api.POST("/drafts/:id/generate-name", dh.GenerateName)
	api.POST("/drafts/:id/commit", dh.Commit)
	api.POST("/search/analogs", dh.SearchAnalogs)

	if d.Export != nil {
		api.GET("/drafts/export", NewExportHandler(d.Export, d.Logger).DraftsXLSX)
	}
	if d.Chat != nil {
		api.POST("/chat/completions", NewChatHandler(d.Chat, d.Logger).Completions)
	}
	return r
}

func healthCheck(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				c.String(http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		c.String(http.StatusOK, "ok")
	}
}
