package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/catalog-drafts/internal/catalog"
	"github.com/joseph-ayodele/catalog-drafts/internal/chat"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/core"
	"github.com/joseph-ayodele/catalog-drafts/internal/core/async"
	"github.com/joseph-ayodele/catalog-drafts/internal/events"
	"github.com/joseph-ayodele/catalog-drafts/internal/export"
	"github.com/joseph-ayodele/catalog-drafts/internal/llm"
	"github.com/joseph-ayodele/catalog-drafts/internal/llm/openai"
	repo "github.com/joseph-ayodele/catalog-drafts/internal/repository"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/drafts"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/search"
	"github.com/joseph-ayodele/catalog-drafts/internal/source"
)

type app struct {
	drafts    *drafts.Service
	chat      *chat.Service
	export    *export.Service
	queue     *async.ProcessorQueue
	publisher events.Publisher
}

func (a *app) close(logger *slog.Logger) {
	if err := a.publisher.Close(); err != nil {
		logger.Warn("failed to close event publisher", "error", err)
	}
}

// wire builds the services from configuration. Providers (model, catalog,
// chat backend) are chosen here once per process.
func wire(ctx context.Context, cfg *common.Config, db *repo.DB, logger *slog.Logger) (*app, error) {
	draftRepo := repo.NewDraftRepository(db, logger)
	mirror := repo.NewCatalogRepository(db, logger)

	files, err := source.NewFileStore(cfg.Storage.ArtifactDir)
	if err != nil {
		return nil, err
	}

	var (
		provider llm.Provider
		oa       *openai.Client
	)
	switch cfg.LLM.Provider {
	case "openai":
		oa = newOpenAI(cfg, logger)
		provider = oa
	default:
		provider = llm.NewMock()
	}
	logger.Info("llm provider selected", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	var cat catalog.Client
	switch cfg.Catalog.Provider {
	case "http":
		cat = catalog.NewHTTPClient(catalog.HTTPConfig{
			BaseURL: cfg.Catalog.BaseURL,
			APIKey:  cfg.Catalog.APIKey,
			Timeout: cfg.Catalog.Timeout,
		}, logger)
	default:
		cat = catalog.NewMock(cfg.Catalog.Seed)
	}
	if _, err := catalog.Sync(ctx, cat, mirror, logger); err != nil {
		// search still works on whatever the mirror already holds
		logger.Warn("catalog mirror sync failed", "error", err)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Redis.Addr != "" {
		p, err := events.NewRedisPublisher(ctx, events.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		publisher = p
	}

	searcher := search.NewService(mirror, logger)
	loader := source.NewLoader(source.NewFetcher(nil, logger), files)
	proc := core.NewProcessor(logger, draftRepo, loader, provider, searcher, publisher, cfg.LLM.Locale)

	queue := async.NewProcessorQueue(proc, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
		async.WithMaxAttempts(cfg.Queue.MaxAttempts),
		async.WithRetryBackoff(cfg.Queue.RetryBackoff),
	)

	svc := drafts.NewService(drafts.Deps{
		Drafts:    draftRepo,
		Files:     files,
		Queue:     queue,
		Namer:     provider,
		Catalog:   cat,
		Search:    searcher,
		Publisher: publisher,
		Logger:    logger,
		Locale:    cfg.LLM.Locale,
	})

	var backend chat.Backend
	switch cfg.Chat.Backend {
	case "openai":
		if oa == nil {
			oa = newOpenAI(cfg, logger)
		}
		backend = chat.ModelBackend{Model: oa, Alias: cfg.Chat.DefaultModel, SystemPrompt: cfg.Chat.SystemPrompt}
	case "webhook":
		backend = chat.NewWebhookBackend(cfg.Chat.WebhookURL, cfg.Chat.Timeout, logger)
	default:
		backend = chat.MockBackend{}
	}
	logger.Info("chat backend selected", "backend", cfg.Chat.Backend)

	return &app{
		drafts: svc,
		chat: chat.NewService(backend, svc, logger,
			chat.WithDraftWait(cfg.Chat.DraftWait),
			chat.WithModelName(cfg.Chat.DefaultModel),
		),
		export:    export.NewService(draftRepo, logger),
		queue:     queue,
		publisher: publisher,
	}, nil
}

func newOpenAI(cfg *common.Config, logger *slog.Logger) *openai.Client {
	return openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		Locale:      cfg.LLM.Locale,
	}, logger)
}
