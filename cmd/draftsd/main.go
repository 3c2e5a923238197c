package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/ingest"
	"github.com/joseph-ayodele/catalog-drafts/internal/observability"
	repo "github.com/joseph-ayodele/catalog-drafts/internal/repository"
	"github.com/joseph-ayodele/catalog-drafts/internal/server"
)

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := common.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("draftsd stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Trace, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	db, err := repo.Open(ctx, repo.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close(logger)

	if err := db.HealthCheck(ctx, 5*time.Second); err != nil {
		logger.Error("failed to ping database", "error", err)
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := repo.Migrate(db, logger); err != nil {
			return err
		}
	}

	app, err := wire(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	if n, err := app.drafts.Resume(ctx); err != nil {
		logger.Warn("failed to resume pending drafts", "error", err)
	} else if n > 0 {
		logger.Info("resumed pending drafts", "count", n)
	}

	gin.SetMode(gin.ReleaseMode)
	deps := server.Deps{
		Drafts:      app.drafts,
		Chat:        app.chat,
		Export:      app.export,
		Ping:        func(ctx context.Context) error { return db.HealthCheck(ctx, 0) },
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
		JWTSecret:   cfg.Auth.JWTSecret,
	}
	if cfg.Trace.Enabled {
		deps.TraceService = cfg.Trace.ServiceName
	}
	router := server.NewRouter(deps)
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		return err
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc health listening", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(grpcLis)
	})
	if cfg.Storage.InboxDir != "" {
		inbox := ingest.NewInbox(app.drafts, logger)
		g.Go(func() error {
			return inbox.Watch(gctx, ingest.WatchConfig{
				Roots:       []string{cfg.Storage.InboxDir},
				InitialScan: true,
				Debounce:    cfg.Storage.InboxDebounce,
				SkipHidden:  true,
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		grpcServer.GracefulStop()
		app.queue.Shutdown(shutdownCtx)
		return nil
	})
	return g.Wait()
}
