package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/cache"
	"github.com/branchsight/branchsight-engine/pkg/config"
	"github.com/branchsight/branchsight-engine/pkg/gateway"
	"github.com/branchsight/branchsight-engine/pkg/handlers"
	"github.com/branchsight/branchsight-engine/pkg/jobs"
	"github.com/branchsight/branchsight-engine/pkg/middleware"
	"github.com/branchsight/branchsight-engine/pkg/relay"
	"github.com/branchsight/branchsight-engine/pkg/reports"
	"github.com/branchsight/branchsight-engine/pkg/services"
	"github.com/branchsight/branchsight-engine/pkg/tenant"

	authpkg "github.com/branchsight/branchsight-engine/pkg/auth"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("directory", cfg.Directory.BaseURL),
		zap.String("query_api", cfg.QueryAPI.BaseURL),
		zap.String("relay", cfg.Relay.Addr()),
		zap.Bool("ai_available", cfg.AI.IsAvailable()))

	catalog, err := reports.LoadCatalog(cfg.ReportsPath)
	if err != nil {
		logger.Fatal("Failed to load report catalog",
			zap.String("path", cfg.ReportsPath),
			zap.Error(err))
	}
	logger.Info("Report catalog loaded", zap.Int("reports", catalog.Len()))

	resolverOpts := []tenant.Option{}
	if cfg.Directory.AllowDefaultTenant {
		resolverOpts = append(resolverOpts, tenant.WithDefaultTenant(cfg.Directory.DefaultTenantID))
	}
	directoryTimeout := time.Duration(cfg.Directory.TimeoutSeconds) * time.Second
	resolver := tenant.NewResolver(cfg.Directory.BaseURL, directoryTimeout, logger, resolverOpts...)

	results := cache.New(cfg.Cache.TTL(), cfg.Cache.MaxEntries)
	results.StartCleanup(time.Minute)

	pools := gateway.NewPoolManager(&cfg.Datasource, logger)
	queryAPITimeout := time.Duration(cfg.QueryAPI.TimeoutSeconds) * time.Second
	remote := gateway.NewRemoteClient(cfg.QueryAPI.BaseURL, cfg.QueryAPI.BearerToken, queryAPITimeout, logger)
	tracker := jobs.NewTracker()
	gw := gateway.NewService(resolver, remote, pools, results, tracker, logger)
	defer func() { _ = gw.Close() }()

	jobRelay := relay.New(&cfg.Relay, logger)
	defer func() { _ = jobRelay.Close() }()

	analysis := services.NewAnalysisService(&cfg.AI, logger)

	authMiddleware := authpkg.NewMiddleware(logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewDatasetHandler(gw, cfg.Env, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewBigQueryHandler(gw, tracker, jobRelay, cfg.BaseURL, cfg.Env, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewEventsHandler(jobRelay, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewAnalyzeHandler(gw, catalog, analysis, cfg.Env, logger).RegisterRoutes(mux, authMiddleware)

	handler := middleware.RequestID(middleware.RequestLogger(logger)(mux))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Starting branchsight-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
