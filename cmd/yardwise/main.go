package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vbonduro/yardwise/internal/clock"
	"github.com/vbonduro/yardwise/internal/config"
	"github.com/vbonduro/yardwise/internal/db"
	"github.com/vbonduro/yardwise/internal/dispatch"
	"github.com/vbonduro/yardwise/internal/logging"
	"github.com/vbonduro/yardwise/internal/matching"
	"github.com/vbonduro/yardwise/internal/photostore"
	"github.com/vbonduro/yardwise/internal/photostore/local"
	miniostore "github.com/vbonduro/yardwise/internal/photostore/minio"
	"github.com/vbonduro/yardwise/internal/pipeline"
	"github.com/vbonduro/yardwise/internal/secret"
	"github.com/vbonduro/yardwise/internal/service"
	"github.com/vbonduro/yardwise/internal/store"
	"github.com/vbonduro/yardwise/internal/vision"
	claudevision "github.com/vbonduro/yardwise/internal/vision/claude"
	ollamavision "github.com/vbonduro/yardwise/internal/vision/ollama"
	openaivision "github.com/vbonduro/yardwise/internal/vision/openai"
	"github.com/vbonduro/yardwise/internal/web"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	analysisStore := store.NewAnalysisStore(database)
	catalogStore := store.NewCatalogStore(database)
	zoneStore := store.NewZoneStore(database)

	photos, served, err := newPhotoStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize photo store", "backend", cfg.PhotoBackend, "error", err)
		return
	}

	analyzer := vision.WithTimeout(newVisionAnalyzer(cfg, logger), cfg.VisionTimeout)
	engine := matching.NewEngine(catalogStore, logger.With("component", "matching"))
	clk := clock.SystemClock{}

	worker := pipeline.NewWorker(analysisStore, photos, analyzer, engine, clk, cfg.PresignTTL,
		logger.With("component", "pipeline"))
	pool := dispatch.NewPool(worker.Run, cfg.Workers, cfg.QueueSize, cfg.RunTimeout,
		logger.With("component", "dispatch"))

	svc := service.NewAnalysisService(analysisStore, zoneStore, photos, pool, clk, service.Settings{
		RecordTTL:     cfg.RecordTTL,
		PresignTTL:    cfg.PresignTTL,
		StaleRunAfter: cfg.StaleRunAfter,
	}, logger.With("component", "service"))

	// Runs interrupted by the last shutdown are failed; lost dispatches are retried.
	if _, err := svc.FailStaleRuns(ctx); err != nil {
		logger.Error("startup recovery failed", "error", err)
	}
	if _, err := svc.RequeuePending(ctx, 0); err != nil {
		logger.Error("startup requeue failed", "error", err)
	}

	maintenanceDone := make(chan struct{})
	go func() {
		defer close(maintenanceDone)
		runMaintenance(ctx, svc, cfg, logger)
	}()

	server := web.NewServer(svc, served, database, web.Options{CORSOrigins: cfg.CORSOrigins}, logger)
	httpServer := server.HTTPServer(cfg.ListenAddr)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.ListenAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
		stop()
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	<-maintenanceDone
	if err := pool.Close(); err != nil {
		logger.Error("dispatch shutdown failed", "error", err)
	}
}

// newPhotoStore returns the configured store and, for the local backend, the
// same store as the server's signed URL handler.
func newPhotoStore(ctx context.Context, cfg *config.Config) (photostore.PhotoStore, web.PhotoServer, error) {
	switch cfg.PhotoBackend {
	case "minio":
		s, err := miniostore.New(ctx, miniostore.Options{
			Endpoint:  cfg.Minio.Endpoint,
			Region:    cfg.Minio.Region,
			Bucket:    cfg.Minio.Bucket,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		s, err := local.NewLocalPhotoStore(cfg.PhotoLocalPath, cfg.PublicBaseURL, []byte(cfg.PhotoURLSecret))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

func newVisionAnalyzer(cfg *config.Config, logger *slog.Logger) vision.Analyzer {
	switch cfg.VisionBackend {
	case "claude":
		logger.Info("using Claude vision backend", "model", cfg.Claude.Model)
		key := secret.NewCache(secret.FileOrValue(cfg.Claude.APIKeyFile, cfg.Claude.APIKey))
		return claudevision.NewClaudeAnalyzer(key, cfg.Claude.Model)
	case "openai":
		logger.Info("using OpenAI vision backend", "model", cfg.OpenAI.Model)
		key := secret.NewCache(secret.FileOrValue(cfg.OpenAI.APIKeyFile, cfg.OpenAI.APIKey))
		return openaivision.NewAnalyzer(key, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	default:
		logger.Info("using Ollama vision backend", "model", cfg.Ollama.Model)
		return ollamavision.NewOllamaAnalyzer(cfg.Ollama.Host, cfg.Ollama.Model)
	}
}

// runMaintenance purges expired records and recovers stuck ones until ctx is
// done.
func runMaintenance(ctx context.Context, svc *service.AnalysisService, cfg *config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := svc.Purge(ctx); err != nil {
			logger.Error("purge failed", "error", err)
		}
		if _, err := svc.FailStaleRuns(ctx); err != nil {
			logger.Error("stale run recovery failed", "error", err)
		}
		if _, err := svc.RequeuePending(ctx, cfg.StaleRunAfter); err != nil {
			logger.Error("requeue failed", "error", err)
		}
	}
}
