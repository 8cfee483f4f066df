package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acervo/preservation-api/internal/api"
	"acervo/preservation-api/internal/archive"
	"acervo/preservation-api/internal/config"
	"acervo/preservation-api/internal/repository"
	"acervo/preservation-api/internal/repository/memory"
	"acervo/preservation-api/internal/repository/mongo"
	"acervo/preservation-api/internal/service"
	"acervo/preservation-api/internal/storage"

	"github.com/gin-gonic/gin"
)

// @title Document Preservation API
// @version 1.0
// @description Registers documents and drives their preservation in the archive.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("could not load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := config.SetupLogger(cfg.Log)
	logger.Info("configuration loaded", slog.String("database_driver", cfg.Database.Driver))

	if cfg.JWT.Secret == "" {
		logger.Error("jwt.secret is required")
		os.Exit(1)
	}

	// --- Document store ---
	repo, closeStore, err := openDocumentStore(cfg.Database, logger)
	if err != nil {
		logger.Error("could not open document store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	// --- Staging storage (optional) ---
	var fileStorage storage.FileStorage
	if cfg.S3.BucketName != "" {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		fileStorage, err = storage.NewS3Storage(initCtx, cfg.S3, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize S3 storage", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Info("s3.bucket_name not set, upload staging disabled")
	}

	// --- Archive and lifecycle ---
	archiveClient := archive.New(cfg.Archive, logger)
	projector := service.NewStatusProjector(repo, logger)
	coordinator := service.NewCoordinator(archiveClient, projector, service.SystemClock, cfg.Monitor, archiveClient.TransferType(), logger)
	artifacts := service.NewArtifactCache(cfg.Archive.ArtifactCacheSize, cfg.Archive.ArtifactCacheMaxBytes, cfg.Archive.ArtifactCacheTTL)

	documentService := service.NewDocumentService(repo, archiveClient, coordinator, fileStorage, artifacts, cfg.S3, logger)

	resumeCtx, cancelResume := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := documentService.ResumeMonitoring(resumeCtx); err != nil {
		logger.Error("could not resume monitoring", slog.String("error", err.Error()))
	}
	cancelResume()

	// --- HTTP ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(logger))
	api.SetupRoutes(router, cfg.JWT.Secret, documentService, logger)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // package downloads can be large
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	// Pending polls are dropped; their documents are picked up again by
	// ResumeMonitoring on the next start.
	coordinator.Shutdown()

	logger.Info("server exiting")
}

func openDocumentStore(cfg config.DatabaseConfig, logger *slog.Logger) (repository.DocumentRepository, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory document store, data is lost on restart")
		return memory.NewDocumentRepository(), func() {}, nil
	}

	client, err := mongo.ConnectDB(cfg.URI)
	if err != nil {
		return nil, nil, err
	}
	db := client.Database(cfg.Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := mongo.EnsureDocumentIndexes(ctx, db.Collection("documents")); err != nil {
		logger.Warn("could not ensure document indexes", slog.String("error", err.Error()))
	}

	closeFn := func() {
		if err := mongo.DisconnectDB(client); err != nil {
			logger.Error("failed to disconnect MongoDB", slog.String("error", err.Error()))
		}
	}
	return mongo.NewMongoDocumentRepository(db), closeFn, nil
}
