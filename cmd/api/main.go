package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxp/memexpert/internal/api"
	"github.com/maxp/memexpert/internal/api/middleware"
	"github.com/maxp/memexpert/internal/config"
	"github.com/maxp/memexpert/internal/generator"
	"github.com/maxp/memexpert/internal/index"
	applog "github.com/maxp/memexpert/internal/logger"
	"github.com/maxp/memexpert/internal/pipeline"
	"github.com/maxp/memexpert/internal/reconcile"
	"github.com/maxp/memexpert/internal/repository"
	"github.com/maxp/memexpert/internal/search"
	"github.com/maxp/memexpert/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	log := applog.New(nil)
	applog.SetDefaultLogger(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}

	memeRepo := repository.NewMemeRepository(db)
	tagRepo := repository.NewTagRepository(db)

	store, err := storage.NewStore(&storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize blob storage")
	}
	if s3, ok := store.(*storage.S3Store); ok {
		if err := s3.EnsureBucket(context.Background()); err != nil {
			log.WithError(err).Fatal("Failed to ensure storage bucket")
		}
	}

	embedder := generator.NewOpenAIEmbedder(&generator.EmbeddingConfig{
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	})
	tagger := generator.NewVLMTagger(&generator.TaggerConfig{
		Model:   cfg.Tagger.Model,
		APIKey:  cfg.Tagger.APIKey,
		BaseURL: cfg.Tagger.BaseURL,
		Timeout: cfg.Tagger.Timeout,
	})

	vectorIndex, err := index.NewQdrantIndex(&index.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		Collection: cfg.Qdrant.Collection,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Qdrant")
	}
	defer vectorIndex.Close()

	ensureCtx, cancelEnsure := context.WithTimeout(context.Background(), 30*time.Second)
	if err := vectorIndex.EnsureCollection(ensureCtx); err != nil {
		cancelEnsure()
		log.WithError(err).Fatal("Failed to ensure Qdrant collection")
	}
	cancelEnsure()

	textIndex, err := index.NewBleveIndex(cfg.TextIndex.Path)
	if err != nil {
		log.WithError(err).Fatal("Failed to open text index")
	}
	defer textIndex.Close()

	pipe := pipeline.New(memeRepo, textIndex, vectorIndex, embedder, store, pipeline.Config{
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RetryBase:    cfg.Pipeline.RetryBase,
		RetryCap:     cfg.Pipeline.RetryCap,
		AsyncTimeout: cfg.Pipeline.AsyncTimeout,
	})
	ingestor := pipeline.NewIngestor(memeRepo, tagRepo, store, tagger, pipe)
	coordinator := search.NewCoordinator(memeRepo, textIndex, vectorIndex, embedder, search.Config{
		TextWeight:    cfg.Search.TextWeight,
		VectorWeight:  cfg.Search.VectorWeight,
		Timeout:       cfg.Search.Timeout,
		FallbackLimit: cfg.Search.FallbackLimit,
	})

	reconciler := reconcile.NewJob(memeRepo, pipe, ingestor, reconcile.Config{
		Interval:    cfg.Reconcile.Interval,
		StaleAfter:  cfg.Reconcile.StaleAfter,
		DeleteAfter: cfg.Reconcile.DeleteAfter,
		BatchSize:   cfg.Reconcile.BatchSize,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	})
	if err := reconciler.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start reconciliation")
	}
	defer reconciler.Stop()

	router := api.SetupRouter(memeRepo, ingestor, coordinator, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}
}
