// Command reindex rebuilds both derived indexes from the primary store. Run
// it after changing the embedding model, wiping the Qdrant collection, or
// losing the text index directory. The primary store is the only source of
// truth, so a full rebuild is always possible.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/maxp/memexpert/internal/config"
	"github.com/maxp/memexpert/internal/generator"
	"github.com/maxp/memexpert/internal/index"
	applog "github.com/maxp/memexpert/internal/logger"
	"github.com/maxp/memexpert/internal/pipeline"
	"github.com/maxp/memexpert/internal/repository"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	batchSize := flag.Int("batch", 200, "memes per page")
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

	embedder := generator.NewOpenAIEmbedder(&generator.EmbeddingConfig{
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
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

	ctx := context.Background()
	ensureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := vectorIndex.EnsureCollection(ensureCtx); err != nil {
		cancel()
		log.WithError(err).Fatal("Failed to ensure Qdrant collection")
	}
	cancel()

	textIndex, err := index.NewBleveIndex(cfg.TextIndex.Path)
	if err != nil {
		log.WithError(err).Fatal("Failed to open text index")
	}
	defer textIndex.Close()

	pipe := pipeline.New(memeRepo, textIndex, vectorIndex, embedder, nil, pipeline.Config{
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RetryBase:    cfg.Pipeline.RetryBase,
		RetryCap:     cfg.Pipeline.RetryCap,
		AsyncTimeout: cfg.Pipeline.AsyncTimeout,
	})

	reset, err := memeRepo.ResetIndexStates(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to reset index states")
	}
	log.WithField("memes", reset).Info("Reset index states, starting rebuild")

	total := 0
	failed := 0
	for offset := 0; ; offset += *batchSize {
		ids, err := memeRepo.ListPublishedIDs(ctx, *batchSize, offset)
		if err != nil {
			log.WithError(err).Fatal("Failed to list memes")
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if err := pipe.Propagate(ctx, id); err != nil {
				log.WithField(applog.FieldMemeID, id).WithError(err).Error("Propagation failed")
				failed++
				continue
			}
			total++
		}
		log.WithField("processed", total).Info("Rebuild progress")
	}

	log.WithFields(applog.Fields{"processed": total, "failed": failed}).Info("Rebuild finished")
}
