package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonathan/support-triage/internal/classify"
	"github.com/jonathan/support-triage/internal/clustering"
	"github.com/jonathan/support-triage/internal/config"
	"github.com/jonathan/support-triage/internal/db"
	"github.com/jonathan/support-triage/internal/embedding"
	"github.com/jonathan/support-triage/internal/ingest"
	"github.com/jonathan/support-triage/internal/llm"
	"github.com/jonathan/support-triage/internal/pipeline"
	"github.com/jonathan/support-triage/internal/registry"
	"github.com/jonathan/support-triage/internal/themes"
	"github.com/jonathan/support-triage/internal/workitems"
)

// resolveSecrets fills API key and database URL from the environment when
// neither a flag nor the config file provided them.
func resolveSecrets(cfg *config.Config) error {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}
	return nil
}

// triageStack holds everything a command needs to run or serve the pipeline
type triageStack struct {
	DB       *db.DB
	Client   llm.Client
	Registry *registry.Registry
	Orch     *pipeline.Orchestrator
}

func (s *triageStack) Close() {
	if s.Client != nil {
		_ = s.Client.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

// buildStack connects to the database and LLM provider and wires the
// pipeline phases together.
func buildStack(ctx context.Context, cfg config.Config) (*triageStack, error) {
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	client, err := llm.NewClient(ctx, nil, cfg.APIKey)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	reg := registry.New(cfg.MaxRuns)
	lastID, err := database.MaxRunID(ctx)
	if err != nil {
		_ = client.Close()
		database.Close()
		return nil, fmt.Errorf("failed to read last run id: %w", err)
	}
	reg.Seed(lastID)
	engine := clustering.New(clustering.Config{
		BucketWidth:    cfg.BucketWidth,
		MinClusterSize: cfg.MinClusterSize,
	})
	orch := pipeline.New(pipeline.Deps{
		Source:     ingest.NewStoreSource(database),
		Store:      database,
		Registry:   reg,
		Classifier: classify.New(client, classify.WithConcurrency(cfg.Concurrency)),
		Embedder:   embedding.New(client, embedding.WithBatchSize(cfg.EmbedBatchSize)),
		Extractor:  themes.New(client, themes.NewSession(), themes.WithConcurrency(cfg.Concurrency)),
		Engine:     engine,
		Items:      workitems.New(database, engine.MinClusterSize(), workitems.WithLLM(client)),
	})

	return &triageStack{
		DB:       database,
		Client:   client,
		Registry: reg,
		Orch:     orch,
	}, nil
}
