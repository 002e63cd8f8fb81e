// Package app assembles the full service: database, object storage,
// embedding providers, ingestion workers, retrieval, and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ragline/ragline/internal/config"
	"github.com/ragline/ragline/internal/core"
	db "github.com/ragline/ragline/internal/core/database"
	"github.com/ragline/ragline/internal/core/embed"
	"github.com/ragline/ragline/internal/core/extract"
	"github.com/ragline/ragline/internal/core/index"
	"github.com/ragline/ragline/internal/core/ingest"
	"github.com/ragline/ragline/internal/core/llm"
	objectclient "github.com/ragline/ragline/internal/core/object-client"
	"github.com/ragline/ragline/internal/core/retrieval"
	"github.com/ragline/ragline/internal/services"
)

type App struct {
	DBClient core.DbClient
	Ingestor *ingest.Orchestrator
	Server   *Server

	closers []func() error
	logger  *slog.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(appCtx, cfg, logger)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}

	geminiEmbedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	var fallback embed.Provider
	if cfg.OpenAIAPIKey != "" {
		fallback = embed.NewOpenAIProvider(&embed.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Dimensions: cfg.EmbedDim,
		})
	}

	embedder, err := embed.New(geminiEmbedder, fallback, embed.Config{
		Dim:         cfg.EmbedDim,
		MaxBatch:    cfg.EmbedBatchSize,
		MaxAttempts: cfg.EmbedMaxRetries,
		MaxInflight: cfg.EmbedInflight,
	}, logger)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("init embedding adapter: %w", err)
	}

	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("init llm: %w", err)
	}

	indexes := index.NewPgProvider(dbClient.(*db.DatabaseClient).DB())
	extractor := extract.NewRegistry()
	sources := ingest.NewResolver(objClient, cfg.BucketName)

	ingestor := ingest.NewOrchestrator(dbClient, indexes, embedder, extractor, sources, ingest.Config{
		Bucket:         cfg.BucketName,
		BatchSize:      cfg.EmbedBatchSize,
		ExtractWorkers: cfg.IngestWorkers,
	}, logger)

	assembler := retrieval.NewAssembler(indexes, embedder, llmProvider, retrieval.Config{
		KPerContext:     cfg.KPerContext,
		TokenBudget:     cfg.AnswerTokenBudget,
		SearchTimeout:   cfg.SearchTimeout,
		MaxAnswerTokens: cfg.MaxAnswerTokens,
	}, logger)

	userService := services.NewUserService(dbClient)
	contextService := services.NewContextService(dbClient, objClient, ingestor, cfg.BucketName, services.ContextDefaults{
		MaxChunkChars: cfg.ChunkMaxChars,
		OverlapChars:  cfg.ChunkOverlap,
		EmbedModel:    cfg.EmbedModel,
		EmbedDim:      cfg.EmbedDim,
	})
	chatService := services.NewChatService(dbClient, assembler, 10)

	server := NewServer(cfg, userService, contextService, chatService, logger)

	return &App{
		DBClient: dbClient,
		Ingestor: ingestor,
		Server:   server,
		closers:  []func() error{geminiEmbedder.Close, llmProvider.Close, dbClient.Close},
		logger:   logger,
	}, nil
}

// Start launches the ingestion workers and the HTTP server.
func (a *App) Start(ctx context.Context, workers int) error {
	a.Ingestor.Start(ctx, workers)
	return a.Server.Start()
}

func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}
