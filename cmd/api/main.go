package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/square-1111/LogoKraft/internal/adapter/repo"
	"github.com/square-1111/LogoKraft/internal/domain"
	httpapi "github.com/square-1111/LogoKraft/internal/http"
	"github.com/square-1111/LogoKraft/internal/http/handlers"
	"github.com/square-1111/LogoKraft/internal/infra"
	"github.com/square-1111/LogoKraft/internal/orchestrator"
	"github.com/square-1111/LogoKraft/internal/progress"
	"github.com/square-1111/LogoKraft/internal/providers/image"
	"github.com/square-1111/LogoKraft/internal/providers/prompt"
	"github.com/square-1111/LogoKraft/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores: PostgreSQL when DATABASE_URL is set, in-memory otherwise.
	var assets domain.AssetRepository
	var ledger domain.CreditLedger
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		assets = repo.NewAssetRepository(pool)
		ledger = repo.NewCreditLedger(pool)
		logger.Info().Msg("using postgres stores")
	} else {
		assets = repo.NewAssetRepositoryMem()
		ledger = repo.NewCreditLedgerMem()
		logger.Warn().Msg("DATABASE_URL not set, using in-memory stores")
	}

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init file storage")
	}

	prompts := buildPromptGenerator(cfg, logger)
	images := buildImageGenerator(cfg, logger)

	hub := progress.NewHub(cfg.SubscriberBuffer, logger)
	limiter := orchestrator.NewLimiter(cfg.MaxConcurrentGenerations)

	orch, err := orchestrator.New(orchestrator.Options{
		Assets:         assets,
		Ledger:         ledger,
		Prompts:        prompts,
		Images:         images,
		Hub:            hub,
		Limiter:        limiter,
		Files:          files,
		StorageBaseURL: cfg.StorageBaseURL,
		Logger:         logger,
		Config: orchestrator.Config{
			MaxItemsPerBatch:  cfg.ItemsPerBatch,
			RefinementItems:   cfg.RefinementItems,
			RefinementCost:    cfg.RefinementCost,
			RenderMaxAttempts: cfg.RenderMaxAttempts,
			RetryBackoff:      cfg.RenderRetryBackoff,
			BatchDeadline:     cfg.BatchDeadline,
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	app := &handlers.App{
		Orchestrator: orch,
		Assets:       assets,
		Ledger:       ledger,
		Hub:          hub,
		Logger:       logger,
		Defaults: handlers.Defaults{
			ItemsPerBatch:  cfg.ItemsPerBatch,
			GenerationCost: cfg.GenerationCost,
			SignupGrant:    cfg.SignupGrant,
		},
	}

	router := httpapi.NewRouter(app, cfg)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to drain running batches")
	}
	logger.Info().Msg("server stopped")
}

// buildPromptGenerator wires Gemini when a key is configured. The static
// generator always backs it so prompt generation cannot hard-fail a batch.
func buildPromptGenerator(cfg *infra.Config, logger zerolog.Logger) prompt.Generator {
	static := prompt.NewStaticGenerator()
	if cfg.PromptProvider != "gemini" || cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY not set, using static prompt generator")
		return static
	}
	gen, err := prompt.NewGeminiGenerator(prompt.GeminiOptions{
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.GeminiModel,
		BaseURL:  cfg.GeminiBaseURL,
		Fallback: static,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("gemini init failed, using static prompt generator")
		return static
	}
	return gen
}

// buildImageGenerator wires fal.ai when a key is configured, otherwise the
// synthetic renderer keeps the whole pipeline runnable locally.
func buildImageGenerator(cfg *infra.Config, logger zerolog.Logger) image.Generator {
	if cfg.FalAPIKey == "" {
		logger.Warn().Msg("FAL_KEY not set, using synthetic image generator")
		return image.NewSyntheticGenerator(cfg.LogoImageSize)
	}
	gen, err := image.NewFalGenerator(image.FalOptions{
		APIKey:       cfg.FalAPIKey,
		Model:        cfg.FalModel,
		BaseURL:      cfg.FalBaseURL,
		PollInterval: cfg.FalPollInterval,
		ImageSize:    cfg.LogoImageSize,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("fal init failed, using synthetic image generator")
		return image.NewSyntheticGenerator(cfg.LogoImageSize)
	}
	return gen
}
