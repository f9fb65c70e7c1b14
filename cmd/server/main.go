package main

import (
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"symptom-gateway/internal/adapter/api"
	"symptom-gateway/internal/adapter/client"
	"symptom-gateway/internal/adapter/store"
	"symptom-gateway/internal/config"
	"symptom-gateway/internal/domain/repository"
	"symptom-gateway/internal/usecase"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		logger.Info().Msg(".env file not found, using system environment variables")
	}
	cfg := config.Load()

	if cfg.LLM.APIKey == "" || cfg.LLM.Params.Model == "" {
		// Requests will surface SERVER_MISCONFIGURED; flag it at startup too.
		logger.Warn().Msg("OPENAI_API_KEY or OPENAI_MODEL not set, analysis requests will fail")
	}

	// Redis for the response cache. The connection itself is established
	// lazily on first use; an unset URL disables caching entirely.
	var cache repository.ResultCache
	if cfg.Cache.URL != "" {
		redisCache := store.NewRedisCache(cfg.Cache.URL, logger)
		defer redisCache.Close()
		cache = redisCache
	} else {
		logger.Warn().Msg("REDIS_URL not set, response caching disabled")
	}

	llmClient := client.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, logger)

	analyzer := usecase.NewAnalyzer(llmClient, cache, usecase.AnalyzerConfig{
		APIKey:         cfg.LLM.APIKey,
		Params:         cfg.LLM.Params,
		CacheTTL:       cfg.Cache.TTL,
		CacheKeyPrefix: cfg.Cache.KeyPrefix,
		CacheDisabled:  cfg.Cache.Disabled,
	}, logger)

	app := fiber.New(fiber.Config{
		AppName: "Symptom Analysis Gateway",
	})

	handler := api.NewAnalysisHandler(analyzer)
	api.SetupRouter(app, handler)

	logger.Info().Str("port", cfg.Port).Msg("symptom analysis gateway listening")
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
