package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"symptom-gateway/internal/domain/entity"
	"symptom-gateway/internal/domain/repository"
)

const cacheWriteTimeout = 5 * time.Second

// AnalyzerConfig is the resolved operator configuration the pipeline runs
// with. Params are already clamped by the config layer.
type AnalyzerConfig struct {
	APIKey         string
	Params         entity.GenerationParams
	CacheTTL       time.Duration
	CacheKeyPrefix string
	CacheDisabled  bool
}

// Analyzer orchestrates one analysis: validate input, check configuration,
// consult the cache, build the prompt, invoke the LLM, validate the output
// and write the cache in the background.
type Analyzer struct {
	llm    repository.Generator
	cache  repository.ResultCache // nil when no backend is configured
	cfg    AnalyzerConfig
	logger zerolog.Logger
}

func NewAnalyzer(llm repository.Generator, cache repository.ResultCache, cfg AnalyzerConfig, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		llm:    llm,
		cache:  cache,
		cfg:    cfg,
		logger: logger.With().Str("component", "analyzer").Logger(),
	}
}

// Analyze runs the pipeline for one request. Failures always carry one of
// the closed entity.Error codes; transient upstream conditions were already
// retried inside the LLM client and are never re-retried here.
func (a *Analyzer) Analyze(ctx context.Context, req entity.AnalysisRequest) (*entity.AnalysisResult, error) {
	symptoms := req.Symptoms.Join()
	if symptoms == "" {
		return nil, entity.NewError(entity.CodeInvalidInput, "no symptoms provided")
	}

	// Misconfiguration must be cheap to detect: checked before any
	// network or cache I/O.
	if a.cfg.APIKey == "" {
		return nil, entity.NewError(entity.CodeServerMisconfigured, "LLM API key not configured")
	}
	if a.cfg.Params.Model == "" {
		return nil, entity.NewError(entity.CodeServerMisconfigured, "LLM model not configured")
	}

	useCache := a.cache != nil && !a.cfg.CacheDisabled && !req.NoCache
	var key string
	if useCache {
		key = fingerprint(a.cfg.CacheKeyPrefix, symptoms, req.Age, req.Sex, req.Duration,
			a.cfg.Params.Model, a.cfg.Params.Temperature, a.cfg.Params.MaxTokens)
		if cached, ok := a.lookup(ctx, key); ok {
			return cached, nil
		}
	}

	prompt := entity.BuildAnalysisPrompt(symptoms, req.Age, req.Sex, req.Duration)
	generation, err := a.llm.Generate(ctx, prompt, a.cfg.Params)
	if err != nil {
		return nil, err
	}

	result, err := entity.ParseAnalysis(generation.Text)
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("model", generation.Model).
		Int64("latency_ms", generation.LatencyMs).
		Int("retries", generation.RetryCount).
		Msg("analysis completed")

	if useCache {
		a.storeAsync(key, result)
	}
	return result, nil
}

// lookup returns a structurally valid cached result, or a miss. Invalid
// entries are discarded rather than surfaced — they will be overwritten by
// the fresh write below.
func (a *Analyzer) lookup(ctx context.Context, key string) (*entity.AnalysisResult, bool) {
	raw, ok := a.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var cached entity.AnalysisResult
	if err := json.Unmarshal(raw, &cached); err != nil {
		a.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
		return nil, false
	}
	cached.Normalize()
	if err := cached.Validate(); err != nil {
		a.logger.Warn().Str("key", key).Err(err).Msg("discarding structurally invalid cache entry")
		return nil, false
	}
	cached.Cached = true
	return &cached, true
}

// storeAsync writes the result to the cache in the background. The request
// context may be gone by the time the write runs, and a failed write must
// never fail the request.
func (a *Analyzer) storeAsync(key string, result *entity.AnalysisResult) {
	blob, err := json.Marshal(result)
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to serialize result for caching")
		return
	}
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		a.cache.Set(bgCtx, key, blob, a.cfg.CacheTTL)
	}()
}
