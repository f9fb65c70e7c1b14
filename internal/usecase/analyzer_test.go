package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symptom-gateway/internal/domain/entity"
)

const validLLMOutput = `{"conditions":["Common cold","Flu"],"recommendations":"Rest and hydrate.","disclaimer":"Not medical advice."}`

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string, params entity.GenerationParams) (*entity.Generation, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Generation{Text: s.text, Model: params.Model, LatencyMs: 1}, nil
}

func (s *stubGenerator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (m *memoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	return value, ok
}

func (m *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return true
}

// brokenCache simulates an unreachable backend: every read misses and
// every write fails.
type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	return false
}

func testConfig() AnalyzerConfig {
	return AnalyzerConfig{
		APIKey: "test-key",
		Params: entity.GenerationParams{
			Model:             "gpt-4o-mini",
			Temperature:       0.3,
			MaxTokens:         500,
			AttemptTimeout:    time.Second,
			MaxRetries:        1,
			MinBackoff:        time.Millisecond,
			MaxBackoff:        10 * time.Millisecond,
			LoadingWaitBudget: time.Second,
		},
		CacheTTL:       time.Hour,
		CacheKeyPrefix: "test:analysis",
	}
}

func newTestAnalyzer(gen *stubGenerator, cache *memoryCache, cfg AnalyzerConfig) *Analyzer {
	if cache == nil {
		return NewAnalyzer(gen, nil, cfg, zerolog.Nop())
	}
	return NewAnalyzer(gen, cache, cfg, zerolog.Nop())
}

func (a *Analyzer) requestKey(req entity.AnalysisRequest) string {
	return fingerprint(a.cfg.CacheKeyPrefix, req.Symptoms.Join(), req.Age, req.Sex, req.Duration,
		a.cfg.Params.Model, a.cfg.Params.Temperature, a.cfg.Params.MaxTokens)
}

func TestAnalyzeReturnsValidResult(t *testing.T) {
	gen := &stubGenerator{text: validLLMOutput}
	analyzer := newTestAnalyzer(gen, newMemoryCache(), testConfig())

	result, err := analyzer.Analyze(context.Background(), entity.AnalysisRequest{
		Symptoms: entity.SymptomText{"fever", "cough"},
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(result.Conditions), entity.MinConditions)
	assert.LessOrEqual(t, len(result.Conditions), entity.MaxConditions)
	assert.NotEmpty(t, result.Recommendations)
	assert.NotEmpty(t, result.Disclaimer)
	assert.False(t, result.Cached)
	assert.Equal(t, 1, gen.callCount())
}

func TestAnalyzeEmptyInputMakesNoNetworkCall(t *testing.T) {
	for _, symptoms := range []entity.SymptomText{nil, {""}, {"   "}, {" ", "  "}} {
		gen := &stubGenerator{text: validLLMOutput}
		analyzer := newTestAnalyzer(gen, nil, testConfig())

		_, err := analyzer.Analyze(context.Background(), entity.AnalysisRequest{Symptoms: symptoms})
		require.Error(t, err)
		assert.True(t, entity.IsCode(err, entity.CodeInvalidInput))
		assert.Zero(t, gen.callCount())
	}
}

func TestAnalyzeMissingConfigFailsBeforeIO(t *testing.T) {
	gen := &stubGenerator{text: validLLMOutput}

	noKey := testConfig()
	noKey.APIKey = ""
	_, err := newTestAnalyzer(gen, nil, noKey).Analyze(context.Background(), entity.AnalysisRequest{
		Symptoms: entity.SymptomText{"fever"},
	})
	assert.True(t, entity.IsCode(err, entity.CodeServerMisconfigured))

	noModel := testConfig()
	noModel.Params.Model = ""
	_, err = newTestAnalyzer(gen, nil, noModel).Analyze(context.Background(), entity.AnalysisRequest{
		Symptoms: entity.SymptomText{"fever"},
	})
	assert.True(t, entity.IsCode(err, entity.CodeServerMisconfigured))

	assert.Zero(t, gen.callCount())
}

func TestAnalyzeCacheHitSkipsLLM(t *testing.T) {
	gen := &stubGenerator{text: validLLMOutput}
	cache := newMemoryCache()
	analyzer := newTestAnalyzer(gen, cache, testConfig())

	req := entity.AnalysisRequest{Symptoms: entity.SymptomText{"Fever, cough"}}
	cache.Set(context.Background(), analyzer.requestKey(req), []byte(validLLMOutput), time.Hour)

	result, err := analyzer.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Zero(t, gen.callCount(), "cache hit must not invoke the LLM")

	// Differing case and whitespace still hits the same entry.
	result, err = analyzer.Analyze(context.Background(), entity.AnalysisRequest{
		Symptoms: entity.SymptomText{" fever,  COUGH "},
	})
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Zero(t, gen.callCount())
}

func TestAnalyzeWritesCacheOnMiss(t *testing.T) {
	gen := &stubGenerator{text: validLLMOutput}
	cache := newMemoryCache()
	analyzer := newTestAnalyzer(gen, cache, testConfig())

	req := entity.AnalysisRequest{Symptoms: entity.SymptomText{"fever"}}
	result, err := analyzer.Analyze(context.Background(), req)
	require.NoError(t, err)

	key := analyzer.requestKey(req)
	require.Eventually(t, func() bool {
		_, ok := cache.Get(context.Background(), key)
		return ok
	}, time.Second, 5*time.Millisecond, "background cache write never landed")

	blob, _ := cache.Get(context.Background(), key)
	var cached entity.AnalysisResult
	require.NoError(t, json.Unmarshal(blob, &cached))
	assert.Equal(t, result.Conditions, cached.Conditions)
	assert.Equal(t, result.Recommendations, cached.Recommendations)
	assert.Equal(t, result.Disclaimer, cached.Disclaimer)

	// A second identical call within the TTL is served from the cache.
	second, err := analyzer.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, result.Conditions, second.Conditions)
	assert.Equal(t, 1, gen.callCount(), "second call must not invoke the LLM")
}

func TestAnalyzeInvalidCacheEntryTreatedAsMiss(t *testing.T) {
	gen := &stubGenerator{text: validLLMOutput}
	cache := newMemoryCache()
	analyzer := newTestAnalyzer(gen, cache, testConfig())

	req := entity.AnalysisRequest{Symptoms: entity.SymptomText{"fever"}}
	cache.Set(context.Background(), analyzer.requestKey(req), []byte(`{"conditions":["only one"]}`), time.Hour)

	result, err := analyzer.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, 1, gen.callCount(), "invalid cache entry must fall through to the LLM")
}

func TestAnalyzeNoCacheFlagBypassesCache(t *testing.T) {
	gen := &stubGenerator{text: validLLMOutput}
	cache := newMemoryCache()
	analyzer := newTestAnalyzer(gen, cache, testConfig())

	req := entity.AnalysisRequest{Symptoms: entity.SymptomText{"fever"}, NoCache: true}
	cache.Set(context.Background(), analyzer.requestKey(entity.AnalysisRequest{Symptoms: req.Symptoms}), []byte(validLLMOutput), time.Hour)

	result, err := analyzer.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, 1, gen.callCount())
}

func TestAnalyzeCacheDisabledSkipsLookupAndWrite(t *testing.T) {
	gen := &stubGenerator{text: validLLMOutput}
	cache := newMemoryCache()
	cfg := testConfig()
	cfg.CacheDisabled = true
	analyzer := newTestAnalyzer(gen, cache, cfg)

	_, err := analyzer.Analyze(context.Background(), entity.AnalysisRequest{Symptoms: entity.SymptomText{"fever"}})
	require.NoError(t, err)
	assert.Equal(t, 1, gen.callCount())

	time.Sleep(20 * time.Millisecond)
	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Zero(t, cache.sets)
}

func TestAnalyzeBadLLMOutput(t *testing.T) {
	gen := &stubGenerator{text: `{"conditions":["only one"],"recommendations":"r","disclaimer":"d"}`}
	analyzer := newTestAnalyzer(gen, nil, testConfig())

	_, err := analyzer.Analyze(context.Background(), entity.AnalysisRequest{Symptoms: entity.SymptomText{"fever"}})
	require.Error(t, err)
	assert.True(t, entity.IsCode(err, entity.CodeBadLLMOutput))
}

func TestAnalyzeLLMErrorsPassThrough(t *testing.T) {
	gen := &stubGenerator{err: entity.NewError(entity.CodeRateLimit, "slow down")}
	analyzer := newTestAnalyzer(gen, nil, testConfig())

	_, err := analyzer.Analyze(context.Background(), entity.AnalysisRequest{Symptoms: entity.SymptomText{"fever"}})
	require.Error(t, err)
	assert.True(t, entity.IsCode(err, entity.CodeRateLimit))
}

func TestAnalyzeSucceedsWithBrokenCache(t *testing.T) {
	gen := &stubGenerator{text: validLLMOutput}
	analyzer := NewAnalyzer(gen, brokenCache{}, testConfig(), zerolog.Nop())

	result, err := analyzer.Analyze(context.Background(), entity.AnalysisRequest{Symptoms: entity.SymptomText{"fever"}})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Conditions)
	assert.Equal(t, 1, gen.callCount())
}
