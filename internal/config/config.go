package config

import (
	"math"
	"os"
	"strconv"
	"time"

	"symptom-gateway/internal/domain/entity"
)

// Tuning defaults. Every numeric knob below comes from operator
// configuration, so out-of-range or unparsable values silently fall back
// to these instead of erroring.
const (
	DefaultBaseURL           = "https://api.openai.com/v1"
	DefaultTemperature       = 0.3
	DefaultMaxTokens         = 500
	DefaultAttemptTimeout    = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultMinBackoff        = 500 * time.Millisecond
	DefaultMaxBackoff        = 8 * time.Second
	DefaultLoadingWaitBudget = 60 * time.Second
	DefaultCacheTTL          = 86400 * time.Second
	DefaultCacheKeyPrefix    = "symptom-gateway:analysis"
	DefaultPort              = "8080"
)

// LLM holds everything needed to reach the inference endpoint. Model has
// no default: its absence surfaces as SERVER_MISCONFIGURED at analyze time.
type LLM struct {
	APIKey  string
	BaseURL string
	Params  entity.GenerationParams
}

// Cache holds the response-cache settings. An empty URL means caching is
// not configured; Disabled turns it off regardless.
type Cache struct {
	URL       string
	TTL       time.Duration
	KeyPrefix string
	Disabled  bool
}

type Config struct {
	Port  string
	LLM   LLM
	Cache Cache
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		Port: envString("PORT", DefaultPort),
		LLM: LLM{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: envString("OPENAI_BASE_URL", DefaultBaseURL),
			Params: entity.GenerationParams{
				Model:             os.Getenv("OPENAI_MODEL"),
				Temperature:       float32(envFloat("LLM_TEMPERATURE", DefaultTemperature, 0, 2)),
				MaxTokens:         envInt("LLM_MAX_TOKENS", DefaultMaxTokens, 1, 4096),
				AttemptTimeout:    envSeconds("LLM_TIMEOUT_SECONDS", DefaultAttemptTimeout, time.Second, 120*time.Second),
				MaxRetries:        envInt("LLM_MAX_RETRIES", DefaultMaxRetries, 0, 10),
				MinBackoff:        envMillis("LLM_BACKOFF_MIN_MS", DefaultMinBackoff, 50*time.Millisecond, 10*time.Second),
				MaxBackoff:        envMillis("LLM_BACKOFF_MAX_MS", DefaultMaxBackoff, 100*time.Millisecond, 60*time.Second),
				LoadingWaitBudget: envSeconds("LLM_LOADING_WAIT_SECONDS", DefaultLoadingWaitBudget, time.Second, 300*time.Second),
			},
		},
		Cache: Cache{
			URL:       os.Getenv("REDIS_URL"),
			TTL:       envSeconds("CACHE_TTL_SECONDS", DefaultCacheTTL, time.Minute, 7*24*time.Hour),
			KeyPrefix: envString("CACHE_KEY_PREFIX", DefaultCacheKeyPrefix),
			Disabled:  envBool("CACHE_DISABLED"),
		},
	}
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}

func envFloat(name string, fallback, min, max float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < min || v > max {
		return fallback
	}
	return v
}

func envInt(name string, fallback, min, max int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return fallback
	}
	return v
}

func envSeconds(name string, fallback, min, max time.Duration) time.Duration {
	secs := envFloat(name, fallback.Seconds(), min.Seconds(), max.Seconds())
	return time.Duration(secs * float64(time.Second))
}

func envMillis(name string, fallback, min, max time.Duration) time.Duration {
	ms := envFloat(name, float64(fallback.Milliseconds()), float64(min.Milliseconds()), float64(max.Milliseconds()))
	return time.Duration(ms * float64(time.Millisecond))
}
