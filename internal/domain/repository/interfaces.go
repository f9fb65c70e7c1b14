package repository

import (
	"context"
	"time"

	"symptom-gateway/internal/domain/entity"
)

// Generator invokes the LLM endpoint. Implementations own the retry,
// backoff and timeout policy; callers never re-retry.
type Generator interface {
	Generate(ctx context.Context, prompt string, params entity.GenerationParams) (*entity.Generation, error)
}

// ResultCache stores serialized analysis results by fingerprint. It fails
// open: Get answers "absent" and Set answers false on any backend trouble,
// never an error.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
}
