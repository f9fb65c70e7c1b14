package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// The backend is deliberately absent in these tests: the adapter's contract
// is that a missing or broken backend looks exactly like an empty cache.

func TestGetFailsOpenWhenBackendUnreachable(t *testing.T) {
	cache := NewRedisCache("redis://127.0.0.1:1", zerolog.Nop())

	value, ok := cache.Get(context.Background(), "some-key")
	assert.False(t, ok)
	assert.Nil(t, value)

	assert.False(t, cache.Set(context.Background(), "some-key", []byte(`{}`), time.Minute))
}

func TestMalformedURLPermanentlyDisablesCaching(t *testing.T) {
	cache := NewRedisCache("not a redis url", zerolog.Nop())

	_, ok := cache.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Nil(t, cache.client, "malformed address must never build a client")

	// Repeated use stays disabled without re-attempting initialization.
	_, ok = cache.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.False(t, cache.Set(context.Background(), "k", nil, time.Minute))
}

func TestEmptyURLDisablesCaching(t *testing.T) {
	cache := NewRedisCache("", zerolog.Nop())
	_, ok := cache.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestConcurrentFirstUseConverges(t *testing.T) {
	cache := NewRedisCache("redis://127.0.0.1:1", zerolog.Nop())

	var wg sync.WaitGroup
	clients := make([]any, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cache.Get(context.Background(), "k")
			clients[i] = cache.connect()
		}(i)
	}
	wg.Wait()

	for i := 1; i < 16; i++ {
		assert.Same(t, clients[0], clients[i], "all callers must converge on one connection")
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	assert.NoError(t, NewRedisCache("not a redis url", zerolog.Nop()).Close())
}
