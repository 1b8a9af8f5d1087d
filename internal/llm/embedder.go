package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/metrics"
	"github.com/policyqa/backend/pkg/logger"
	"github.com/policyqa/backend/pkg/utils"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder consults the cache before the backend. Cache errors are
// logged and treated as misses.
type CachedEmbedder struct {
	inner Embedder
	cache EmbeddingCache
	ttl   time.Duration
}

func NewCachedEmbedder(inner Embedder, cache EmbeddingCache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, ttl: ttl}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache == nil {
		return e.inner.Embed(ctx, text)
	}

	key := utils.HashString(text)

	if embedding, ok, err := e.cache.GetEmbedding(ctx, key); err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	} else if ok {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return embedding, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	embedding, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := e.cache.SetEmbedding(ctx, key, embedding, e.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}

	return embedding, nil
}
