package review

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/metrics"
	"github.com/policyqa/backend/internal/storage/models"
	"github.com/policyqa/backend/pkg/logger"
)

type OverrideStore interface {
	PutOverride(ctx context.Context, override *models.AnswerOverride) error
	GetOverride(ctx context.Context, questionHash string) (*models.AnswerOverride, bool, error)
}

type OverrideCache interface {
	SetOverride(ctx context.Context, override *models.AnswerOverride, ttl time.Duration) error
	GetOverride(ctx context.Context, questionHash string) (*models.AnswerOverride, bool, error)
}

// Overrides reads through the cache to the durable store. The store is the
// source of truth; cache failures degrade to store reads.
type Overrides struct {
	store OverrideStore
	cache OverrideCache
	ttl   time.Duration
}

func NewOverrides(store OverrideStore, cache OverrideCache, ttl time.Duration) *Overrides {
	return &Overrides{store: store, cache: cache, ttl: ttl}
}

func (o *Overrides) GetOverride(ctx context.Context, questionHash string) (*models.AnswerOverride, bool, error) {
	if o.cache != nil {
		override, ok, err := o.cache.GetOverride(ctx, questionHash)
		switch {
		case err != nil:
			logger.Warn("Override cache read failed", zap.Error(err))
		case ok:
			metrics.CacheHits.WithLabelValues("override").Inc()
			return override, true, nil
		default:
			metrics.CacheMisses.WithLabelValues("override").Inc()
		}
	}

	override, ok, err := o.store.GetOverride(ctx, questionHash)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read override: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	o.fill(ctx, override)
	return override, true, nil
}

func (o *Overrides) PutOverride(ctx context.Context, override *models.AnswerOverride) error {
	if err := o.store.PutOverride(ctx, override); err != nil {
		return fmt.Errorf("failed to store override: %w", err)
	}
	o.fill(ctx, override)
	return nil
}

func (o *Overrides) fill(ctx context.Context, override *models.AnswerOverride) {
	if o.cache == nil {
		return
	}
	if err := o.cache.SetOverride(ctx, override, o.ttl); err != nil {
		logger.Warn("Override cache write failed", zap.Error(err))
	}
}
