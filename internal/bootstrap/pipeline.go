package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/assembler"
	"github.com/policyqa/backend/internal/cache/redis"
	"github.com/policyqa/backend/internal/entity"
	"github.com/policyqa/backend/internal/generation"
	"github.com/policyqa/backend/internal/intent"
	"github.com/policyqa/backend/internal/kg/neo4j"
	"github.com/policyqa/backend/internal/kg/traversal"
	"github.com/policyqa/backend/internal/learning"
	"github.com/policyqa/backend/internal/llm"
	"github.com/policyqa/backend/internal/metrics"
	"github.com/policyqa/backend/internal/query"
	"github.com/policyqa/backend/internal/retrieval"
	"github.com/policyqa/backend/internal/review"
	"github.com/policyqa/backend/internal/scoring"
	"github.com/policyqa/backend/internal/storage/sqlite"
	"github.com/policyqa/backend/internal/vector/zilliz"
	"github.com/policyqa/backend/internal/worker"
	"github.com/policyqa/backend/pkg/config"
	"github.com/policyqa/backend/pkg/logger"
)

type Options struct {
	// WithoutLearning skips opening the learning log, which holds an
	// exclusive directory lock while open.
	WithoutLearning bool
}

// Pipeline owns every long-lived client the question pipeline needs.
type Pipeline struct {
	Config   *config.Config
	SQLite   *sqlite.Client
	Redis    *redis.Client
	Neo4j    *neo4j.Client
	Zilliz   *zilliz.Client
	LLM      *llm.Client
	Pool     *worker.Pool
	Learning *learning.Tracker
	Reviews  *review.Manager
	Engine   *query.Engine
}

func Build(ctx context.Context, cfg *config.Config, opts Options) (*Pipeline, error) {
	p := &Pipeline{Config: cfg}
	if err := p.build(ctx, opts); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) build(ctx context.Context, opts Options) error {
	cfg := p.Config

	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("failed to create SQLite client: %w", err)
	}
	p.SQLite = sqliteClient
	if err := sqliteClient.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Redis is an optional cache; the pipeline runs without it.
	var (
		embeddingCache llm.EmbeddingCache
		overrideCache  review.OverrideCache
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, caches disabled", zap.Error(err))
		} else {
			p.Redis = redisClient
			embeddingCache = redisClient
			overrideCache = redisClient
		}
	}

	neo4jClient, err := neo4j.NewClient(ctx, neo4j.Options{
		URI:           cfg.Neo4j.URI,
		Username:      cfg.Neo4j.Username,
		Password:      cfg.Neo4j.Password,
		Database:      cfg.Neo4j.Database,
		Attempts:      cfg.Retrieval.StoreAttempts,
		OnStateChange: metrics.ObserveBreaker,
	})
	if err != nil {
		return fmt.Errorf("failed to create Neo4j client: %w", err)
	}
	p.Neo4j = neo4jClient

	zillizClient, err := zilliz.NewClient(ctx, zilliz.Options{
		Endpoint:       cfg.Zilliz.Endpoint,
		APIKey:         cfg.Zilliz.APIKey,
		CollectionName: cfg.Zilliz.CollectionName,
		MaxTopK:        cfg.Zilliz.MaxTopK,
		Attempts:       cfg.Retrieval.StoreAttempts,
		OnStateChange:  metrics.ObserveBreaker,
	})
	if err != nil {
		return fmt.Errorf("failed to create Zilliz client: %w", err)
	}
	p.Zilliz = zillizClient
	if err := zillizClient.Ready(ctx); err != nil {
		logger.Warn("Vector collection not ready, vector retrieval will degrade", zap.Error(err))
	}

	p.LLM = llm.NewClient(llm.Options{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		EmbedAttempts:  cfg.Retrieval.StoreAttempts,
		OnStateChange:  metrics.ObserveBreaker,
	})

	pool, err := worker.NewPool(worker.Config{
		Workers:     cfg.Review.Workers,
		Attempts:    cfg.Review.PersistAttempts,
		TaskTimeout: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	p.Pool = pool

	var entitySource entity.EntitySource
	if cfg.Resolver.LoadFromGraph {
		entitySource = neo4jClient
	}
	table := entity.BuildAliasTable(ctx, cfg.Resolver.AliasFile, entitySource)
	metrics.AliasTableSize.Set(float64(table.Len()))

	weights := traversal.DefaultRelationWeights()
	if cfg.Retrieval.RelationFile != "" {
		loaded, err := traversal.LoadRelationWeights(cfg.Retrieval.RelationFile)
		if err != nil {
			logger.Warn("Relation weights not loaded, using defaults",
				zap.String("path", cfg.Retrieval.RelationFile),
				zap.Error(err),
			)
		} else {
			weights = loaded
		}
	}

	degraded := func(source string) {
		metrics.RetrievalDegraded.WithLabelValues(source).Inc()
	}

	traverser := traversal.NewTraverser(neo4jClient, weights, traversal.Config{
		MaxHops:      cfg.Retrieval.GraphMaxHops,
		PerHopLimit:  cfg.Retrieval.GraphPerHopLimit,
		PerNodeLimit: cfg.Retrieval.GraphPerNodeLimit,
		MaxPaths:     cfg.Retrieval.GraphMaxPaths,
		LengthDecay:  cfg.Retrieval.GraphLengthDecay,
	})
	traverser.OnFailure(degraded)

	embedder := llm.NewCachedEmbedder(p.LLM, embeddingCache, time.Duration(cfg.Redis.EmbeddingTTL)*time.Second)
	retriever := retrieval.NewVectorRetriever(embedder, zillizClient, cfg.Retrieval.VectorTopK)
	retriever.OnFailure(degraded)

	overrides := review.NewOverrides(sqliteClient, overrideCache, time.Duration(cfg.Redis.OverrideTTL)*time.Second)

	generator := generation.New(p.LLM, overrides, generation.Config{
		MaxAttempts:        cfg.Generation.MaxAttempts,
		InitialBackoff:     time.Duration(cfg.Generation.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:         time.Duration(cfg.Generation.MaxBackoffMs) * time.Millisecond,
		BaseAttemptTimeout: time.Duration(cfg.Generation.BaseAttemptTimeoutSec) * time.Second,
		PerKTokenTimeout:   time.Duration(cfg.Generation.PerKTokenTimeoutSec) * time.Second,
		TotalDeadline:      time.Duration(cfg.Generation.TotalDeadlineSec) * time.Second,
		MaxOutputTokens:    cfg.Generation.MaxOutputTokens,
		ContextWindow:      cfg.Generation.ContextWindow,
	})

	scorer, err := scoring.NewScorer(scoring.Weights{
		Intent:     cfg.Confidence.IntentWeight,
		Entity:     cfg.Confidence.EntityWeight,
		Retrieval:  cfg.Confidence.RetrievalWeight,
		Saturation: cfg.Confidence.RetrievalSaturation,
	})
	if err != nil {
		return fmt.Errorf("failed to create confidence scorer: %w", err)
	}

	var learner review.Learner
	if !opts.WithoutLearning {
		log, err := learning.OpenBadgerLog(cfg.Learning.Path)
		if err != nil {
			return fmt.Errorf("failed to open learning log: %w", err)
		}
		p.Learning = learning.NewTracker(log, cfg.Learning.MaxExamples, cfg.Learning.TopPatterns)
		learner = p.Learning
	}

	p.Reviews = review.NewManager(sqliteClient, overrides, learner, pool, review.Config{
		Threshold:    cfg.Review.Threshold,
		LowThreshold: cfg.Review.LowThreshold,
	})

	p.Engine = query.NewEngine(query.Components{
		Resolver: entity.NewResolver(table, entity.Config{
			MinScore:      cfg.Resolver.MinScore,
			FuzzyMinScore: cfg.Resolver.FuzzyMinScore,
		}),
		Classifier: intent.NewClassifier(cfg.Intent.LowConfidence),
		Vector:     retriever,
		Graph:      traverser,
		Assembler: assembler.New(assembler.NewTokenEstimator(""), assembler.Config{
			Budget:       cfg.Retrieval.ContextTokenBudget,
			VectorWeight: cfg.Retrieval.VectorSourceWeight,
			GraphWeight:  cfg.Retrieval.GraphSourceWeight,
		}),
		Generator:  generator,
		Scorer:     scorer,
		Router:     p.Reviews,
		History:    sqliteClient,
		Background: pool,
	}, query.Config{
		VectorTopK:       cfg.Retrieval.VectorTopK,
		GraphMaxHops:     cfg.Retrieval.GraphMaxHops,
		ContextBudget:    cfg.Retrieval.ContextTokenBudget,
		RetrievalTimeout: cfg.Retrieval.Timeout(),
		Deadline:         cfg.Pipeline.Deadline(),
	})

	logger.Info("Pipeline ready",
		zap.Int("alias_entities", table.Len()),
		zap.Bool("redis", p.Redis != nil),
		zap.Bool("learning", p.Learning != nil),
	)
	return nil
}

// Close drains background writes, then releases clients in reverse order.
func (p *Pipeline) Close() {
	if p.Pool != nil {
		p.Pool.Wait()
		p.Pool.Release()
	}
	if p.Learning != nil {
		if err := p.Learning.Close(); err != nil {
			logger.Warn("Failed to close learning log", zap.Error(err))
		}
	}
	if p.Zilliz != nil {
		if err := p.Zilliz.Close(); err != nil {
			logger.Warn("Failed to close Zilliz client", zap.Error(err))
		}
	}
	if p.Neo4j != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.Neo4j.Close(ctx); err != nil {
			logger.Warn("Failed to close Neo4j client", zap.Error(err))
		}
		cancel()
	}
	if p.Redis != nil {
		if err := p.Redis.Close(); err != nil {
			logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if p.SQLite != nil {
		if err := p.SQLite.Close(); err != nil {
			logger.Warn("Failed to close SQLite client", zap.Error(err))
		}
	}
}
