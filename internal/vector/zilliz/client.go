package zilliz

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/pkg/circuitbreaker"
	"github.com/policyqa/backend/pkg/logger"
	"github.com/policyqa/backend/pkg/retry"
)

var outputFields = []string{"chunk_id", "text", "section_id", "title", "doc_url"}

type Client struct {
	client         client.Client
	collectionName string
	maxTopK        int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type Options struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	MaxTopK        int
	// Attempts bounds store retries per search; 2 means one retry.
	Attempts      int
	OnStateChange func(name, from, to string)
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: opts.Endpoint,
		APIKey:  opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 16
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 2
	}

	cb := circuitbreaker.NewCircuitBreaker("milvus", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		OnStateChange:    opts.OnStateChange,
		Logger:           logger.GetLogger(),
	})

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", opts.Endpoint),
		zap.String("collection", opts.CollectionName),
	)

	return &Client{
		client:         c,
		collectionName: opts.CollectionName,
		maxTopK:        opts.MaxTopK,
		cb:             cb,
		retryConfig: retry.Config{
			MaxAttempts:    opts.Attempts,
			InitialDelay:   150 * time.Millisecond,
			MaxDelay:       time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) MaxTopK() int {
	return z.maxTopK
}

// Ready reports whether the collection exists. Creating and loading it is
// the ingestion side's job.
func (z *Client) Ready(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return fmt.Errorf("collection %s does not exist", z.collectionName)
	}
	return nil
}

// Search returns up to topK hits by cosine similarity. topK is capped at the
// store maximum; fewer hits than requested is not an error.
func (z *Client) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]domain.VectorHit, error) {
	if topK > z.maxTopK {
		topK = z.maxTopK
	}
	if topK <= 0 {
		return nil, nil
	}

	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	var results []client.SearchResult
	err = z.cb.Execute(ctx, func() error {
		return retry.Do(ctx, z.retryConfig, func(ctx context.Context) error {
			r, err := z.client.Search(
				ctx,
				z.collectionName,
				[]string{},
				"",
				outputFields,
				[]entity.Vector{entity.FloatVector(queryEmbedding)},
				"embedding",
				entity.COSINE,
				topK,
				sp,
			)
			if err != nil {
				return fmt.Errorf("failed to search: %w", err)
			}
			results = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	hits := make([]domain.VectorHit, 0, topK)
	for _, sr := range results {
		for i := 0; i < sr.ResultCount; i++ {
			hit := domain.VectorHit{
				ChunkID:   columnString(sr, "chunk_id", i),
				Text:      columnString(sr, "text", i),
				SectionID: columnString(sr, "section_id", i),
				Title:     columnString(sr, "title", i),
				DocURL:    columnString(sr, "doc_url", i),
			}
			if i < len(sr.Scores) {
				hit.Score = float64(sr.Scores[i])
			}
			if hit.ChunkID == "" {
				continue
			}
			hits = append(hits, hit)
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(hits)),
	)

	return hits, nil
}

func columnString(sr client.SearchResult, name string, i int) string {
	col := sr.Fields.GetColumn(name)
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
