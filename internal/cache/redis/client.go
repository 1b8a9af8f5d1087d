package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/storage/models"
	"github.com/policyqa/backend/pkg/logger"
)

const (
	embeddingPrefix = "policyqa:embedding:"
	overridePrefix  = "policyqa:override:"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if err := c.client.Set(ctx, embeddingPrefix+textHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingPrefix+textHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}

func (c *Client) SetOverride(ctx context.Context, override *models.AnswerOverride, ttl time.Duration) error {
	data, err := json.Marshal(override)
	if err != nil {
		return fmt.Errorf("failed to marshal override: %w", err)
	}

	if err := c.client.Set(ctx, overridePrefix+override.QuestionHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set override cache: %w", err)
	}

	return nil
}

func (c *Client) GetOverride(ctx context.Context, questionHash string) (*models.AnswerOverride, bool, error) {
	data, err := c.client.Get(ctx, overridePrefix+questionHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get override cache: %w", err)
	}

	var override models.AnswerOverride
	if err := json.Unmarshal(data, &override); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal override: %w", err)
	}

	logger.Debug("Override cache hit", zap.String("question_hash", questionHash))
	return &override, true, nil
}

func (c *Client) DeleteOverride(ctx context.Context, questionHash string) error {
	return c.client.Del(ctx, overridePrefix+questionHash).Err()
}
