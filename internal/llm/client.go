package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/policyqa/backend/pkg/circuitbreaker"
	"github.com/policyqa/backend/pkg/logger"
	"github.com/policyqa/backend/pkg/retry"
)

var ErrEmptyCompletion = errors.New("completion returned no choices")

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	cb             *circuitbreaker.CircuitBreaker
	embedRetry     retry.Config
}

type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float32
	// EmbedAttempts bounds embedding retries; generation retries are owned by the caller.
	EmbedAttempts int
	// OnStateChange observes breaker transitions (metrics).
	OnStateChange func(name, from, to string)
}

type GenerateRequest struct {
	System          string
	Prompt          string
	MaxOutputTokens int
	ContextWindow   int
	JSON            bool
}

func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		OnStateChange:    opts.OnStateChange,
		Logger:           logger.GetLogger(),
	})

	embedRetry := retry.Config{
		MaxAttempts:    opts.EmbedAttempts,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		AttemptTimeout: 15 * time.Second,
		Logger:         logger.GetLogger(),
	}
	if embedRetry.MaxAttempts <= 0 {
		embedRetry.MaxAttempts = 2
	}

	logger.Info("LLM client initialized",
		zap.String("model", opts.Model),
		zap.String("embedding_model", opts.EmbeddingModel),
	)

	return &Client{
		client:         openai.NewClientWithConfig(cfg),
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		temperature:    opts.Temperature,
		cb:             cb,
		embedRetry:     embedRetry,
	}
}

// Generate performs exactly one completion call behind the circuit breaker.
// Timeouts and retries come from the caller's context and retry policy.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if req.ContextWindow > 0 {
		estimated := (utf8.RuneCountInString(req.System) + utf8.RuneCountInString(req.Prompt)) / 4
		if estimated+req.MaxOutputTokens > req.ContextWindow {
			logger.Warn("Prompt may exceed backend context window",
				zap.Int("estimated_tokens", estimated),
				zap.Int("max_output_tokens", req.MaxOutputTokens),
				zap.Int("context_window", req.ContextWindow),
			)
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   req.MaxOutputTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var content string
	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyCompletion
		}

		logger.Debug("LLM completion generated",
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		)

		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}

	return content, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("failed to generate embedding: empty input")
	}

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.embedRetry, func(ctx context.Context) error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: []string{text},
				Model: openai.EmbeddingModel(c.embeddingModel),
			})
			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}
			if len(resp.Data) == 0 {
				return fmt.Errorf("failed to generate embedding: empty response")
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return embedding, nil
}

func (c *Client) BreakerState() string {
	return c.cb.State()
}
