package generation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/llm"
	"github.com/policyqa/backend/internal/storage/models"
	"github.com/policyqa/backend/pkg/circuitbreaker"
	"github.com/policyqa/backend/pkg/logger"
	"github.com/policyqa/backend/pkg/retry"
	"github.com/policyqa/backend/pkg/utils"
)

type Backend interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (string, error)
}

type OverrideStore interface {
	GetOverride(ctx context.Context, questionHash string) (*models.AnswerOverride, bool, error)
}

type Config struct {
	MaxAttempts        int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BaseAttemptTimeout time.Duration
	PerKTokenTimeout   time.Duration
	TotalDeadline      time.Duration
	MaxOutputTokens    int
	ContextWindow      int
}

type Generator struct {
	backend   Backend
	overrides OverrideStore
	cfg       Config
}

func New(backend Backend, overrides OverrideStore, cfg Config) *Generator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseAttemptTimeout <= 0 {
		cfg.BaseAttemptTimeout = 20 * time.Second
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1024
	}
	return &Generator{backend: backend, overrides: overrides, cfg: cfg}
}

// Generate answers from the assembled context. A stored override for the
// normalized question is returned verbatim without calling the backend.
// Exhausted retries produce a failed Answer, never an error.
func (g *Generator) Generate(ctx context.Context, question domain.Question, bundle domain.ContextBundle, intent domain.Intent) domain.Answer {
	start := time.Now()

	if answer, ok := g.Override(ctx, question.Text); ok {
		answer.Latency = time.Since(start)
		return answer
	}

	req := llm.GenerateRequest{
		System:          systemPrompt,
		Prompt:          buildPrompt(question.Text, bundle, intent),
		MaxOutputTokens: g.cfg.MaxOutputTokens,
		ContextWindow:   g.cfg.ContextWindow,
		JSON:            true,
	}

	var (
		text      string
		citations []string
	)
	attempts, err := retry.Run(ctx, retry.Config{
		MaxAttempts:    g.cfg.MaxAttempts,
		InitialDelay:   g.cfg.InitialBackoff,
		MaxDelay:       g.cfg.MaxBackoff,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		AttemptTimeout: g.AttemptTimeout(bundle.TotalTokens),
		TotalTimeout:   g.cfg.TotalDeadline,
		RetryIf: func(err error) bool {
			return !circuitbreaker.IsOpen(err)
		},
		Logger: logger.GetLogger(),
	}, func(ctx context.Context) error {
		raw, err := g.backend.Generate(ctx, req)
		if err != nil {
			return err
		}
		text, citations, err = parseOutput(raw)
		return err
	})

	latency := time.Since(start)
	if err != nil {
		reason := failureReason(err)
		logger.Error("Answer generation failed",
			zap.Int("attempts", attempts),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return domain.Answer{
			Status:        domain.AnswerFailed,
			Attempts:      attempts,
			FailureReason: reason,
			Latency:       latency,
		}
	}

	logger.Info("Answer generated",
		zap.Int("attempts", attempts),
		zap.Int("citations", len(citations)),
		zap.Duration("latency", latency),
	)
	return domain.Answer{
		Text:      text,
		Citations: citations,
		Status:    domain.AnswerGenerated,
		Attempts:  attempts,
		Latency:   latency,
	}
}

// Override looks up a reviewer-supplied answer. Lookup errors are logged and
// treated as a miss.
func (g *Generator) Override(ctx context.Context, question string) (domain.Answer, bool) {
	if g.overrides == nil {
		return domain.Answer{}, false
	}

	override, ok, err := g.overrides.GetOverride(ctx, utils.QuestionHash(question))
	if err != nil {
		logger.Warn("Override lookup failed", zap.Error(err))
		return domain.Answer{}, false
	}
	if !ok || override == nil {
		return domain.Answer{}, false
	}

	logger.Info("Serving answer override", zap.String("review_id", override.ReviewID))
	return domain.Answer{
		Text:       override.Answer,
		Status:     domain.AnswerOverride,
		OverrideID: override.ReviewID,
	}, true
}

// AttemptTimeout grows with the context size.
func (g *Generator) AttemptTimeout(contextTokens int) time.Duration {
	return g.cfg.BaseAttemptTimeout + time.Duration(contextTokens)*g.cfg.PerKTokenTimeout/1000
}

func failureReason(err error) string {
	switch {
	case circuitbreaker.IsOpen(err):
		return "backend_unavailable"
	case errors.Is(err, domain.ErrMalformedOutput):
		return "malformed_output"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "backend_error"
	}
}
