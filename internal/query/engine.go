package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/metrics"
	"github.com/policyqa/backend/internal/review"
	"github.com/policyqa/backend/internal/storage/models"
	"github.com/policyqa/backend/pkg/logger"
)

type Resolver interface {
	Resolve(question string) domain.Resolution
}

type Classifier interface {
	Classify(question string) domain.Intent
}

type VectorRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) []domain.VectorHit
}

type GraphTraverser interface {
	Traverse(ctx context.Context, seeds []string, intent domain.IntentLabel, maxHops int) []domain.GraphPath
}

type Assembler interface {
	Assemble(hits []domain.VectorHit, paths []domain.GraphPath, budget int) domain.ContextBundle
}

type Generator interface {
	Generate(ctx context.Context, question domain.Question, bundle domain.ContextBundle, intent domain.Intent) domain.Answer
}

type Scorer interface {
	Score(intentConfidence, meanEntityScore float64, retrievalCount int) domain.ConfidenceScore
}

type Router interface {
	Route(sub review.Submission) string
}

type HistoryStore interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord, sources []models.QuerySource) error
}

type Background interface {
	Submit(op string, task func(ctx context.Context) error)
}

type Config struct {
	VectorTopK       int
	GraphMaxHops     int
	ContextBudget    int
	RetrievalTimeout time.Duration
	Deadline         time.Duration
}

type Components struct {
	Resolver   Resolver
	Classifier Classifier
	Vector     VectorRetriever
	Graph      GraphTraverser
	Assembler  Assembler
	Generator  Generator
	Scorer     Scorer
	Router     Router
	History    HistoryStore
	Background Background
}

type Engine struct {
	c   Components
	cfg Config
}

type QueryRequest struct {
	Question string
	UserID   string
	CaseID   string
	// OnStage, when set, is called as each pipeline stage completes. Calls
	// may come from concurrent stages and may arrive after Answer returned.
	OnStage func(stage string)
}

const (
	StatusAnswered = "answered"
	StatusOverride = "override"
	StatusFailed   = "failed"
	StatusTimeout  = "timeout"
)

type Source struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	SectionID string  `json:"section_id,omitempty"`
	Score     float64 `json:"score"`
	Tokens    int     `json:"tokens"`
}

type Failure struct {
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts,omitempty"`
}

type QueryResponse struct {
	ID         string        `json:"id"`
	Question   string        `json:"question"`
	Answer     string        `json:"answer"`
	Citations  []string      `json:"citations"`
	Confidence float64       `json:"confidence"`
	ReviewID   string        `json:"review_id,omitempty"`
	Status     string        `json:"status"`
	Intent     domain.Intent `json:"intent"`
	Entities   []string      `json:"entities"`
	Sources    []Source      `json:"sources"`
	Failure    *Failure      `json:"failure,omitempty"`
	LatencyMS  int           `json:"latency_ms"`
}

func NewEngine(c Components, cfg Config) *Engine {
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = 10 * time.Second
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 2 * time.Minute
	}
	return &Engine{c: c, cfg: cfg}
}

// Answer runs the pipeline for one question. It returns an error only for
// invalid input; every other outcome, including generation failure and the
// per-question deadline, is reported in the response.
func (e *Engine) Answer(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	question := domain.Question{
		Text:   strings.TrimSpace(req.Question),
		UserID: req.UserID,
		CaseID: req.CaseID,
	}
	if question.Text == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}

	start := time.Now()
	queryID := uuid.New().String()

	logger.Info("Processing question",
		zap.String("query_id", queryID),
		zap.String("user_id", question.UserID),
		zap.String("question", question.Text),
	)

	// The pipeline outlives an abandoned wait so in-flight calls finish on
	// their own timeouts.
	work := context.WithoutCancel(ctx)
	done := make(chan *QueryResponse, 1)
	go func() {
		done <- e.run(work, queryID, question, req.OnStage)
	}()

	timer := time.NewTimer(e.cfg.Deadline)
	defer timer.Stop()

	select {
	case resp := <-done:
		resp.LatencyMS = int(time.Since(start).Milliseconds())
		metrics.QueryDuration.WithLabelValues(string(resp.Intent.Label)).Observe(time.Since(start).Seconds())
		metrics.QueryTotal.WithLabelValues(resp.Status).Inc()
		return resp, nil
	case <-timer.C:
		logger.Warn("Question deadline elapsed, abandoning pipeline",
			zap.String("query_id", queryID),
			zap.Duration("deadline", e.cfg.Deadline),
		)
		return e.abandoned(queryID, question, start, "deadline_exceeded"), nil
	case <-ctx.Done():
		logger.Warn("Caller went away, abandoning pipeline", zap.String("query_id", queryID))
		return e.abandoned(queryID, question, start, "canceled"), nil
	}
}

func (e *Engine) abandoned(queryID string, question domain.Question, start time.Time, reason string) *QueryResponse {
	metrics.QueryTotal.WithLabelValues(StatusTimeout).Inc()
	return &QueryResponse{
		ID:        queryID,
		Question:  question.Text,
		Status:    StatusTimeout,
		Citations: []string{},
		Entities:  []string{},
		Sources:   []Source{},
		Failure:   &Failure{Reason: reason},
		LatencyMS: int(time.Since(start).Milliseconds()),
	}
}

func (e *Engine) run(ctx context.Context, queryID string, question domain.Question, onStage func(string)) *QueryResponse {
	stage := func(name string, began time.Time) {
		metrics.StageDuration.WithLabelValues(name).Observe(time.Since(began).Seconds())
		if onStage != nil {
			onStage(name)
		}
	}

	retrievalCtx, cancel := context.WithTimeout(ctx, e.cfg.RetrievalTimeout)
	defer cancel()

	var (
		hits       []domain.VectorHit
		paths      []domain.GraphPath
		intent     domain.Intent
		resolution domain.Resolution
	)

	// Vector search needs only the question text, so it starts first.
	var retrieval errgroup.Group
	retrieval.Go(func() error {
		began := time.Now()
		hits = e.c.Vector.Retrieve(retrievalCtx, question.Text, e.cfg.VectorTopK)
		stage("vector", began)
		return nil
	})

	var understanding errgroup.Group
	understanding.Go(func() error {
		began := time.Now()
		intent = e.c.Classifier.Classify(question.Text)
		stage("intent", began)
		return nil
	})
	understanding.Go(func() error {
		began := time.Now()
		resolution = e.c.Resolver.Resolve(question.Text)
		stage("entities", began)
		return nil
	})
	_ = understanding.Wait()

	seeds := resolution.SeedIDs()
	retrieval.Go(func() error {
		if len(seeds) == 0 {
			return nil
		}
		began := time.Now()
		paths = e.c.Graph.Traverse(retrievalCtx, seeds, intent.Label, e.cfg.GraphMaxHops)
		stage("graph", began)
		return nil
	})
	_ = retrieval.Wait()

	metrics.VectorResultsCount.Observe(float64(len(hits)))
	metrics.GraphPathsCount.Observe(float64(len(paths)))

	began := time.Now()
	bundle := e.c.Assembler.Assemble(hits, paths, e.cfg.ContextBudget)
	metrics.ContextTokens.Observe(float64(bundle.TotalTokens))
	stage("assemble", began)

	began = time.Now()
	answer := e.c.Generator.Generate(ctx, question, bundle, intent)
	metrics.AnswerStatus.WithLabelValues(string(answer.Status)).Inc()
	if answer.Attempts > 0 {
		metrics.GenerationAttempts.Observe(float64(answer.Attempts))
	}
	stage("generate", began)

	score := e.c.Scorer.Score(intent.Confidence, resolution.MeanScore(), len(hits)+len(paths))
	metrics.ConfidenceScore.Observe(score.Value)

	reviewID := e.c.Router.Route(review.Submission{
		QueryID:    queryID,
		Question:   question,
		Answer:     answer,
		Score:      score,
		Intent:     intent,
		Resolution: resolution,
		Hits:       hits,
		Paths:      paths,
		Bundle:     bundle,
	})

	resp := &QueryResponse{
		ID:         queryID,
		Question:   question.Text,
		Answer:     answer.Text,
		Citations:  answer.Citations,
		Confidence: score.Value,
		ReviewID:   reviewID,
		Status:     responseStatus(answer),
		Intent:     intent,
		Entities:   seeds,
		Sources:    sources(bundle),
	}
	if resp.Citations == nil {
		resp.Citations = []string{}
	}
	if answer.Failed() {
		resp.Failure = &Failure{Reason: answer.FailureReason, Attempts: answer.Attempts}
	}

	e.recordHistory(question, resp, answer, len(hits), len(paths), bundle)

	logger.Info("Question processed",
		zap.String("query_id", queryID),
		zap.String("status", resp.Status),
		zap.String("intent", string(intent.Label)),
		zap.Float64("confidence", score.Value),
		zap.Int("vector_hits", len(hits)),
		zap.Int("graph_paths", len(paths)),
		zap.String("review_id", reviewID),
	)
	return resp
}

func (e *Engine) recordHistory(question domain.Question, resp *QueryResponse, answer domain.Answer, vectorCount, graphCount int, bundle domain.ContextBundle) {
	if e.c.History == nil || e.c.Background == nil {
		return
	}

	record := &models.QueryRecord{
		ID:                 resp.ID,
		UserID:             question.UserID,
		CaseID:             question.CaseID,
		QueryText:          resp.Question,
		Response:           answer.Text,
		Status:             resp.Status,
		Intent:             string(resp.Intent.Label),
		Confidence:         resp.Confidence,
		VectorResultsCount: vectorCount,
		GraphResultsCount:  graphCount,
		ReviewID:           resp.ReviewID,
		LatencyMS:          int(answer.Latency.Milliseconds()),
		CreatedAt:          time.Now().UTC(),
	}
	var sources []models.QuerySource
	for _, item := range bundle.Items {
		sources = append(sources, models.QuerySource{
			QueryID:    resp.ID,
			SourceType: string(item.Source),
			SourceID:   item.ID,
			SectionID:  item.SectionID,
			Score:      item.Score,
		})
	}

	e.c.Background.Submit("history_insert", func(ctx context.Context) error {
		return e.c.History.InsertQueryRecord(ctx, record, sources)
	})
}

func responseStatus(answer domain.Answer) string {
	switch answer.Status {
	case domain.AnswerOverride:
		return StatusOverride
	case domain.AnswerFailed:
		return StatusFailed
	default:
		return StatusAnswered
	}
}

func sources(bundle domain.ContextBundle) []Source {
	out := make([]Source, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		out = append(out, Source{
			Type:      string(item.Source),
			ID:        item.ID,
			SectionID: item.SectionID,
			Score:     item.Score,
			Tokens:    item.Tokens,
		})
	}
	return out
}
