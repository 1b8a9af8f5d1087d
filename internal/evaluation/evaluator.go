package evaluation

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/query"
	"github.com/policyqa/backend/pkg/logger"
)

type AnswerEngine interface {
	Answer(ctx context.Context, req query.QueryRequest) (*query.QueryResponse, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Evaluator replays a golden question set through the pipeline and scores
// what comes back.
type Evaluator struct {
	engine   AnswerEngine
	embedder Embedder
}

type Dataset struct {
	Items []DatasetItem `yaml:"items"`
}

type DatasetItem struct {
	Question          string   `yaml:"question"`
	ExpectedAnswer    string   `yaml:"expected_answer"`
	ExpectedIntent    string   `yaml:"expected_intent"`
	ExpectedCitations []string `yaml:"expected_citations"`
}

type ItemResult struct {
	Question         string
	Status           string
	Intent           domain.IntentLabel
	IntentCorrect    bool
	CitationRecall   float64
	CosineSimilarity float64
	Confidence       float64
	Reviewed         bool
}

type Report struct {
	TotalQuestions      int
	Failed              int
	RoutedToReview      int
	IntentAccuracy      float64
	AvgCitationRecall   float64
	AvgCosineSimilarity float64
	AvgConfidence       float64
	Items               []ItemResult
}

// NewEvaluator builds an evaluator. embedder may be nil, in which case
// answer similarity is not scored.
func NewEvaluator(engine AnswerEngine, embedder Embedder) *Evaluator {
	return &Evaluator{
		engine:   engine,
		embedder: embedder,
	}
}

func (e *Evaluator) EvaluateItem(ctx context.Context, item DatasetItem) (*ItemResult, error) {
	resp, err := e.engine.Answer(ctx, query.QueryRequest{Question: item.Question, UserID: "evaluation"})
	if err != nil {
		return nil, fmt.Errorf("failed to answer %q: %w", item.Question, err)
	}

	result := &ItemResult{
		Question:       item.Question,
		Status:         resp.Status,
		Intent:         resp.Intent.Label,
		IntentCorrect:  item.ExpectedIntent == "" || string(resp.Intent.Label) == item.ExpectedIntent,
		CitationRecall: citationRecall(item.ExpectedCitations, resp.Citations),
		Confidence:     resp.Confidence,
		Reviewed:       resp.ReviewID != "",
	}

	if e.embedder != nil && item.ExpectedAnswer != "" && resp.Answer != "" {
		sim, err := e.similarity(ctx, resp.Answer, item.ExpectedAnswer)
		if err != nil {
			logger.Warn("Failed to calculate cosine similarity", zap.Error(err))
		}
		result.CosineSimilarity = sim
	}

	return result, nil
}

func (e *Evaluator) Run(ctx context.Context, dataset *Dataset) (*Report, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &Report{}
	var intentHits int
	var totalRecall, totalSim, totalConfidence float64

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Debug("Evaluating item", zap.Int("index", i+1), zap.Int("total", len(dataset.Items)))

		result, err := e.EvaluateItem(ctx, item)
		if err != nil {
			logger.Error("Failed to evaluate item", zap.Error(err))
			continue
		}

		report.Items = append(report.Items, *result)
		if result.Status == query.StatusFailed || result.Status == query.StatusTimeout {
			report.Failed++
		}
		if result.Reviewed {
			report.RoutedToReview++
		}
		if result.IntentCorrect {
			intentHits++
		}
		totalRecall += result.CitationRecall
		totalSim += result.CosineSimilarity
		totalConfidence += result.Confidence
	}

	report.TotalQuestions = len(report.Items)
	if n := float64(report.TotalQuestions); n > 0 {
		report.IntentAccuracy = float64(intentHits) / n
		report.AvgCitationRecall = totalRecall / n
		report.AvgCosineSimilarity = totalSim / n
		report.AvgConfidence = totalConfidence / n
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQuestions),
		zap.Int("failed", report.Failed),
		zap.Int("reviewed", report.RoutedToReview),
		zap.Float64("intent_accuracy", report.IntentAccuracy),
	)

	return report, nil
}

func (e *Evaluator) similarity(ctx context.Context, text1, text2 string) (float64, error) {
	emb1, err := e.embedder.Embed(ctx, text1)
	if err != nil {
		return 0, err
	}

	emb2, err := e.embedder.Embed(ctx, text2)
	if err != nil {
		return 0, err
	}

	return cosineSimilarity(emb1, emb2), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// citationRecall is the share of expected sections the answer cited. With
// nothing expected it is 1.
func citationRecall(expected, got []string) float64 {
	if len(expected) == 0 {
		return 1
	}
	cited := make(map[string]bool, len(got))
	for _, c := range got {
		cited[strings.ToUpper(c)] = true
	}
	var hits int
	for _, c := range expected {
		if cited[strings.ToUpper(c)] {
			hits++
		}
	}
	return float64(hits) / float64(len(expected))
}

func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var dataset Dataset
	if err := yaml.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	for i, item := range dataset.Items {
		if strings.TrimSpace(item.Question) == "" {
			return nil, fmt.Errorf("%w: dataset item %d has no question", domain.ErrInvalidInput, i+1)
		}
		if item.ExpectedIntent != "" {
			if _, ok := domain.ParseIntentLabel(item.ExpectedIntent); !ok {
				return nil, fmt.Errorf("%w: dataset item %d has unknown intent %q", domain.ErrInvalidInput, i+1, item.ExpectedIntent)
			}
		}
	}

	return &dataset, nil
}

func FormatReport(report *Report) string {
	reviewRate, failRate := 0.0, 0.0
	if report.TotalQuestions > 0 {
		reviewRate = float64(report.RoutedToReview) / float64(report.TotalQuestions) * 100
		failRate = float64(report.Failed) / float64(report.TotalQuestions) * 100
	}
	return fmt.Sprintf(`
Evaluation Report
=================

Total Questions: %d
Failed: %d (%.1f%%)
Routed to Review: %d (%.1f%%)

Intent Accuracy: %.1f%%
Citation Recall: %.2f
Answer Similarity: %.3f
Mean Confidence: %.2f
`,
		report.TotalQuestions,
		report.Failed, failRate,
		report.RoutedToReview, reviewRate,
		report.IntentAccuracy*100,
		report.AvgCitationRecall,
		report.AvgCosineSimilarity,
		report.AvgConfidence,
	)
}
