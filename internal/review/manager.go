package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/learning"
	"github.com/policyqa/backend/internal/metrics"
	"github.com/policyqa/backend/internal/storage/models"
	"github.com/policyqa/backend/internal/worker"
	"github.com/policyqa/backend/pkg/logger"
	"github.com/policyqa/backend/pkg/utils"
)

type Store interface {
	CreateReviewItem(ctx context.Context, item *models.ReviewItem) error
	GetReviewItem(ctx context.Context, id string) (*models.ReviewItem, error)
	ListReviewItems(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewItem, error)
	UpdateReviewItem(ctx context.Context, id string, patch models.ReviewPatch) error
	InsertFeedback(ctx context.Context, feedback *models.Feedback) error
}

type Learner interface {
	Record(ctx context.Context, c learning.Correction) error
}

type Config struct {
	Threshold    float64
	LowThreshold float64
}

// Submission is everything known about one answered question.
type Submission struct {
	QueryID    string
	Question   domain.Question
	Answer     domain.Answer
	Score      domain.ConfidenceScore
	Intent     domain.Intent
	Resolution domain.Resolution
	Hits       []domain.VectorHit
	Paths      []domain.GraphPath
	Bundle     domain.ContextBundle
}

type FeedbackInput struct {
	Reviewer        string
	Decision        models.Decision
	CorrectedAnswer string
	CorrectedIntent string
	Comments        string
}

type FeedbackResult struct {
	ReviewID           string              `json:"review_id"`
	Status             models.ReviewStatus `json:"status"`
	OverrideRegistered bool                `json:"override_registered"`
	SampleRecorded     bool                `json:"sample_recorded"`
}

type Manager struct {
	store     Store
	overrides *Overrides
	learner   Learner
	pool      *worker.Pool
	cfg       Config
	now       func() time.Time
}

func NewManager(store Store, overrides *Overrides, learner Learner, pool *worker.Pool, cfg Config) *Manager {
	return &Manager{
		store:     store,
		overrides: overrides,
		learner:   learner,
		pool:      pool,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Priority maps an answer to its review band. Failed generation is always
// high; a substring-only entity hit forces at least medium.
func (m *Manager) Priority(score float64, answer domain.Answer, flags []domain.SubstringFlag) (models.ReviewPriority, string) {
	switch {
	case answer.Failed():
		return models.PriorityHigh, "generation_failed: " + answer.FailureReason
	case answer.OverrideSourced():
		return models.PriorityNone, ""
	case score < m.cfg.LowThreshold:
		return models.PriorityHigh, fmt.Sprintf("confidence %.2f below %.2f", score, m.cfg.LowThreshold)
	case score < m.cfg.Threshold:
		return models.PriorityMedium, fmt.Sprintf("confidence %.2f below %.2f", score, m.cfg.Threshold)
	case len(flags) > 0:
		return models.PriorityMedium, "substring_entity_match: " + flags[0].Token
	default:
		return models.PriorityNone, ""
	}
}

// Route creates a review item when the answer needs one and persists it in
// the background. It returns the new item's id, or "" when no review is
// needed. The caller is never blocked on persistence.
func (m *Manager) Route(sub Submission) string {
	priority, reason := m.Priority(sub.Score.Value, sub.Answer, sub.Resolution.Flags)
	if priority == models.PriorityNone {
		return ""
	}

	item := m.buildItem(sub, priority, reason)
	metrics.ReviewItemsCreated.WithLabelValues(string(priority)).Inc()

	logger.Info("Answer routed to review",
		zap.String("review_id", item.ID),
		zap.String("priority", string(priority)),
		zap.String("reason", reason),
	)

	m.pool.Submit("review_create", func(ctx context.Context) error {
		return m.store.CreateReviewItem(ctx, item)
	})
	return item.ID
}

func (m *Manager) buildItem(sub Submission, priority models.ReviewPriority, reason string) *models.ReviewItem {
	now := m.now()

	trace := models.RetrievalTrace{
		VectorHits:  sub.Hits,
		TotalTokens: sub.Bundle.TotalTokens,
		Excluded:    sub.Bundle.Excluded,
	}
	for _, p := range sub.Paths {
		trace.GraphPaths = append(trace.GraphPaths, p.Key())
	}
	for _, item := range sub.Bundle.Items {
		trace.ContextItems = append(trace.ContextItems, string(item.Source)+":"+item.ID)
	}

	return &models.ReviewItem{
		ID:           uuid.New().String(),
		QuestionHash: utils.QuestionHash(sub.Question.Text),
		Question:     sub.Question.Text,
		Answer:       sub.Answer.Text,
		UserID:       sub.Question.UserID,
		CaseID:       sub.Question.CaseID,
		Confidence:   sub.Score.Value,
		Priority:     priority,
		Status:       models.ReviewPending,
		Reason:       reason,
		Metadata: models.ReviewMetadata{
			Intent:        sub.Intent,
			Entities:      sub.Resolution.Mentions,
			Flags:         sub.Resolution.Flags,
			Confidence:    sub.Score,
			Citations:     sub.Answer.Citations,
			Trace:         trace,
			AnswerStatus:  sub.Answer.Status,
			FailureReason: sub.Answer.FailureReason,
			Attempts:      sub.Answer.Attempts,
			QueryID:       sub.QueryID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Claim moves a pending item to in_review.
func (m *Manager) Claim(ctx context.Context, id, reviewer string) (*models.ReviewItem, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, fmt.Errorf("%w: reviewer is required", domain.ErrInvalidInput)
	}

	err := m.store.UpdateReviewItem(ctx, id, models.ReviewPatch{
		From:      models.ReviewPending,
		To:        models.ReviewInReview,
		Reviewer:  reviewer,
		UpdatedAt: m.now(),
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Review item claimed", zap.String("review_id", id), zap.String("reviewer", reviewer))
	return m.store.GetReviewItem(ctx, id)
}

func (m *Manager) Get(ctx context.Context, id string) (*models.ReviewItem, error) {
	return m.store.GetReviewItem(ctx, id)
}

func (m *Manager) List(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewItem, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, filter.Status)
	}
	return m.store.ListReviewItems(ctx, filter)
}

// TargetStatus applies the decision table. A reject that carries a
// correction needs revision rather than outright rejection.
func TargetStatus(decision models.Decision, corrected string) (models.ReviewStatus, error) {
	switch decision {
	case models.DecisionApprove:
		return models.ReviewApproved, nil
	case models.DecisionRevise:
		return models.ReviewNeedsRevision, nil
	case models.DecisionReject:
		if strings.TrimSpace(corrected) != "" {
			return models.ReviewNeedsRevision, nil
		}
		return models.ReviewRejected, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownDecision, decision)
	}
}

// SubmitFeedback records a reviewer decision and applies its effects. The
// status transition is durable before the call returns; learning updates
// are written in the background.
func (m *Manager) SubmitFeedback(ctx context.Context, reviewID string, in FeedbackInput) (*FeedbackResult, error) {
	if strings.TrimSpace(in.Reviewer) == "" {
		return nil, fmt.Errorf("%w: reviewer is required", domain.ErrInvalidInput)
	}

	target, err := TargetStatus(in.Decision, in.CorrectedAnswer)
	if err != nil {
		return nil, err
	}

	var correctedIntent domain.IntentLabel
	if in.CorrectedIntent != "" {
		label, ok := domain.ParseIntentLabel(in.CorrectedIntent)
		if !ok {
			return nil, fmt.Errorf("%w: unknown intent %q", domain.ErrInvalidInput, in.CorrectedIntent)
		}
		correctedIntent = label
	}

	item, err := m.store.GetReviewItem(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if item.Status.Terminal() {
		return nil, fmt.Errorf("%w: review %s is already %s", domain.ErrInvalidTransition, reviewID, item.Status)
	}

	now := m.now()
	if err := m.store.UpdateReviewItem(ctx, reviewID, models.ReviewPatch{
		From:      item.Status,
		To:        target,
		Reviewer:  in.Reviewer,
		UpdatedAt: now,
	}); err != nil {
		return nil, err
	}

	feedback := &models.Feedback{
		ID:              uuid.New().String(),
		ReviewID:        reviewID,
		Reviewer:        in.Reviewer,
		Decision:        in.Decision,
		CorrectedAnswer: in.CorrectedAnswer,
		CorrectedIntent: string(correctedIntent),
		Comments:        in.Comments,
		CreatedAt:       now,
	}
	if err := m.store.InsertFeedback(ctx, feedback); err != nil {
		logger.Warn("Feedback insert failed, retrying in background", zap.String("review_id", reviewID), zap.Error(err))
		m.pool.Submit("feedback_insert", func(ctx context.Context) error {
			return m.store.InsertFeedback(ctx, feedback)
		})
	}

	metrics.ReviewDecisions.WithLabelValues(string(in.Decision)).Inc()
	result := &FeedbackResult{ReviewID: reviewID, Status: target}

	if in.Decision != models.DecisionApprove && strings.TrimSpace(in.CorrectedAnswer) != "" {
		override := &models.AnswerOverride{
			QuestionHash: item.QuestionHash,
			Question:     item.Question,
			Answer:       in.CorrectedAnswer,
			ReviewID:     reviewID,
			CreatedBy:    in.Reviewer,
			CreatedAt:    now,
		}
		if err := m.overrides.PutOverride(ctx, override); err != nil {
			return nil, fmt.Errorf("failed to register override: %w", err)
		}
		result.OverrideRegistered = true
	}

	if correctedIntent != "" && item.Metadata.Intent.Label != "" && m.learner != nil {
		correction := learning.Correction{
			Question:        item.Question,
			OriginalIntent:  item.Metadata.Intent.Label,
			CorrectedIntent: correctedIntent,
			CorrectedAnswer: in.CorrectedAnswer,
			ReviewID:        reviewID,
			Reviewer:        in.Reviewer,
		}
		m.pool.Submit("learning_record", func(ctx context.Context) error {
			err := m.learner.Record(ctx, correction)
			if errors.Is(err, domain.ErrInvalidInput) {
				logger.Warn("Training sample rejected", zap.Error(err))
				return nil
			}
			return err
		})
		result.SampleRecorded = true
	}

	logger.Info("Review feedback applied",
		zap.String("review_id", reviewID),
		zap.String("decision", string(in.Decision)),
		zap.String("status", string(target)),
		zap.Bool("override", result.OverrideRegistered),
	)
	return result, nil
}

// Wait blocks until queued background writes finish.
func (m *Manager) Wait() {
	m.pool.Wait()
}
