package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/review"
	"github.com/policyqa/backend/internal/storage/models"
	"github.com/policyqa/backend/pkg/logger"
)

type ReviewService interface {
	List(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewItem, error)
	Get(ctx context.Context, id string) (*models.ReviewItem, error)
	Claim(ctx context.Context, id, reviewer string) (*models.ReviewItem, error)
	SubmitFeedback(ctx context.Context, reviewID string, in review.FeedbackInput) (*review.FeedbackResult, error)
}

type ReviewHandler struct {
	reviews ReviewService
}

func NewReviewHandler(reviews ReviewService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews}
}

func (h *ReviewHandler) ListReviews(c *fiber.Ctx) error {
	items, err := h.reviews.List(c.UserContext(), models.ReviewFilter{
		Status:   models.ReviewStatus(c.Query("status")),
		Priority: models.ReviewPriority(c.Query("priority")),
		UserID:   c.Query("user_id"),
		Limit:    queryLimit(c, 50, 200),
	})
	if err != nil {
		return reviewError(c, "list", err)
	}

	if items == nil {
		items = []models.ReviewItem{}
	}
	return c.JSON(fiber.Map{
		"items": items,
		"count": len(items),
	})
}

func (h *ReviewHandler) GetReview(c *fiber.Ctx) error {
	item, err := h.reviews.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return reviewError(c, "get", err)
	}
	return c.JSON(item)
}

func (h *ReviewHandler) ClaimReview(c *fiber.Ctx) error {
	var req struct {
		Reviewer string `json:"reviewer"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	item, err := h.reviews.Claim(c.UserContext(), c.Params("id"), req.Reviewer)
	if err != nil {
		return reviewError(c, "claim", err)
	}
	return c.JSON(item)
}

func (h *ReviewHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		Reviewer        string `json:"reviewer"`
		Decision        string `json:"decision"`
		CorrectedAnswer string `json:"corrected_answer"`
		CorrectedIntent string `json:"corrected_intent"`
		Comments        string `json:"comments"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.reviews.SubmitFeedback(c.UserContext(), c.Params("id"), review.FeedbackInput{
		Reviewer:        req.Reviewer,
		Decision:        models.Decision(req.Decision),
		CorrectedAnswer: req.CorrectedAnswer,
		CorrectedIntent: req.CorrectedIntent,
		Comments:        req.Comments,
	})
	if err != nil {
		return reviewError(c, "feedback", err)
	}
	return c.JSON(result)
}

func reviewError(c *fiber.Ctx, op string, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrReviewNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = fiber.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnknownDecision):
		status = fiber.StatusBadRequest
	}

	if status == fiber.StatusInternalServerError {
		logger.Error("Review operation failed",
			zap.String("op", op),
			zap.String("review_id", c.Params("id")),
			zap.Error(err),
		)
		return c.Status(status).JSON(fiber.Map{
			"error": "Review operation failed",
		})
	}

	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
