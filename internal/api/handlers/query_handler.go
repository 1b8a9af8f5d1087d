package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/query"
	"github.com/policyqa/backend/internal/storage/models"
	"github.com/policyqa/backend/pkg/logger"
)

type AnswerEngine interface {
	Answer(ctx context.Context, req query.QueryRequest) (*query.QueryResponse, error)
}

type HistoryReader interface {
	GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	engine  AnswerEngine
	history HistoryReader
}

func NewQueryHandler(engine AnswerEngine, history HistoryReader) *QueryHandler {
	return &QueryHandler{
		engine:  engine,
		history: history,
	}
}

type answerRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`
	CaseID   string `json:"case_id"`
}

func (h *QueryHandler) HandleAnswer(c *fiber.Ctx) error {
	var req answerRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if cleaned, ok := c.Locals("question").(string); ok {
		req.Question = cleaned
	}
	if req.UserID == "" {
		req.UserID = c.Get("X-User-ID")
	}

	response, err := h.engine.Answer(c.UserContext(), query.QueryRequest{
		Question: req.Question,
		UserID:   req.UserID,
		CaseID:   req.CaseID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to answer question", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to answer question",
		})
	}

	return c.JSON(response)
}

type historyEntry struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Status     string    `json:"status"`
	Intent     string    `json:"intent"`
	Confidence float64   `json:"confidence"`
	ReviewID   string    `json:"review_id,omitempty"`
	CaseID     string    `json:"case_id,omitempty"`
	LatencyMS  int       `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	limit := queryLimit(c, 20, 100)

	records, err := h.history.GetQueryHistory(c.UserContext(), userID, limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}

	history := make([]historyEntry, 0, len(records))
	for _, r := range records {
		history = append(history, historyEntry{
			ID:         r.ID,
			Question:   r.QueryText,
			Answer:     r.Response,
			Status:     r.Status,
			Intent:     r.Intent,
			Confidence: r.Confidence,
			ReviewID:   r.ReviewID,
			CaseID:     r.CaseID,
			LatencyMS:  r.LatencyMS,
			CreatedAt:  r.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}

func queryLimit(c *fiber.Ctx, def, max int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
