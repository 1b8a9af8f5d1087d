package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/learning"
	"github.com/policyqa/backend/pkg/logger"
)

type StatsProvider interface {
	Stats(ctx context.Context) (learning.Stats, error)
}

type LearningHandler struct {
	tracker StatsProvider
}

func NewLearningHandler(tracker StatsProvider) *LearningHandler {
	return &LearningHandler{tracker: tracker}
}

func (h *LearningHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.tracker.Stats(c.UserContext())
	if err != nil {
		logger.Error("Failed to compute learning stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute learning stats",
		})
	}
	return c.JSON(stats)
}
