package handlers

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/policyqa/backend/pkg/logger"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
}

func NewHealthHandler(checks map[string]Check) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 3 * time.Second}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Ready runs every dependency check. Any failure makes the service not
// ready; the response names each component's state.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]string, len(names))
	ready := true
	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
		err := h.checks[name](ctx)
		cancel()

		if err != nil {
			logger.Warn("Readiness check failed", zap.String("component", name), zap.Error(err))
			components[name] = err.Error()
			ready = false
			continue
		}
		components[name] = "ok"
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":     "not_ready",
			"components": components,
		})
	}
	return c.JSON(fiber.Map{
		"status":     "ready",
		"components": components,
	})
}
