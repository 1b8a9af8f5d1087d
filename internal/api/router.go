package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/policyqa/backend/internal/api/handlers"
	"github.com/policyqa/backend/internal/metrics"
)

type Handlers struct {
	Query     *handlers.QueryHandler
	WebSocket *handlers.WebSocketHandler
	Review    *handlers.ReviewHandler
	Learning  *handlers.LearningHandler
	Health    *handlers.HealthHandler
}

// RegisterRoutes mounts the HTTP surface. Middleware is the caller's concern.
func RegisterRoutes(app *fiber.App, h Handlers) {
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Post("/answer", h.Query.HandleAnswer)
	api.Get("/history", h.Query.GetQueryHistory)

	if h.WebSocket != nil {
		api.Use("/answer/stream", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		api.Get("/answer/stream", websocket.New(h.WebSocket.HandleConnection))
	}

	api.Get("/reviews", h.Review.ListReviews)
	api.Get("/reviews/:id", h.Review.GetReview)
	api.Post("/reviews/:id/claim", h.Review.ClaimReview)
	api.Post("/reviews/:id/feedback", h.Review.SubmitFeedback)

	api.Get("/learning/stats", h.Learning.GetStats)

	api.Get("/health", h.Health.Health)
	api.Get("/ready", h.Health.Ready)
}
