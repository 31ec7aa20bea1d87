package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Pinger is implemented by stores that hold a connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and database reachability.
type HealthHandler struct {
	appName string
	db      Pinger // nil for the in-memory store
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(appName string, db Pinger) *HealthHandler {
	return &HealthHandler{appName: appName, db: db}
}

// Register sets up the health route.
func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
}

// Health returns 200 when the service can reach its database, 503 otherwise.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unhealthy",
				"app":    h.appName,
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"app":     h.appName,
		"version": Version,
	})
}
