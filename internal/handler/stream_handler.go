package handler

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/tds-virtual-ta/internal/service"
)

// StreamHandler serves the latest question log entries for live dashboards.
type StreamHandler struct {
	outcomes *service.OutcomeService
}

// NewStreamHandler creates a new log stream handler.
func NewStreamHandler(outcomes *service.OutcomeService) *StreamHandler {
	return &StreamHandler{outcomes: outcomes}
}

// Register sets up streaming routes.
func (h *StreamHandler) Register(router fiber.Router) {
	router.Get("/logs/stream", h.StreamLogs)
}

// StreamLogs returns the latest question log entries for polling clients.
func (h *StreamHandler) StreamLogs(c fiber.Ctx) error {
	c.Set("Cache-Control", "no-cache")

	records, err := h.outcomes.Recent(c.Context(), queryInt(c, "limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}

	type logEntry struct {
		Timestamp    string  `json:"timestamp"`
		Question     string  `json:"question"`
		Success      bool    `json:"success"`
		ResponseTime float64 `json:"responseTime"`
		HasImage     bool    `json:"hasImage"`
		Error        string  `json:"error,omitempty"`
	}

	entries := make([]logEntry, len(records))
	for i, r := range records {
		entries[i] = logEntry{
			Timestamp:    r.CreatedAt.Format(time.RFC3339),
			Question:     r.Question,
			Success:      r.Success,
			ResponseTime: r.ResponseTime,
			HasImage:     r.HasImage,
		}
		if r.ErrorMessage != nil {
			entries[i].Error = *r.ErrorMessage
		}
	}

	return c.JSON(fiber.Map{
		"logs":  entries,
		"count": len(entries),
	})
}
