package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/tds-virtual-ta/internal/port"
	"github.com/arturoeanton/tds-virtual-ta/internal/service"
)

// ConfigHandler reads and writes runtime configuration entries.
type ConfigHandler struct {
	config *service.ConfigService
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(config *service.ConfigService) *ConfigHandler {
	return &ConfigHandler{config: config}
}

// Register sets up config routes.
func (h *ConfigHandler) Register(router fiber.Router) {
	router.Get("/config", h.List)
	router.Post("/config", h.Set)
}

// List returns every config entry.
func (h *ConfigHandler) List(c fiber.Ctx) error {
	entries, err := h.config.All(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch configuration"})
	}
	return c.JSON(entries)
}

// Set creates or updates one entry.
func (h *ConfigHandler) Set(c fiber.Ctx) error {
	var body struct {
		Key         string `json:"key"`
		Value       string `json:"value"`
		Description string `json:"description"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request format"})
	}

	if err := h.config.Set(c.Context(), body.Key, body.Value, body.Description); err != nil {
		if errors.Is(err, port.ErrInvalidConfig) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true})
}
