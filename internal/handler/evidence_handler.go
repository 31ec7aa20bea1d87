package handler

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/tds-virtual-ta/internal/service"
)

// EvidenceHandler exposes retrieval on its own, for inspecting what the
// pipeline would put in front of the model.
type EvidenceHandler struct {
	retrieval *service.RetrievalService
}

// NewEvidenceHandler creates a new evidence handler.
func NewEvidenceHandler(retrieval *service.RetrievalService) *EvidenceHandler {
	return &EvidenceHandler{retrieval: retrieval}
}

// Register sets up evidence routes.
func (h *EvidenceHandler) Register(router fiber.Router) {
	router.Get("/evidence", h.Find)
}

// Find returns ranked evidence for ?q=.
func (h *EvidenceHandler) Find(c fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Question is required"})
	}

	evidence, err := h.retrieval.FindEvidence(c.Context(), q)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	return c.JSON(fiber.Map{
		"evidence": evidence,
		"count":    len(evidence),
	})
}
