package handler

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
	"github.com/arturoeanton/tds-virtual-ta/internal/service"
)

// testAnswer is returned by /api/test so clients can check wiring without
// spending provider calls.
var testAnswer = domain.Answer{
	Answer: "This is a test response. In production, this would be generated by the AI service.",
	Links: []domain.Link{{
		URL:  "https://discourse.onlinedegree.iitm.ac.in/t/test/123",
		Text: "Test Discussion Thread",
	}},
}

// RAGHandler handles the question answering endpoints.
type RAGHandler struct {
	ragService *service.RAGService
	maxImageMB int
	limit      fiber.Handler // optional, runs before each route
}

// NewRAGHandler creates a new RAG handler.
func NewRAGHandler(ragService *service.RAGService, maxImageMB int) *RAGHandler {
	return &RAGHandler{ragService: ragService, maxImageMB: maxImageMB}
}

// WithLimiter guards the question routes with a rate limiting handler.
func (h *RAGHandler) WithLimiter(limit fiber.Handler) *RAGHandler {
	h.limit = limit
	return h
}

// Register sets up question routes.
func (h *RAGHandler) Register(router fiber.Router) {
	h.post(router, "/", h.Ask)
	h.post(router, "/test", h.Test)
}

func (h *RAGHandler) post(router fiber.Router, path string, fn fiber.Handler) {
	if h.limit == nil {
		router.Post(path, fn)
		return
	}
	router.Post(path, h.limit, fn)
}

// Ask answers a student question. ?offline=true skips the completion provider.
func (h *RAGHandler) Ask(c fiber.Ctx) error {
	var req service.AskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request format"})
	}
	req.Offline, _ = strconv.ParseBool(c.Query("offline"))

	answer, err := h.ragService.Ask(c.Context(), req)
	if err != nil {
		if port.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": h.validationMessage(err)})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	return c.JSON(answer)
}

// Test validates the request shape and returns a canned answer.
func (h *RAGHandler) Test(c fiber.Ctx) error {
	var req service.AskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request format"})
	}
	if err := h.ragService.Validate(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": h.validationMessage(err)})
	}
	return c.JSON(testAnswer)
}

func (h *RAGHandler) validationMessage(err error) string {
	switch {
	case errors.Is(err, port.ErrImageTooLarge):
		return fmt.Sprintf("Image too large. Maximum size is %dMB.", h.maxImageMB)
	case errors.Is(err, port.ErrEmptyQuestion):
		return "Question is required"
	default:
		return err.Error()
	}
}
