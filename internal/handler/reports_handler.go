package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/tds-virtual-ta/internal/service"
)

// ReportsHandler serves the dashboard and performance views of the question log.
type ReportsHandler struct {
	outcomes *service.OutcomeService
	index    *service.IndexService
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(outcomes *service.OutcomeService, index *service.IndexService) *ReportsHandler {
	return &ReportsHandler{outcomes: outcomes, index: index}
}

// Register sets up report routes.
func (h *ReportsHandler) Register(router fiber.Router) {
	dashboard := router.Group("/dashboard")
	dashboard.Get("/metrics", h.Metrics)
	dashboard.Get("/recent-questions", h.RecentQuestions)

	router.Get("/performance/metrics", h.Performance)
}

// Metrics returns question log aggregates plus index size and query time.
func (h *ReportsHandler) Metrics(c fiber.Ctx) error {
	m, err := h.outcomes.Metrics(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch metrics"})
	}
	stats := h.index.IndexStats()

	return c.JSON(fiber.Map{
		"totalQuestions":      m.TotalQuestions,
		"successfulQuestions": m.SuccessfulQuestions,
		"successRate":         m.SuccessRate,
		"avgResponseTime":     m.AvgResponseTime,
		"questionsToday":      m.QuestionsToday,
		"vectorEmbeddings":    stats.Total,
		"avgQueryTime":        stats.AvgQueryTime,
	})
}

// RecentQuestions returns the newest question records, default 10.
func (h *ReportsHandler) RecentQuestions(c fiber.Ctx) error {
	limit := queryInt(c, "limit", 10)
	records, err := h.outcomes.Recent(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch recent questions"})
	}
	return c.JSON(records)
}

// Performance returns latency estimates, throughput and index statistics.
func (h *ReportsHandler) Performance(c fiber.Ctx) error {
	perf, err := h.outcomes.Performance(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch performance metrics"})
	}

	return c.JSON(fiber.Map{
		"totalQuestions":      perf.TotalRequests,
		"successfulQuestions": perf.Successful,
		"successRate":         perf.SuccessRate,
		"avgResponseTime":     perf.AvgResponseTime,
		"questionsToday":      perf.QuestionsToday,
		"errorCount":          perf.ErrorCount,
		"latency": fiber.Map{
			"avg": perf.AvgResponseTime,
			"p95": perf.P95ResponseTime,
			"p99": perf.P99ResponseTime,
		},
		"throughput": perf.Throughput,
		"vectorDB":   h.index.IndexStats(),
	})
}

// queryInt reads an integer query param with a default value.
func queryInt(c fiber.Ctx, key string, defaultVal int) int {
	v := c.Query(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
