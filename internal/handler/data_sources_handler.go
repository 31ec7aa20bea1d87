package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
	"github.com/arturoeanton/tds-virtual-ta/internal/service"
)

// DataSourcesHandler exposes corpus status, ingestion and reindexing.
type DataSourcesHandler struct {
	index     *service.IndexService
	jobs      *service.JobTracker
	scheduler *service.Scheduler // nil when no schedule is configured
}

// NewDataSourcesHandler creates a new data sources handler.
func NewDataSourcesHandler(index *service.IndexService, jobs *service.JobTracker, scheduler *service.Scheduler) *DataSourcesHandler {
	return &DataSourcesHandler{index: index, jobs: jobs, scheduler: scheduler}
}

// Register sets up data source routes.
func (h *DataSourcesHandler) Register(router fiber.Router) {
	ds := router.Group("/data-sources")
	ds.Get("/status", h.Status)
	ds.Post("/ingest", h.Ingest)
	ds.Post("/reindex-vectors", h.Reindex)
}

// Status reports per-corpus counts, index statistics and recent jobs.
func (h *DataSourcesHandler) Status(c fiber.Ctx) error {
	corpora, err := h.index.CorpusStatus(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch data sources status"})
	}

	resp := fiber.Map{
		"courseContent":   corpora[domain.VariantCourse],
		"forumPosts":      corpora[domain.VariantForum],
		"vectorIndex":     h.index.IndexStats(),
		"reindexRunning":  h.index.Running(),
		"lastReindex":     h.index.LastReindex(),
		"nextReindex":     nil,
		"reindexSchedule": "",
		"recentJobs":      h.jobs.RecentJobs(5),
	}
	if h.scheduler != nil {
		resp["nextReindex"] = h.scheduler.NextRun(time.Now())
		resp["reindexSchedule"] = h.scheduler.Expression()
	}
	return c.JSON(resp)
}

// Ingest upserts a batch of content items and embeds the new ones.
func (h *DataSourcesHandler) Ingest(c fiber.Ctx) error {
	var body struct {
		Items []domain.ContentItem `json:"items"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request format"})
	}
	if len(body.Items) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "items are required"})
	}

	res, err := h.index.Ingest(c.Context(), body.Items)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	return c.JSON(res)
}

// Reindex starts a background rebuild of the embedding index.
func (h *DataSourcesHandler) Reindex(c fiber.Ctx) error {
	id, err := h.index.StartReindex()
	if errors.Is(err, port.ErrReindexInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": "Reindexing already in progress"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "reindex started",
		"job_id":  id,
	})
}
