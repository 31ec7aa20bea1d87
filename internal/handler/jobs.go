package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/service"
)

const sseTimeout = 10 * time.Minute

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	tracker *service.JobTracker
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(tracker *service.JobTracker) *JobsHandler {
	return &JobsHandler{tracker: tracker}
}

// Register sets up job routes.
func (h *JobsHandler) Register(router fiber.Router) {
	jobs := router.Group("/jobs")
	jobs.Get("/", h.List)
	jobs.Get("/:id", h.GetStatus)
	jobs.Get("/:id/stream", h.StreamSSE)
}

// List returns recent jobs, newest first.
func (h *JobsHandler) List(c fiber.Ctx) error {
	return c.JSON(h.tracker.RecentJobs(queryInt(c, "limit", 20)))
}

// GetStatus returns the current job status.
func (h *JobsHandler) GetStatus(c fiber.Ctx) error {
	job, ok := h.tracker.GetJob(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "job not found"})
	}
	return c.JSON(job)
}

// StreamSSE streams job updates via Server-Sent Events.
func (h *JobsHandler) StreamSSE(c fiber.Ctx) error {
	id := c.Params("id")

	ch, job, ok := h.tracker.Watch(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "job not found"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	// Finished jobs get a single terminal event.
	if ch == nil {
		return c.SendString(sseEvent(*job))
	}

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer h.tracker.Unsubscribe(id, ch)

		fmt.Fprint(w, sseEvent(*job))
		w.Flush()

		timeout := time.After(sseTimeout)
		for {
			select {
			case update, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprint(w, sseEvent(update))
				if err := w.Flush(); err != nil {
					return // client went away
				}
				if finished(&update) {
					return
				}
			case <-timeout:
				slog.Warn("SSE timeout", "job_id", id)
				return
			}
		}
	})
}

func finished(job *domain.JobStatus) bool {
	return job.Status == domain.JobStatusCompleted || job.Status == domain.JobStatusFailed
}

// sseEvent renders a job as an event named after its status; running jobs
// emit "progress".
func sseEvent(job domain.JobStatus) string {
	event := "progress"
	if finished(&job) {
		event = job.Status
	}
	data, _ := json.Marshal(job)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}
