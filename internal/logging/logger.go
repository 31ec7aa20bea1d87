package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production it uses JSON output for log aggregation; otherwise the
// human-readable text handler at debug level.
func Init(environment string) {
	slog.SetDefault(New(os.Stdout, environment))
}

// New builds a logger for the given environment writing to w.
func New(w io.Writer, environment string) *slog.Logger {
	var handler slog.Handler
	if strings.EqualFold(environment, "production") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}

// WithRequest returns a logger carrying the request id.
func WithRequest(requestID string) *slog.Logger {
	return slog.With("request_id", requestID)
}

// WithJob returns a logger scoped to a background job.
func WithJob(jobID, jobType string) *slog.Logger {
	return slog.With("job_id", jobID, "job_type", jobType)
}
