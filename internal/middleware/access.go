package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/arturoeanton/tds-virtual-ta/internal/logging"
	"github.com/arturoeanton/tds-virtual-ta/internal/metrics"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// AccessLog logs every request with its id, status and duration and feeds
// the HTTP metrics. Metrics may be nil.
func AccessLog(m *metrics.Metrics) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Capture request data BEFORE handler execution (Fiber reuses context objects)
		method := c.Method()
		path := c.Path()
		requestID := c.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDHeader, requestID)

		err := c.Next()

		// The error handler has not run yet, so take the status from err.
		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		route := c.Route().Path
		elapsed := time.Since(start)

		m.RecordHTTP(method, route, status, elapsed.Seconds())

		log := logging.WithRequest(requestID)
		attrs := []any{"method", method, "path", path, "status", status, "duration_ms", elapsed.Milliseconds()}
		switch {
		case status >= 500:
			log.Error("http request", append(attrs, "error", err)...)
		case status >= 400:
			log.Warn("http request", attrs...)
		default:
			log.Debug("http request", attrs...)
		}
		return err
	}
}
