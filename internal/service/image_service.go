package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/arturoeanton/tds-virtual-ta/internal/metrics"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

var dataURLPrefix = regexp.MustCompile(`^data:image/([a-z]+);base64,`)

// SupportedImageFormats lists the image types accepted by the question endpoint.
var SupportedImageFormats = []string{"jpeg", "jpg", "png", "gif", "webp"}

// ImageService validates attached images and turns them into prompt context.
type ImageService struct {
	describer port.ImageDescriber
	maxSizeMB int
	metrics   *metrics.Metrics
}

// NewImageService creates an image processor.
func NewImageService(describer port.ImageDescriber, maxSizeMB int, m *metrics.Metrics) *ImageService {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &ImageService{describer: describer, maxSizeMB: maxSizeMB, metrics: m}
}

// StripDataURL removes a data:image/<fmt>;base64, prefix and returns the
// bare payload and the MIME type named by the prefix, if any.
func StripDataURL(payload string) (data, mimeType string) {
	if m := dataURLPrefix.FindStringSubmatch(payload); m != nil {
		return payload[len(m[0]):], "image/" + m[1]
	}
	return payload, ""
}

// ImageFits reports whether the decoded size, estimated as len*3/4 of the
// base64 payload, is within maxSizeMB.
func ImageFits(payload string, maxSizeMB int) bool {
	data, _ := StripDataURL(payload)
	size := float64(len(data)) * 3 / 4
	return size <= float64(maxSizeMB)*1024*1024
}

// Fits applies the configured size limit.
func (s *ImageService) Fits(payload string) bool {
	return ImageFits(payload, s.maxSizeMB)
}

// Decode validates the base64 payload and returns the bytes and MIME type.
func (s *ImageService) Decode(payload string) ([]byte, string, error) {
	data, mimeType := StripDataURL(strings.TrimSpace(payload))
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil || len(raw) == 0 {
		return nil, "", port.ErrInvalidImage
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(raw)
	}
	return raw, mimeType, nil
}

// Describe returns text describing the image, or "" when the image is invalid
// or the describer fails. Failures never fail the question.
func (s *ImageService) Describe(ctx context.Context, payload string) string {
	if s.describer == nil || payload == "" {
		return ""
	}
	raw, mimeType, err := s.Decode(payload)
	if err != nil {
		slog.Warn("image ignored", "error", err)
		return ""
	}
	desc, err := s.describer.Describe(ctx, raw, mimeType)
	if err != nil {
		slog.Warn("image description failed", "error", fmt.Errorf("describe image: %w", err))
		s.metrics.RecordProviderError("vision")
		return ""
	}
	return strings.TrimSpace(desc)
}
