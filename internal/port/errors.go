package port

import "errors"

// Sentinel errors used across ports.
var (
	ErrEmptyQuestion       = errors.New("question is required")
	ErrImageTooLarge       = errors.New("image too large")
	ErrInvalidImage        = errors.New("invalid base64 image")
	ErrProviderUnavailable = errors.New("provider not configured")
	ErrDimensionMismatch   = errors.New("vector dimension mismatch")
	ErrContentNotFound     = errors.New("content not found")
	ErrConfigNotFound      = errors.New("config key not found")
	ErrReindexInProgress   = errors.New("reindex already in progress")
	ErrJobNotFound         = errors.New("job not found")
	ErrInvalidConfig       = errors.New("invalid config value")
)

// IsValidation reports whether err is a request validation failure that
// should be rejected before any retrieval work.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyQuestion) || errors.Is(err, ErrImageTooLarge)
}
