package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// ConfigService exposes runtime settings stored in the config repository,
// falling back to environment defaults for missing or malformed values.
type ConfigService struct {
	repo           port.ConfigRepository
	defaults       port.CompletionOptions
	embeddingModel string
}

// NewConfigService creates a config service.
func NewConfigService(repo port.ConfigRepository, defaults port.CompletionOptions, embeddingModel string) *ConfigService {
	return &ConfigService{repo: repo, defaults: defaults, embeddingModel: embeddingModel}
}

// Seed stores the environment defaults for any recognised key that is absent.
func (s *ConfigService) Seed(ctx context.Context) error {
	seeds := []domain.ConfigEntry{
		{Key: domain.ConfigPrimaryModel, Value: s.defaults.Model, Description: "Chat model used to generate answers"},
		{Key: domain.ConfigEmbeddingModel, Value: s.embeddingModel, Description: "Model used to embed questions and content"},
		{Key: domain.ConfigTemperature, Value: strconv.FormatFloat(s.defaults.Temperature, 'f', -1, 64), Description: "Sampling temperature (0-2)"},
		{Key: domain.ConfigMaxTokens, Value: strconv.Itoa(s.defaults.MaxTokens), Description: "Maximum tokens in a generated answer"},
	}
	for _, e := range seeds {
		_, err := s.repo.GetConfig(ctx, e.Key)
		if err == nil {
			continue
		}
		if !errors.Is(err, port.ErrConfigNotFound) {
			return fmt.Errorf("seed config %s: %w", e.Key, err)
		}
		if err := s.repo.SetConfig(ctx, e.Key, e.Value, e.Description); err != nil {
			return fmt.Errorf("seed config %s: %w", e.Key, err)
		}
	}
	return nil
}

// All returns every stored entry ordered by key.
func (s *ConfigService) All(ctx context.Context) ([]domain.ConfigEntry, error) {
	return s.repo.ListConfig(ctx)
}

// Get returns a single entry.
func (s *ConfigService) Get(ctx context.Context, key string) (*domain.ConfigEntry, error) {
	return s.repo.GetConfig(ctx, key)
}

// Set validates recognised keys and stores the value.
func (s *ConfigService) Set(ctx context.Context, key, value, description string) error {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return fmt.Errorf("%w: key is required", port.ErrInvalidConfig)
	}
	if err := validateConfigValue(key, value); err != nil {
		return err
	}
	if err := s.repo.SetConfig(ctx, key, value, description); err != nil {
		return fmt.Errorf("set config: %w", err)
	}
	slog.Info("config updated", "key", key, "value", value)
	return nil
}

func validateConfigValue(key, value string) error {
	switch key {
	case domain.ConfigPrimaryModel, domain.ConfigEmbeddingModel:
		if value == "" {
			return fmt.Errorf("%w: %s must not be empty", port.ErrInvalidConfig, key)
		}
	case domain.ConfigTemperature:
		t, err := strconv.ParseFloat(value, 64)
		if err != nil || t < 0 || t > 2 {
			return fmt.Errorf("%w: temperature must be a number between 0 and 2", port.ErrInvalidConfig)
		}
	case domain.ConfigMaxTokens:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: max_tokens must be a positive integer", port.ErrInvalidConfig)
		}
	}
	return nil
}

// CompletionOptions reads model settings at call time. Storage errors and
// malformed values fall back to the defaults; temperature is clamped to [0,2].
func (s *ConfigService) CompletionOptions(ctx context.Context) port.CompletionOptions {
	opts := s.defaults

	if v, ok := s.lookup(ctx, domain.ConfigPrimaryModel); ok && v != "" {
		opts.Model = v
	}
	if v, ok := s.lookup(ctx, domain.ConfigTemperature); ok {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			opts.Temperature = t
		}
	}
	if v, ok := s.lookup(ctx, domain.ConfigMaxTokens); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.MaxTokens = n
		}
	}

	opts.Temperature = clamp(opts.Temperature, 0, 2)
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return opts
}

// EmbeddingModel returns the configured embedding model name.
func (s *ConfigService) EmbeddingModel(ctx context.Context) string {
	if v, ok := s.lookup(ctx, domain.ConfigEmbeddingModel); ok && v != "" {
		return v
	}
	return s.embeddingModel
}

func (s *ConfigService) lookup(ctx context.Context, key string) (string, bool) {
	if s.repo == nil {
		return "", false
	}
	e, err := s.repo.GetConfig(ctx, key)
	if err != nil {
		if !errors.Is(err, port.ErrConfigNotFound) {
			slog.Warn("config lookup failed, using default", "key", key, "error", err)
		}
		return "", false
	}
	return strings.TrimSpace(e.Value), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
