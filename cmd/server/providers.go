package main

import (
	"log/slog"
	"strings"

	"github.com/arturoeanton/tds-virtual-ta/internal/adapter/ai"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
	"github.com/arturoeanton/tds-virtual-ta/pkg/config"
)

// Provider names accepted by EMBEDDING_PROVIDER and COMPLETION_PROVIDER;
// anything else selects the local hash embedder and no completion provider.
const (
	providerOpenAI = "openai"
	providerOllama = "ollama"
	providerNone   = "none"
)

// providers is the set of AI collaborators the pipeline runs with.
type providers struct {
	embedder   port.EmbeddingProvider
	completion port.CompletionProvider // nil: rule and excerpt fallback only
	describer  port.ImageDescriber
	dimension  int // 0 adopts the first stored vector's length
}

// buildProviders picks providers from configuration. Missing OpenAI
// credentials downgrade embeddings to the local hash embedder and disable
// completions rather than failing startup.
func buildProviders(cfg *config.Config) providers {
	var p providers

	var openai *ai.OpenAIProvider
	if cfg.HasOpenAICredentials() {
		var err error
		openai, err = ai.NewOpenAIProvider(ai.OpenAIConfig{
			BaseURL:        cfg.OpenAIBaseURL,
			APIKey:         cfg.OpenAIAPIKey,
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			VisionModel:    cfg.VisionModel,
			Timeout:        cfg.ProviderTimeout,
			RPS:            cfg.ProviderRPS,
		})
		if err != nil {
			slog.Warn("openai provider unavailable", "error", err)
		}
	}

	ollama := ai.NewOllamaProvider(
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaEmbedURL,
			Model:   cfg.EmbeddingModel,
			Token:   cfg.OllamaEmbedToken,
		},
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaChatURL,
			Model:   cfg.ChatModel,
			Token:   cfg.OllamaChatToken,
		},
		cfg.ProviderTimeout,
		cfg.ProviderRPS,
	)

	switch strings.ToLower(cfg.EmbeddingProvider) {
	case providerOllama:
		p.embedder = ollama.Embedder()
	case providerOpenAI:
		if openai != nil {
			p.embedder = openai.Embedder()
			p.dimension = cfg.EmbeddingDimension
			break
		}
		slog.Warn("no OpenAI credentials, using hash embeddings")
		fallthrough
	default:
		p.embedder = ai.NewHashEmbedder(cfg.EmbeddingDimension)
		p.dimension = cfg.EmbeddingDimension
	}

	switch strings.ToLower(cfg.CompletionProvider) {
	case providerOllama:
		p.completion = ollama
		p.describer = ollama.Describer()
	case providerOpenAI:
		if openai != nil {
			p.completion = openai
			p.describer = openai.Describer()
			break
		}
		slog.Warn("no OpenAI credentials, answering from rules and excerpts")
		fallthrough
	default:
		p.describer = ai.PlaceholderDescriber{}
	}

	slog.Info("providers selected",
		"embedding", p.embedder.ModelName(),
		"completion", completionName(p.completion),
	)
	return p
}

func completionName(c port.CompletionProvider) string {
	if c == nil {
		return providerNone
	}
	return c.ModelName()
}
