package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Server
	Port        string
	AppName     string
	Environment string
	BodyLimitMB int

	// Requests per minute per client on the question routes
	AskRateLimit int

	// Database
	DatabaseDriver string // postgres, sqlite, memory
	DatabaseURL    string

	// Provider selection: openai, ollama, hash (deterministic, no network)
	EmbeddingProvider  string
	CompletionProvider string

	// OpenAI-compatible endpoint
	OpenAIBaseURL string
	OpenAIAPIKey  string

	// Ollama embed endpoint
	OllamaEmbedURL   string
	OllamaEmbedToken string // Bearer token for Ollama Cloud (empty = local)

	// Ollama chat endpoint
	OllamaChatURL   string
	OllamaChatToken string

	// Model defaults; the config store overrides them at runtime.
	ChatModel      string
	EmbeddingModel string
	VisionModel    string
	Temperature    float64
	MaxTokens      int

	EmbeddingDimension int

	// Provider call bounds
	ProviderTimeout time.Duration
	ProviderRPS     float64

	// Answering
	OfflineMode       bool
	FallbackRulesPath string
	MaxImageSizeMB    int
	EmbedCacheTTL     time.Duration

	// Reindex
	ReindexSchedule    string // 5-field cron, empty = disabled
	ReindexConcurrency int

	// MCP
	MCPEnabled bool
	MCPPort    string

	// Frontend
	FrontendURL string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:        envOrDefault("PORT", "5000"),
		AppName:     envOrDefault("APP_NAME", "TDS Virtual TA"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		BodyLimitMB: envOrDefaultInt("BODY_LIMIT_MB", 16),

		AskRateLimit: envOrDefaultInt("ASK_RATE_LIMIT", 60),

		DatabaseDriver: envOrDefault("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    envOrDefault("DATABASE_URL", "file:tds-virtual-ta.db?_pragma=busy_timeout(5000)"),

		EmbeddingProvider:  envOrDefault("EMBEDDING_PROVIDER", "openai"),
		CompletionProvider: envOrDefault("COMPLETION_PROVIDER", "openai"),

		OpenAIBaseURL: envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),

		OllamaEmbedURL:   envOrDefault("OLLAMA_EMBED_URL", envOrDefault("OLLAMA_BASE_URL", "http://localhost:11434")),
		OllamaEmbedToken: os.Getenv("OLLAMA_EMBED_TOKEN"),
		OllamaChatURL:    envOrDefault("OLLAMA_CHAT_URL", envOrDefault("OLLAMA_BASE_URL", "http://localhost:11434")),
		OllamaChatToken:  os.Getenv("OLLAMA_CHAT_TOKEN"),

		ChatModel:      envOrDefault("CHAT_MODEL", "gpt-3.5-turbo"),
		EmbeddingModel: envOrDefault("EMBEDDING_MODEL", "text-embedding-ada-002"),
		VisionModel:    envOrDefault("VISION_MODEL", "gpt-4o-mini"),
		Temperature:    envOrDefaultFloat("TEMPERATURE", 0.7),
		MaxTokens:      envOrDefaultInt("MAX_TOKENS", 2048),

		EmbeddingDimension: envOrDefaultInt("EMBEDDING_DIMENSION", 1536),

		ProviderTimeout: time.Duration(envOrDefaultInt("PROVIDER_TIMEOUT_SECONDS", 60)) * time.Second,
		ProviderRPS:     envOrDefaultFloat("PROVIDER_RPS", 5),

		OfflineMode:       envOrDefaultBool("OFFLINE_MODE", false),
		FallbackRulesPath: os.Getenv("FALLBACK_RULES_PATH"),
		MaxImageSizeMB:    envOrDefaultInt("MAX_IMAGE_SIZE_MB", 10),
		EmbedCacheTTL:     time.Duration(envOrDefaultInt("EMBED_CACHE_TTL_MINUTES", 30)) * time.Minute,

		ReindexSchedule:    os.Getenv("REINDEX_SCHEDULE"),
		ReindexConcurrency: envOrDefaultInt("REINDEX_CONCURRENCY", 4),

		MCPEnabled: envOrDefaultBool("MCP_ENABLED", false),
		MCPPort:    envOrDefault("MCP_PORT", "5001"),

		FrontendURL: envOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}
}

// HasOpenAICredentials reports whether an OpenAI-compatible key is configured.
func (c *Config) HasOpenAICredentials() bool {
	return c.OpenAIAPIKey != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}
