package port

import "context"

// EmbeddingProvider turns text into a fixed-length vector.
// Implementations can target OpenAI, Ollama, or a deterministic local hash.
type EmbeddingProvider interface {
	// ModelName returns the identifier of the embedding model being used.
	ModelName() string

	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string, opts EmbedOptions) ([]float32, error)
}

// EmbedOptions selects the model for a single embedding call.
type EmbedOptions struct {
	Model string `json:"model"` // empty: the provider's default model
}

// CompletionOptions bounds a single chat completion call.
type CompletionOptions struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"` // 0..2
	MaxTokens   int     `json:"max_tokens"`
}

// CompletionProvider abstracts the chat/completion backend.
type CompletionProvider interface {
	// ModelName returns the default chat model identifier.
	ModelName() string

	// Complete sends a system and user prompt and returns the model's reply.
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts CompletionOptions) (string, error)
}

// ImageDescriber extracts a text description from a decoded image.
// Output is opaque text that is fed into the answer prompt.
type ImageDescriber interface {
	Describe(ctx context.Context, image []byte, mimeType string) (string, error)
}
