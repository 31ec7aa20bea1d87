package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// OllamaEndpointConfig holds the configuration for a single Ollama endpoint.
type OllamaEndpointConfig struct {
	BaseURL string // e.g. http://localhost:11434 or https://api.ollama.com
	Model   string // e.g. nomic-embed-text, llama3.1
	Token   string // Bearer token for Ollama Cloud (empty = no auth)
}

// OllamaProvider implements port.CompletionProvider using the Ollama REST API.
// Supports separate endpoints for embed vs chat (different URLs, models, and tokens).
type OllamaProvider struct {
	embed      OllamaEndpointConfig
	chat       OllamaEndpointConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOllamaProvider creates a new Ollama-backed provider with separate embed/chat configs.
func NewOllamaProvider(embed, chat OllamaEndpointConfig, timeout time.Duration, rps float64) *OllamaProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaProvider{
		embed:      embed,
		chat:       chat,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newLimiter(rps),
	}
}

// ModelName returns the chat model identifier.
func (o *OllamaProvider) ModelName() string {
	return o.chat.Model
}

// Complete sends the prompts to /api/chat and returns the complete response.
func (o *OllamaProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, opts port.CompletionOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = o.chat.Model
	}

	payload := map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"stream": false,
		"options": map[string]interface{}{
			"temperature": opts.Temperature,
			"num_predict": opts.MaxTokens,
		},
	}

	body, err := o.post(ctx, o.chat, "/api/chat", payload)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}

	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("ollama chat decode: %w", err)
	}
	return resp.Message.Content, nil
}

// Embedder returns the embedding side of the provider.
func (o *OllamaProvider) Embedder() *OllamaEmbedder {
	return &OllamaEmbedder{p: o}
}

// Describer returns an image describer that sends images to the chat model.
// The chat model must be multimodal (e.g. llava).
func (o *OllamaProvider) Describer() *OllamaDescriber {
	return &OllamaDescriber{p: o}
}

// OllamaEmbedder implements port.EmbeddingProvider via /api/embed.
type OllamaEmbedder struct {
	p *OllamaProvider
}

// ModelName returns the embedding model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.p.embed.Model
}

// Embed generates a vector embedding for the given text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string, opts port.EmbedOptions) ([]float32, error) {
	model := opts.Model
	if model == "" {
		model = e.p.embed.Model
	}
	payload := map[string]interface{}{
		"model": model,
		"input": text,
	}

	body, err := e.p.post(ctx, e.p.embed, "/api/embed", payload)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama embed: empty response")
	}

	return resp.Embeddings[0], nil
}

// OllamaDescriber implements port.ImageDescriber.
type OllamaDescriber struct {
	p *OllamaProvider
}

// Describe attaches the image to a single user message.
func (d *OllamaDescriber) Describe(ctx context.Context, image []byte, _ string) (string, error) {
	payload := map[string]interface{}{
		"model": d.p.chat.Model,
		"messages": []map[string]interface{}{{
			"role":    "user",
			"content": describePrompt,
			"images":  []string{base64.StdEncoding.EncodeToString(image)},
		}},
		"stream": false,
	}

	body, err := d.p.post(ctx, d.p.chat, "/api/chat", payload)
	if err != nil {
		return "", fmt.Errorf("ollama vision: %w", err)
	}
	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("ollama vision decode: %w", err)
	}
	return resp.Message.Content, nil
}

// post is a helper for POST requests to an Ollama endpoint (with optional bearer token).
func (o *OllamaProvider) post(ctx context.Context, cfg OllamaEndpointConfig, path string, payload interface{}) ([]byte, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
