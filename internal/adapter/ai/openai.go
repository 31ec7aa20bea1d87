package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// OpenAIConfig configures an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL        string // e.g. https://api.openai.com/v1
	APIKey         string
	ChatModel      string // e.g. gpt-3.5-turbo
	EmbeddingModel string // e.g. text-embedding-ada-002
	VisionModel    string // e.g. gpt-4o-mini
	Timeout        time.Duration
	RPS            float64 // outbound requests per second, 0 = unlimited
}

// OpenAIProvider implements port.CompletionProvider against the
// /chat/completions endpoint. Embedder and Describer expose the same client
// as the embedding and vision ports.
type OpenAIProvider struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOpenAIProvider creates a provider. It returns ErrProviderUnavailable when
// no API key is configured.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, port.ErrProviderUnavailable
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newLimiter(cfg.RPS),
	}, nil
}

// ModelName returns the default chat model identifier.
func (o *OpenAIProvider) ModelName() string {
	return o.cfg.ChatModel
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a system and user prompt and returns the first choice.
func (o *OpenAIProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, opts port.CompletionOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = o.cfg.ChatModel
	}
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	content, err := o.chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	return content, nil
}

func (o *OpenAIProvider) chat(ctx context.Context, req chatRequest) (string, error) {
	body, err := o.post(ctx, "/chat/completions", req)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Embedder returns the embedding side of the provider.
func (o *OpenAIProvider) Embedder() *OpenAIEmbedder {
	return &OpenAIEmbedder{p: o}
}

// Describer returns a vision-model image describer sharing this client.
func (o *OpenAIProvider) Describer() *OpenAIDescriber {
	return &OpenAIDescriber{p: o}
}

// OpenAIEmbedder implements port.EmbeddingProvider via /embeddings.
type OpenAIEmbedder struct {
	p *OpenAIProvider
}

// ModelName returns the embedding model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.p.cfg.EmbeddingModel
}

// Embed generates a vector embedding for the given text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string, opts port.EmbedOptions) ([]float32, error) {
	model := opts.Model
	if model == "" {
		model = e.p.cfg.EmbeddingModel
	}
	payload := map[string]interface{}{
		"model": model,
		"input": text,
	}
	body, err := e.p.post(ctx, "/embeddings", payload)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("openai embed decode: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// OpenAIDescriber implements port.ImageDescriber with a vision chat model.
type OpenAIDescriber struct {
	p *OpenAIProvider
}

const describePrompt = "Describe this image for a teaching assistant. Transcribe any visible text, code, or error messages verbatim, then summarise what the image shows in one or two sentences."

// Describe sends the image as a data URL and returns the model's description.
func (d *OpenAIDescriber) Describe(ctx context.Context, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	req := chatRequest{
		Model: d.p.cfg.VisionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []map[string]any{
				{"type": "text", "text": describePrompt},
				{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
			},
		}},
		MaxTokens: 500,
	}

	content, err := d.p.chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai vision: %w", err)
	}
	return content, nil
}

// post sends an authenticated JSON request, waiting on the rate limiter first.
func (o *OpenAIProvider) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	url := strings.TrimRight(o.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}

// newLimiter returns a token bucket allowing rps requests per second with a
// small burst. rps <= 0 disables throttling.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps * 2)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
