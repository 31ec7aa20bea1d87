package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

func TestOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); !errors.Is(err, port.ErrProviderUnavailable) {
		t.Fatalf("want ErrProviderUnavailable, got %v", err)
	}
}

func TestOpenAIComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"  Use Podman.  "}}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", ChatModel: "gpt-3.5-turbo"})
	if err != nil {
		t.Fatal(err)
	}

	answer, err := p.Complete(context.Background(), "system", "Student question: docker?", port.CompletionOptions{Temperature: 0.2, MaxTokens: 128})
	if err != nil {
		t.Fatal(err)
	}
	if answer != "Use Podman." {
		t.Fatalf("answer = %q", answer)
	}
	if got.Model != "gpt-3.5-turbo" || got.MaxTokens != 128 || got.Temperature != 0.2 {
		t.Fatalf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "Student question: docker?" {
		t.Fatalf("messages = %+v", got.Messages)
	}

	if _, err := p.Complete(context.Background(), "s", "u", port.CompletionOptions{Model: "gpt-4o-mini"}); err != nil {
		t.Fatal(err)
	}
	if got.Model != "gpt-4o-mini" {
		t.Fatalf("model override not applied: %q", got.Model)
	}
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := p.Complete(context.Background(), "s", "u", port.CompletionOptions{})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("want 429 error, got %v", err)
	}
	if _, err := p.Embedder().Embed(context.Background(), "x", port.EmbedOptions{}); err == nil {
		t.Fatal("embed should fail on error status")
	}
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if r.URL.Path != "/embeddings" || req["model"] != "text-embedding-ada-002" || req["input"] != "hello" {
			t.Errorf("unexpected request %s %v", r.URL.Path, req)
		}
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", EmbeddingModel: "text-embedding-ada-002"})
	e := p.Embedder()
	if e.ModelName() != "text-embedding-ada-002" {
		t.Fatalf("model = %s", e.ModelName())
	}
	vec, err := e.Embed(context.Background(), "hello", port.EmbedOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Fatalf("vector = %v", vec)
	}
}

func TestOpenAIDescribeSendsDataURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "data:image/png;base64,iVBO") {
			t.Errorf("image data url missing from request: %s", body)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"a screenshot of a docker error"}}]}`))
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", VisionModel: "gpt-4o-mini"})
	desc, err := p.Describer().Describe(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if desc != "a screenshot of a docker error" {
		t.Fatalf("description = %q", desc)
	}
}

func TestOllamaCompleteAndEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			if req["model"] != "llama3.1" || req["stream"] != false {
				t.Errorf("chat request = %v", req)
			}
			w.Write([]byte(`{"message":{"content":"answer"}}`))
		case "/api/embed":
			w.Write([]byte(`{"embeddings":[[1,2]]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider(
		OllamaEndpointConfig{BaseURL: srv.URL, Model: "nomic-embed-text"},
		OllamaEndpointConfig{BaseURL: srv.URL, Model: "llama3.1"},
		0, 0,
	)
	if p.ModelName() != "llama3.1" || p.Embedder().ModelName() != "nomic-embed-text" {
		t.Fatalf("model names = %s / %s", p.ModelName(), p.Embedder().ModelName())
	}
	out, err := p.Complete(context.Background(), "s", "u", port.CompletionOptions{Temperature: 0.7, MaxTokens: 10})
	if err != nil || out != "answer" {
		t.Fatalf("Complete = %q, %v", out, err)
	}
	vec, err := p.Embedder().Embed(context.Background(), "x", port.EmbedOptions{})
	if err != nil || len(vec) != 2 {
		t.Fatalf("Embed = %v, %v", vec, err)
	}
}

func TestEmbedModelOverride(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		got = append(got, req["model"].(string))
		if r.URL.Path == "/api/embed" {
			w.Write([]byte(`{"embeddings":[[1,2]]}`))
			return
		}
		w.Write([]byte(`{"data":[{"embedding":[1,2]}]}`))
	}))
	defer srv.Close()

	openai, _ := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", EmbeddingModel: "text-embedding-ada-002"})
	ollama := NewOllamaProvider(OllamaEndpointConfig{BaseURL: srv.URL, Model: "nomic-embed-text"}, OllamaEndpointConfig{BaseURL: srv.URL}, 0, 0)

	ctx := context.Background()
	for _, e := range []port.EmbeddingProvider{openai.Embedder(), ollama.Embedder()} {
		if _, err := e.Embed(ctx, "x", port.EmbedOptions{}); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Embed(ctx, "x", port.EmbedOptions{Model: "text-embedding-3-small"}); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"text-embedding-ada-002", "text-embedding-3-small", "nomic-embed-text", "text-embedding-3-small"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("models = %v, want %v", got, want)
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	h := NewHashEmbedder(64)
	ctx := context.Background()

	a1, _ := h.Embed(ctx, "Should I use Docker or Podman?", port.EmbedOptions{})
	a2, _ := h.Embed(ctx, "should i use docker or podman", port.EmbedOptions{})
	if len(a1) != 64 {
		t.Fatalf("dimension = %d", len(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatal("same tokens must produce the same vector")
		}
	}

	var norm float64
	for _, v := range a1 {
		norm += float64(v) * float64(v)
	}
	if norm < 0.999 || norm > 1.001 {
		t.Fatalf("vector not normalised: |v|^2 = %v", norm)
	}

	empty, err := h.Embed(ctx, "  ?! ", port.EmbedOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range empty {
		if v != 0 {
			t.Fatal("text without tokens should embed to the zero vector")
		}
	}
}

func TestPlaceholderDescriber(t *testing.T) {
	d := PlaceholderDescriber{}
	got, err := d.Describe(context.Background(), []byte{1}, "image/png")
	if err != nil || got != PlaceholderDescription {
		t.Fatalf("Describe = %q, %v", got, err)
	}
	if _, err := d.Describe(context.Background(), nil, ""); err == nil {
		t.Fatal("empty image should fail")
	}
}
