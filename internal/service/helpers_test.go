package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/adapter/store"
	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// stubEmbedder returns fixed vectors per text, or fallback for unknown text.
type stubEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    atomic.Int32
	models   []string // model option of every call
}

func (s *stubEmbedder) ModelName() string { return "stub-embedder" }

func (s *stubEmbedder) Embed(_ context.Context, text string, opts port.EmbedOptions) ([]float32, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.models = append(s.models, opts.Model)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return s.fallback, nil
}

// blockingEmbedder parks every call until release is closed.
type blockingEmbedder struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingEmbedder() *blockingEmbedder {
	return &blockingEmbedder{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingEmbedder) ModelName() string { return "blocking" }

func (b *blockingEmbedder) Embed(ctx context.Context, _ string, _ port.EmbedOptions) ([]float32, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
		return []float32{1, 0}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stubCompletion records the last call.
type stubCompletion struct {
	mu     sync.Mutex
	answer string
	err    error
	system string
	user   string
	opts   port.CompletionOptions
	calls  int
}

func (s *stubCompletion) ModelName() string { return "stub-chat" }

func (s *stubCompletion) Complete(_ context.Context, system, user string, opts port.CompletionOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.system, s.user, s.opts = system, user, opts
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

type stubDescriber struct {
	desc string
	err  error
}

func (s stubDescriber) Describe(context.Context, []byte, string) (string, error) {
	return s.desc, s.err
}

var defaultOpts = port.CompletionOptions{Model: "gpt-3.5-turbo", Temperature: 0.7, MaxTokens: 2048}

func mustUpsert(t *testing.T, repo port.ContentRepository, item domain.ContentItem) *domain.ContentItem {
	t.Helper()
	stored, _, err := repo.UpsertContent(context.Background(), &item)
	if err != nil {
		t.Fatalf("upsert %s: %v", item.IdentityKey(), err)
	}
	return stored
}

func course(url, title, body string) domain.ContentItem {
	return domain.ContentItem{Variant: domain.VariantCourse, URL: url, Title: title, Body: body}
}

func forum(id int64, url, title, body string) domain.ContentItem {
	return domain.ContentItem{Variant: domain.VariantForum, ExternalID: id, URL: url, Title: title, Body: body}
}

func mustIndex(t *testing.T, idx *store.VectorStore, item *domain.ContentItem, vec []float32) {
	t.Helper()
	if _, err := idx.Insert(context.Background(), item.ID, item.Variant, vec, 0); err != nil {
		t.Fatalf("index content %d: %v", item.ID, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
