package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/arturoeanton/tds-virtual-ta/internal/adapter/store"
	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/metrics"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// Retrieval limits.
const (
	vectorTopK         = 5
	courseKeywordLimit = 2
	forumKeywordLimit  = 3
	maxEvidence        = 8
)

// EmbeddingModelSource resolves the embedding model to request per call.
// *ConfigService implements it.
type EmbeddingModelSource interface {
	EmbeddingModel(ctx context.Context) string
}

func embedOptions(ctx context.Context, src EmbeddingModelSource) port.EmbedOptions {
	if src == nil {
		return port.EmbedOptions{}
	}
	return port.EmbedOptions{Model: src.EmbeddingModel(ctx)}
}

// RetrievalService assembles evidence for a question from the embedding
// index and keyword search over both corpora.
type RetrievalService struct {
	embedder port.EmbeddingProvider // nil disables vector retrieval
	index    *store.VectorStore
	content  port.ContentRepository
	models   EmbeddingModelSource // nil: provider default model
	cache    *cache.Cache
	metrics  *metrics.Metrics
}

// NewRetrievalService creates a retrieval service. Question embeddings are
// cached for cacheTTL; a non-positive TTL disables the cache.
func NewRetrievalService(embedder port.EmbeddingProvider, index *store.VectorStore, content port.ContentRepository, cacheTTL time.Duration, m *metrics.Metrics) *RetrievalService {
	s := &RetrievalService{embedder: embedder, index: index, content: content, metrics: m}
	if cacheTTL > 0 {
		s.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return s
}

// WithEmbeddingModel makes question embeddings use the model resolved by src.
func (s *RetrievalService) WithEmbeddingModel(src EmbeddingModelSource) *RetrievalService {
	s.models = src
	return s
}

// FindEvidence returns at most eight entries: vector matches first, then up
// to two course and three forum keyword matches, deduplicated by URL with the
// first occurrence kept. Embedding or index failures degrade to keyword-only
// results; storage failures are returned.
func (s *RetrievalService) FindEvidence(ctx context.Context, question string) ([]domain.EvidenceEntry, error) {
	evidence := make([]domain.EvidenceEntry, 0, maxEvidence)
	seen := make(map[string]bool)
	add := func(e domain.EvidenceEntry) {
		if seen[e.URL] {
			return
		}
		seen[e.URL] = true
		evidence = append(evidence, e)
	}

	vectorHits, err := s.vectorEvidence(ctx, question)
	if err != nil {
		return nil, err
	}
	for _, e := range vectorHits {
		add(e)
	}

	course, err := s.content.SearchContent(ctx, domain.VariantCourse, question, courseKeywordLimit)
	if err != nil {
		return nil, fmt.Errorf("search course content: %w", err)
	}
	for _, c := range course {
		add(domain.EvidenceFromContent(c))
	}

	forum, err := s.content.SearchContent(ctx, domain.VariantForum, question, forumKeywordLimit)
	if err != nil {
		return nil, fmt.Errorf("search forum posts: %w", err)
	}
	for _, c := range forum {
		add(domain.EvidenceFromContent(c))
	}

	if len(evidence) > maxEvidence {
		evidence = evidence[:maxEvidence]
	}
	s.metrics.RecordEvidence(len(evidence))
	return evidence, nil
}

// vectorEvidence resolves the top vector matches to content items. Provider
// and index errors are logged and yield no entries.
func (s *RetrievalService) vectorEvidence(ctx context.Context, question string) ([]domain.EvidenceEntry, error) {
	if s.embedder == nil || s.index == nil {
		return nil, nil
	}

	vec, err := s.embed(ctx, question)
	if err != nil {
		slog.Warn("question embedding failed, using keyword search only", "error", err)
		s.metrics.RecordProviderError("embedding")
		return nil, nil
	}

	start := time.Now()
	hits, err := s.index.Search(ctx, vec, vectorTopK)
	s.metrics.RecordVectorSearch(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("vector search failed, using keyword search only", "error", err)
		s.metrics.RecordProviderError("embedding")
		return nil, nil
	}

	out := make([]domain.EvidenceEntry, 0, len(hits))
	for _, h := range hits {
		item, err := s.content.ContentByID(ctx, h.ContentID)
		if errors.Is(err, port.ErrContentNotFound) {
			slog.Warn("embedding references missing content", "content_id", h.ContentID, "variant", h.Variant)
			s.metrics.RecordDanglingReference()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve content %d: %w", h.ContentID, err)
		}
		out = append(out, domain.EvidenceFromContent(*item))
	}
	return out, nil
}

// embed returns the question vector, consulting the cache first.
func (s *RetrievalService) embed(ctx context.Context, question string) ([]float32, error) {
	opts := embedOptions(ctx, s.models)
	model := opts.Model
	if model == "" {
		model = s.embedder.ModelName()
	}
	key := model + "\x00" + question
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			s.metrics.RecordEmbedCache(true)
			return v.([]float32), nil
		}
		s.metrics.RecordEmbedCache(false)
	}

	vec, err := s.embedder.Embed(ctx, question, opts)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, vec, cache.DefaultExpiration)
	}
	return vec, nil
}
