package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arturoeanton/tds-virtual-ta/internal/adapter/store"
	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/logging"
	"github.com/arturoeanton/tds-virtual-ta/internal/metrics"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// maxReindexFailureShare is the largest share of failed embeddings a
// reindex may have and still replace the current index.
const maxReindexFailureShare = 0.5

// ReindexResult summarises a finished reindex.
type ReindexResult struct {
	Total    int           `json:"total"`
	Embedded int           `json:"embedded"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// IndexService owns ingestion into the content store and the embedding index.
type IndexService struct {
	content     port.ContentRepository
	index       *store.VectorStore
	embedder    port.EmbeddingProvider // nil: content is stored but not embedded
	models      EmbeddingModelSource   // nil: provider default model
	jobs        *JobTracker
	metrics     *metrics.Metrics
	concurrency int

	running     atomic.Bool
	lastReindex atomic.Pointer[time.Time]
}

// NewIndexService creates an index service.
func NewIndexService(content port.ContentRepository, index *store.VectorStore, embedder port.EmbeddingProvider, jobs *JobTracker, m *metrics.Metrics, concurrency int) *IndexService {
	if concurrency <= 0 {
		concurrency = 4
	}
	s := &IndexService{
		content:     content,
		index:       index,
		embedder:    embedder,
		jobs:        jobs,
		metrics:     m,
		concurrency: concurrency,
	}
	s.publishIndexSize()
	return s
}

// WithEmbeddingModel makes content embeddings use the model resolved by src.
func (s *IndexService) WithEmbeddingModel(src EmbeddingModelSource) *IndexService {
	s.models = src
	return s
}

// Ingest upserts items by identity and embeds the newly created ones.
// Invalid items and embedding failures are counted, not returned.
func (s *IndexService) Ingest(ctx context.Context, items []domain.ContentItem) (*domain.IngestResult, error) {
	res := &domain.IngestResult{}
	opts := embedOptions(ctx, s.models)
	for i := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item := items[i]
		stored, created, err := s.content.UpsertContent(ctx, &item)
		if err != nil {
			slog.Warn("ingest item failed", "identity", item.IdentityKey(), "error", err)
			res.Failed++
			continue
		}
		if !created {
			res.Updated++
			continue
		}
		res.Inserted++

		if s.embedder == nil {
			continue
		}
		vec, err := s.embedder.Embed(ctx, stored.Body, opts)
		if err != nil {
			slog.Warn("embed item failed", "content_id", stored.ID, "error", err)
			s.metrics.RecordProviderError("embedding")
			res.Failed++
			continue
		}
		if _, err := s.index.Insert(ctx, stored.ID, stored.Variant, vec, 0); err != nil {
			slog.Warn("index item failed", "content_id", stored.ID, "error", err)
			res.Failed++
			continue
		}
		res.Embedded++
	}
	s.publishIndexSize()
	slog.Info("ingest completed", "inserted", res.Inserted, "updated", res.Updated, "embedded", res.Embedded, "failed", res.Failed)
	return res, nil
}

// Reindex rebuilds every embedding from the content store and swaps the
// index atomically. Only one reindex runs at a time.
func (s *IndexService) Reindex(ctx context.Context) (*ReindexResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, port.ErrReindexInProgress
	}
	defer s.running.Store(false)
	return s.reindex(ctx, nil)
}

// StartReindex launches a tracked background reindex and returns the job id.
func (s *IndexService) StartReindex() (string, error) {
	if !s.running.CompareAndSwap(false, true) {
		return "", port.ErrReindexInProgress
	}

	id := s.jobs.CreateJob(domain.JobTypeReindex, 0)
	go func() {
		defer s.running.Store(false)
		log := logging.WithJob(id, domain.JobTypeReindex)
		log.Info("reindex started")

		res, err := s.reindex(context.Background(), func(total, processed, failed int) {
			s.jobs.UpdateJob(id, func(j *domain.JobStatus) {
				j.Total, j.Processed, j.Failed = total, processed, failed
			})
		})
		if err != nil {
			log.Error("reindex failed", "error", err)
			s.jobs.UpdateJob(id, func(j *domain.JobStatus) {
				j.Status = domain.JobStatusFailed
				j.Error = err.Error()
			})
			return
		}
		log.Info("reindex completed", "embedded", res.Embedded, "failed", res.Failed, "duration", res.Duration)
		s.jobs.UpdateJob(id, func(j *domain.JobStatus) {
			j.Status = domain.JobStatusCompleted
			j.Total, j.Processed, j.Failed = res.Total, res.Embedded, res.Failed
		})
	}()
	return id, nil
}

// Running reports whether a reindex is in flight.
func (s *IndexService) Running() bool {
	return s.running.Load()
}

// LastReindex returns the completion time of the last successful reindex.
func (s *IndexService) LastReindex() *time.Time {
	return s.lastReindex.Load()
}

type progressFunc func(total, processed, failed int)

func (s *IndexService) reindex(ctx context.Context, progress progressFunc) (*ReindexResult, error) {
	start := time.Now()
	if s.embedder == nil {
		s.metrics.RecordReindex(domain.JobStatusFailed, 0)
		return nil, fmt.Errorf("reindex: %w", port.ErrProviderUnavailable)
	}

	var items []domain.ContentItem
	for _, v := range []domain.Variant{domain.VariantCourse, domain.VariantForum} {
		list, err := s.content.ListContent(ctx, v)
		if err != nil {
			s.metrics.RecordReindex(domain.JobStatusFailed, time.Since(start).Seconds())
			return nil, fmt.Errorf("list %s content: %w", v, err)
		}
		items = append(items, list...)
	}

	total := len(items)
	opts := embedOptions(ctx, s.models)
	var (
		processed atomic.Int64
		failed    atomic.Int64
		mu        sync.Mutex // serialises progress callbacks
	)
	report := func() {
		if progress == nil {
			return
		}
		mu.Lock()
		progress(total, int(processed.Load()), int(failed.Load()))
		mu.Unlock()
	}
	report()

	records := make([]*domain.Embedding, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := s.embedder.Embed(gctx, item.Body, opts)
			if err != nil {
				slog.Warn("reindex: embed failed", "content_id", item.ID, "error", err)
				s.metrics.RecordProviderError("embedding")
				failed.Add(1)
				report()
				return nil
			}
			records[i] = &domain.Embedding{ContentID: item.ID, Variant: item.Variant, Vector: vec, CreatedAt: time.Now()}
			processed.Add(1)
			report()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.metrics.RecordReindex(domain.JobStatusFailed, time.Since(start).Seconds())
		return nil, fmt.Errorf("reindex: %w", err)
	}

	built := make([]domain.Embedding, 0, total)
	for _, r := range records {
		if r != nil {
			built = append(built, *r)
		}
	}
	if n := int(failed.Load()); total > 0 && float64(n) > float64(total)*maxReindexFailureShare {
		s.metrics.RecordReindex(domain.JobStatusFailed, time.Since(start).Seconds())
		return nil, fmt.Errorf("reindex: %d of %d embeddings failed, keeping current index: %w",
			n, total, port.ErrProviderUnavailable)
	}
	if err := s.index.Swap(ctx, built); err != nil {
		s.metrics.RecordReindex(domain.JobStatusFailed, time.Since(start).Seconds())
		return nil, fmt.Errorf("reindex: %w", err)
	}

	done := time.Now()
	s.lastReindex.Store(&done)
	s.publishIndexSize()

	res := &ReindexResult{Total: total, Embedded: len(built), Failed: int(failed.Load()), Duration: done.Sub(start)}
	s.metrics.RecordReindex(domain.JobStatusCompleted, res.Duration.Seconds())
	return res, nil
}

// CorpusStatus reports item counts and the latest update per corpus.
func (s *IndexService) CorpusStatus(ctx context.Context) (map[domain.Variant]domain.CorpusStatus, error) {
	out := make(map[domain.Variant]domain.CorpusStatus, 2)
	for _, v := range []domain.Variant{domain.VariantCourse, domain.VariantForum} {
		items, err := s.content.ListContent(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("list %s content: %w", v, err)
		}
		st := domain.CorpusStatus{Count: len(items)}
		for _, it := range items {
			if st.LastUpdated == nil || it.UpdatedAt.After(*st.LastUpdated) {
				t := it.UpdatedAt
				st.LastUpdated = &t
			}
		}
		out[v] = st
	}
	return out, nil
}

// IndexStats returns the embedding index statistics.
func (s *IndexService) IndexStats() domain.IndexStats {
	return s.index.Stats()
}

func (s *IndexService) publishIndexSize() {
	st := s.index.Stats()
	s.metrics.SetIndexSize(st.Course, st.Forum)
}
