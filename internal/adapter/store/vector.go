package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// VectorStore is the in-memory embedding index. Search is brute-force
// cosine similarity over an immutable snapshot; writers build a new snapshot
// and publish it atomically, so readers never see a partial insert or reindex.
type VectorStore struct {
	repo port.EmbeddingRepository // optional persistence

	mu   sync.Mutex // serialises writers
	snap atomic.Pointer[vectorSnapshot]

	queries    atomic.Int64
	queryNanos atomic.Int64
}

type vectorSnapshot struct {
	dimension int
	records   []domain.Embedding
}

// NewVectorStore creates an index with a fixed dimension. A dimension of 0
// adopts the length of the first inserted vector. repo may be nil.
func NewVectorStore(repo port.EmbeddingRepository, dimension int) *VectorStore {
	v := &VectorStore{repo: repo}
	v.snap.Store(&vectorSnapshot{dimension: dimension})
	return v
}

// Load rebuilds the in-memory snapshot from the repository.
func (v *VectorStore) Load(ctx context.Context) error {
	if v.repo == nil {
		return nil
	}
	records, err := v.repo.ListEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	dim := v.snap.Load().dimension
	kept := make([]domain.Embedding, 0, len(records))
	for _, r := range records {
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim {
			// Left over from a different embedding model; the next reindex replaces it.
			continue
		}
		kept = append(kept, r)
	}
	v.snap.Store(&vectorSnapshot{dimension: dim, records: kept})
	return nil
}

// Insert appends a record for a content item. No uniqueness is enforced.
func (v *VectorStore) Insert(ctx context.Context, contentID int64, variant domain.Variant, vector []float32, chunkIndex int) (*domain.Embedding, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	cur := v.snap.Load()
	dim := cur.dimension
	if dim == 0 {
		dim = len(vector)
	}
	if len(vector) == 0 || len(vector) != dim {
		return nil, fmt.Errorf("insert embedding (got %d, want %d): %w", len(vector), dim, port.ErrDimensionMismatch)
	}

	rec := domain.Embedding{
		ContentID:  contentID,
		Variant:    variant,
		ChunkIndex: chunkIndex,
		Vector:     append([]float32(nil), vector...),
		CreatedAt:  time.Now(),
	}
	if v.repo != nil {
		if err := v.repo.InsertEmbedding(ctx, &rec); err != nil {
			return nil, err
		}
	}

	next := make([]domain.Embedding, len(cur.records), len(cur.records)+1)
	copy(next, cur.records)
	next = append(next, rec)
	v.snap.Store(&vectorSnapshot{dimension: dim, records: next})
	return &rec, nil
}

// Swap replaces every record with records, persisting first when a
// repository is configured. Searches keep using the old snapshot until the
// new one is published.
func (v *VectorStore) Swap(ctx context.Context, records []domain.Embedding) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	dim := v.snap.Load().dimension
	for _, r := range records {
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim {
			return fmt.Errorf("swap embeddings (content %d): %w", r.ContentID, port.ErrDimensionMismatch)
		}
	}

	if v.repo != nil {
		if err := v.repo.ReplaceEmbeddings(ctx, records); err != nil {
			return fmt.Errorf("replace embeddings: %w", err)
		}
	}

	next := make([]domain.Embedding, len(records))
	copy(next, records)
	v.snap.Store(&vectorSnapshot{dimension: dim, records: next})
	return nil
}

// Search returns the k records most similar to query, highest first. Ties
// keep insertion order. An empty index yields an empty result.
func (v *VectorStore) Search(_ context.Context, query []float32, k int) ([]domain.SimilarEmbedding, error) {
	start := time.Now()
	defer func() {
		v.queries.Add(1)
		v.queryNanos.Add(int64(time.Since(start)))
	}()

	snap := v.snap.Load()
	if len(snap.records) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != snap.dimension {
		return nil, fmt.Errorf("search (got %d, want %d): %w", len(query), snap.dimension, port.ErrDimensionMismatch)
	}

	scored := make([]domain.SimilarEmbedding, len(snap.records))
	for i, r := range snap.records {
		scored[i] = domain.SimilarEmbedding{Embedding: r, Similarity: CosineSimilarity(query, r.Vector)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// Stats returns counts per variant and the average search latency.
func (v *VectorStore) Stats() domain.IndexStats {
	snap := v.snap.Load()
	stats := domain.IndexStats{Total: len(snap.records), Dimension: snap.dimension}
	for _, r := range snap.records {
		switch r.Variant {
		case domain.VariantCourse:
			stats.Course++
		case domain.VariantForum:
			stats.Forum++
		}
	}
	if n := v.queries.Load(); n > 0 {
		stats.AvgQueryTime = time.Duration(v.queryNanos.Load() / n).Seconds()
	}
	return stats
}

// Len returns the number of indexed records.
func (v *VectorStore) Len() int {
	return len(v.snap.Load().records)
}

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 when either vector has
// zero magnitude. Callers guarantee equal lengths.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
