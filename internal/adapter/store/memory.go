package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// MemoryStore is an in-process implementation of every repository port.
// It is used by tests and by DATABASE_DRIVER=memory.
type MemoryStore struct {
	mu         sync.RWMutex
	content    []domain.ContentItem
	identities map[string]int // identity key -> index into content
	nextID     int64

	embeddings []domain.Embedding
	nextEmbID  int64

	questions []domain.QuestionRecord
	nextQID   int64

	config map[string]domain.ConfigEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]int),
		config:     make(map[string]domain.ConfigEntry),
	}
}

// --- Content ---

// UpsertContent inserts or updates by identity under a single lock.
func (m *MemoryStore) UpsertContent(_ context.Context, item *domain.ContentItem) (*domain.ContentItem, bool, error) {
	if err := item.Validate(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	key := item.IdentityKey()
	if idx, ok := m.identities[key]; ok {
		existing := m.content[idx]
		existing.Title = item.Title
		existing.Body = item.Body
		existing.URL = item.URL
		existing.Category = item.Category
		existing.Author = item.Author
		existing.TopicID = item.TopicID
		existing.PostNumber = item.PostNumber
		existing.Metadata = item.Metadata
		existing.UpdatedAt = now
		m.content[idx] = existing
		return &existing, false, nil
	}

	m.nextID++
	stored := *item
	stored.ID = m.nextID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.content = append(m.content, stored)
	m.identities[key] = len(m.content) - 1
	return &stored, true, nil
}

// ContentByID returns the item with the given id.
func (m *MemoryStore) ContentByID(_ context.Context, id int64) (*domain.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.content {
		if m.content[i].ID == id {
			c := m.content[i]
			return &c, nil
		}
	}
	return nil, port.ErrContentNotFound
}

// ContentByIdentity looks an item up by URL (course) or external id (forum).
func (m *MemoryStore) ContentByIdentity(_ context.Context, variant domain.Variant, identity string) (*domain.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.identities[string(variant)+":"+identity]
	if !ok {
		return nil, port.ErrContentNotFound
	}
	c := m.content[idx]
	return &c, nil
}

// ListContent returns every item of a variant in insertion order.
func (m *MemoryStore) ListContent(_ context.Context, variant domain.Variant) ([]domain.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ContentItem
	for _, c := range m.content {
		if c.Variant == variant {
			out = append(out, c)
		}
	}
	return out, nil
}

// SearchContent does a case-insensitive substring match on title or body.
func (m *MemoryStore) SearchContent(_ context.Context, variant domain.Variant, keyword string, limit int) ([]domain.ContentItem, error) {
	needle := foldCase(keyword)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ContentItem
	for _, c := range m.content {
		if c.Variant != variant {
			continue
		}
		if strings.Contains(foldCase(c.Title), needle) || strings.Contains(foldCase(c.Body), needle) {
			out = append(out, c)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// DeleteContent removes an item. Embeddings pointing at it become dangling.
func (m *MemoryStore) DeleteContent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.content {
		if m.content[i].ID != id {
			continue
		}
		m.content = append(m.content[:i], m.content[i+1:]...)
		m.identities = make(map[string]int, len(m.content))
		for j := range m.content {
			m.identities[m.content[j].IdentityKey()] = j
		}
		return nil
	}
	return port.ErrContentNotFound
}

// --- Embeddings ---

// InsertEmbedding appends an embedding record.
func (m *MemoryStore) InsertEmbedding(_ context.Context, e *domain.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEmbID++
	e.ID = m.nextEmbID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.embeddings = append(m.embeddings, *e)
	return nil
}

// ReplaceEmbeddings swaps the stored embeddings.
func (m *MemoryStore) ReplaceEmbeddings(_ context.Context, records []domain.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]domain.Embedding, len(records))
	for i, e := range records {
		m.nextEmbID++
		e.ID = m.nextEmbID
		next[i] = e
	}
	m.embeddings = next
	return nil
}

// ListEmbeddings returns embeddings in insertion order.
func (m *MemoryStore) ListEmbeddings(_ context.Context) ([]domain.Embedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Embedding, len(m.embeddings))
	copy(out, m.embeddings)
	return out, nil
}

// --- Questions ---

// InsertQuestion appends a record to the question log.
func (m *MemoryStore) InsertQuestion(_ context.Context, q *domain.QuestionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextQID++
	q.ID = m.nextQID
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	m.questions = append(m.questions, *q)
	return nil
}

// ListQuestions returns records newest first.
func (m *MemoryStore) ListQuestions(_ context.Context, limit int) ([]domain.QuestionRecord, error) {
	m.mu.RLock()
	out := make([]domain.QuestionRecord, len(m.questions))
	copy(out, m.questions)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// QuestionMetrics aggregates the question log.
func (m *MemoryStore) QuestionMetrics(_ context.Context, since time.Time) (*domain.QuestionMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		metrics domain.QuestionMetrics
		sum     float64
	)
	for _, q := range m.questions {
		metrics.TotalQuestions++
		if q.Success {
			metrics.SuccessfulQuestions++
		}
		sum += q.ResponseTime
		if !q.CreatedAt.Before(since) {
			metrics.QuestionsToday++
		}
	}
	if metrics.TotalQuestions > 0 {
		metrics.SuccessRate = float64(metrics.SuccessfulQuestions) / float64(metrics.TotalQuestions)
		metrics.AvgResponseTime = sum / float64(metrics.TotalQuestions)
	}
	return &metrics, nil
}

// --- Config ---

// GetConfig returns a single config entry.
func (m *MemoryStore) GetConfig(_ context.Context, key string) (*domain.ConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.config[key]
	if !ok {
		return nil, port.ErrConfigNotFound
	}
	return &e, nil
}

// SetConfig inserts or updates a config entry. An empty description keeps the stored one.
func (m *MemoryStore) SetConfig(_ context.Context, key, value, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.config[key]
	e.Key = key
	e.Value = value
	if description != "" {
		e.Description = description
	}
	e.UpdatedAt = time.Now()
	m.config[key] = e
	return nil
}

// ListConfig returns all config entries ordered by key.
func (m *MemoryStore) ListConfig(_ context.Context) ([]domain.ConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ConfigEntry, 0, len(m.config))
	for _, e := range m.config {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
