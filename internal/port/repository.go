package port

import (
	"context"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
)

// ContentRepository holds the course and forum corpora.
type ContentRepository interface {
	// UpsertContent inserts the item or updates the existing row with the same
	// identity. The check and the write happen atomically. The returned bool
	// reports whether a new row was created.
	UpsertContent(ctx context.Context, item *domain.ContentItem) (*domain.ContentItem, bool, error)

	// ContentByID returns the item with the given id or ErrContentNotFound.
	ContentByID(ctx context.Context, id int64) (*domain.ContentItem, error)

	// ContentByIdentity looks an item up by URL (course) or external id (forum).
	ContentByIdentity(ctx context.Context, variant domain.Variant, identity string) (*domain.ContentItem, error)

	// ListContent returns every item of a variant in insertion order.
	ListContent(ctx context.Context, variant domain.Variant) ([]domain.ContentItem, error)

	// SearchContent returns items whose title or body contains keyword,
	// case-insensitively, in insertion order. limit <= 0 means no limit.
	SearchContent(ctx context.Context, variant domain.Variant, keyword string, limit int) ([]domain.ContentItem, error)
}

// EmbeddingRepository persists embedding records so the in-memory index can
// be rebuilt after a restart.
type EmbeddingRepository interface {
	InsertEmbedding(ctx context.Context, e *domain.Embedding) error

	// ReplaceEmbeddings deletes every stored embedding and inserts records in
	// one transaction.
	ReplaceEmbeddings(ctx context.Context, records []domain.Embedding) error

	ListEmbeddings(ctx context.Context) ([]domain.Embedding, error)
}

// QuestionRepository is the append-only question log.
type QuestionRepository interface {
	InsertQuestion(ctx context.Context, q *domain.QuestionRecord) error

	// ListQuestions returns records newest first.
	ListQuestions(ctx context.Context, limit int) ([]domain.QuestionRecord, error)

	// QuestionMetrics aggregates the whole log; since marks the start of "today".
	QuestionMetrics(ctx context.Context, since time.Time) (*domain.QuestionMetrics, error)
}

// ConfigRepository stores runtime settings.
type ConfigRepository interface {
	GetConfig(ctx context.Context, key string) (*domain.ConfigEntry, error)
	SetConfig(ctx context.Context, key, value, description string) error
	ListConfig(ctx context.Context) ([]domain.ConfigEntry, error)
}
