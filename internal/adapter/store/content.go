package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

const contentColumns = `id, variant, external_id, title, body, url, category, author, topic_id, post_number, metadata, created_at, updated_at`

// identityOf returns the natural identity column value for an item.
func identityOf(item *domain.ContentItem) string {
	if item.Variant == domain.VariantForum {
		return strconv.FormatInt(item.ExternalID, 10)
	}
	return item.URL
}

// UpsertContent inserts the item or updates the row with the same identity.
// Insert-or-nothing followed by an update runs in one transaction, so two
// concurrent ingestions of the same identity cannot both create a row.
func (s *SQLStore) UpsertContent(ctx context.Context, item *domain.ContentItem) (*domain.ContentItem, bool, error) {
	if err := item.Validate(); err != nil {
		return nil, false, err
	}

	meta, err := encodeMetadata(item.Metadata)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	identity := identityOf(item)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := s.rebind(`INSERT INTO content_items
		(variant, identity, external_id, title, body, title_folded, body_folded, url, category, author, topic_id, post_number, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (variant, identity) DO NOTHING
		RETURNING id`)

	var id int64
	created := true
	err = tx.QueryRowContext(ctx, insert,
		string(item.Variant), identity, item.ExternalID, item.Title, item.Body,
		foldCase(item.Title), foldCase(item.Body), item.URL,
		item.Category, item.Author, item.TopicID, item.PostNumber, meta,
		toMillis(createdAt), toMillis(now),
	).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = false
		update := s.rebind(`UPDATE content_items
			SET title = ?, body = ?, title_folded = ?, body_folded = ?, url = ?, category = ?, author = ?, topic_id = ?, post_number = ?, metadata = ?, updated_at = ?
			WHERE variant = ? AND identity = ?
			RETURNING id`)
		if err := tx.QueryRowContext(ctx, update,
			item.Title, item.Body, foldCase(item.Title), foldCase(item.Body), item.URL, item.Category, item.Author, item.TopicID, item.PostNumber, meta,
			toMillis(now), string(item.Variant), identity,
		).Scan(&id); err != nil {
			return nil, false, fmt.Errorf("update content: %w", err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("insert content: %w", err)
	}

	row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+contentColumns+` FROM content_items WHERE id = ?`), id)
	stored, err := scanContent(row)
	if err != nil {
		return nil, false, fmt.Errorf("reload content: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit content: %w", err)
	}
	return stored, created, nil
}

// ContentByID returns the item with the given id.
func (s *SQLStore) ContentByID(ctx context.Context, id int64) (*domain.ContentItem, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+contentColumns+` FROM content_items WHERE id = ?`), id)
	item, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return item, nil
}

// ContentByIdentity looks an item up by URL (course) or external id (forum).
func (s *SQLStore) ContentByIdentity(ctx context.Context, variant domain.Variant, identity string) (*domain.ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+contentColumns+` FROM content_items WHERE variant = ? AND identity = ?`),
		string(variant), identity)
	item, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content by identity: %w", err)
	}
	return item, nil
}

// ListContent returns every item of a variant in insertion order.
func (s *SQLStore) ListContent(ctx context.Context, variant domain.Variant) ([]domain.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+contentColumns+` FROM content_items WHERE variant = ? ORDER BY id`),
		string(variant))
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()
	return collectContent(rows)
}

// SearchContent returns items whose title or body contains keyword, case-insensitively.
func (s *SQLStore) SearchContent(ctx context.Context, variant domain.Variant, keyword string, limit int) ([]domain.ContentItem, error) {
	pattern := likePattern(keyword)
	query := `SELECT ` + contentColumns + ` FROM content_items
	          WHERE variant = ? AND (title_folded LIKE ? ESCAPE '\' OR body_folded LIKE ? ESCAPE '\')
	          ORDER BY id`
	args := []interface{}{string(variant), pattern, pattern}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("search content: %w", err)
	}
	defer rows.Close()
	return collectContent(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContent(row rowScanner) (*domain.ContentItem, error) {
	var (
		c         domain.ContentItem
		variant   string
		meta      sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&c.ID, &variant, &c.ExternalID, &c.Title, &c.Body, &c.URL, &c.Category, &c.Author,
		&c.TopicID, &c.PostNumber, &meta, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	v, err := domain.ParseVariant(variant)
	if err != nil {
		return nil, err
	}
	c.Variant = v
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &c, nil
}

func collectContent(rows *sql.Rows) ([]domain.ContentItem, error) {
	var items []domain.ContentItem
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		items = append(items, *c)
	}
	return items, rows.Err()
}

func encodeMetadata(meta map[string]any) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
