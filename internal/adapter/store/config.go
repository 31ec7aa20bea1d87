package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// GetConfig returns a single config entry.
func (s *SQLStore) GetConfig(ctx context.Context, key string) (*domain.ConfigEntry, error) {
	var (
		e       domain.ConfigEntry
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT key, value, description, updated_at FROM system_config WHERE key = ?`), key,
	).Scan(&e.Key, &e.Value, &e.Description, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	e.UpdatedAt = fromMillis(updated)
	return &e, nil
}

// SetConfig inserts or updates a config entry by key.
// An empty description keeps the stored one.
func (s *SQLStore) SetConfig(ctx context.Context, key, value, description string) error {
	query := s.rebind(`INSERT INTO system_config (key, value, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			description = CASE WHEN EXCLUDED.description = '' THEN system_config.description ELSE EXCLUDED.description END,
			updated_at = EXCLUDED.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, key, value, description, toMillis(time.Now())); err != nil {
		return fmt.Errorf("set config: %w", err)
	}
	return nil
}

// ListConfig returns all config entries ordered by key.
func (s *SQLStore) ListConfig(ctx context.Context) ([]domain.ConfigEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, description, updated_at FROM system_config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	defer rows.Close()

	var out []domain.ConfigEntry
	for rows.Next() {
		var (
			e       domain.ConfigEntry
			updated int64
		)
		if err := rows.Scan(&e.Key, &e.Value, &e.Description, &updated); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		e.UpdatedAt = fromMillis(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}
