package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
)

// InsertEmbedding persists a single embedding record.
func (s *SQLStore) InsertEmbedding(ctx context.Context, e *domain.Embedding) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	query := s.rebind(`INSERT INTO embeddings (content_id, variant, chunk_index, vector, created_at)
	                   VALUES (?, ?, ?, ?, ?) RETURNING id`)
	if err := s.db.QueryRowContext(ctx, query,
		e.ContentID, string(e.Variant), e.ChunkIndex, floatsToBytes(e.Vector), toMillis(e.CreatedAt),
	).Scan(&e.ID); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

// ReplaceEmbeddings swaps the whole embeddings table in one transaction.
func (s *SQLStore) ReplaceEmbeddings(ctx context.Context, records []domain.Embedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		return fmt.Errorf("clear embeddings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO embeddings (content_id, variant, chunk_index, vector, created_at)
		 VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, e := range records {
		created := e.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := stmt.ExecContext(ctx,
			e.ContentID, string(e.Variant), e.ChunkIndex, floatsToBytes(e.Vector), toMillis(created),
		); err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
	}

	return tx.Commit()
}

// ListEmbeddings returns every stored embedding in insertion order.
func (s *SQLStore) ListEmbeddings(ctx context.Context) ([]domain.Embedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content_id, variant, chunk_index, vector, created_at FROM embeddings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var out []domain.Embedding
	for rows.Next() {
		var (
			e       domain.Embedding
			variant string
			blob    []byte
			created int64
		)
		if err := rows.Scan(&e.ID, &e.ContentID, &variant, &e.ChunkIndex, &blob, &created); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		v, err := domain.ParseVariant(variant)
		if err != nil {
			return nil, err
		}
		e.Variant = v
		e.Vector = bytesToFloats(blob)
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// floatsToBytes encodes a vector as little-endian float32s.
func floatsToBytes(v []float32) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 4)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func bytesToFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	_ = binary.Read(bytes.NewReader(b), binary.LittleEndian, &out)
	return out
}
