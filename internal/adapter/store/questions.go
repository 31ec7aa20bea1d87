package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
)

// InsertQuestion appends a record to the question log.
func (s *SQLStore) InsertQuestion(ctx context.Context, q *domain.QuestionRecord) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}

	var links sql.NullString
	if q.Links != nil {
		b, err := json.Marshal(q.Links)
		if err != nil {
			return fmt.Errorf("encode links: %w", err)
		}
		links = sql.NullString{String: string(b), Valid: true}
	}

	query := s.rebind(`INSERT INTO questions (question, answer, links, has_image, response_time, success, error_message, created_at)
	                   VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	if err := s.db.QueryRowContext(ctx, query,
		q.Question, nullString(q.Answer), links, q.HasImage, q.ResponseTime, q.Success,
		nullString(q.ErrorMessage), toMillis(q.CreatedAt),
	).Scan(&q.ID); err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// ListQuestions returns the most recent records, newest first.
func (s *SQLStore) ListQuestions(ctx context.Context, limit int) ([]domain.QuestionRecord, error) {
	query := `SELECT id, question, answer, links, has_image, response_time, success, error_message, created_at
	          FROM questions ORDER BY created_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []domain.QuestionRecord
	for rows.Next() {
		var (
			q        domain.QuestionRecord
			answer   sql.NullString
			links    sql.NullString
			respTime sql.NullFloat64
			errMsg   sql.NullString
			created  int64
		)
		if err := rows.Scan(&q.ID, &q.Question, &answer, &links, &q.HasImage, &respTime, &q.Success, &errMsg, &created); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if answer.Valid {
			q.Answer = &answer.String
		}
		if errMsg.Valid {
			q.ErrorMessage = &errMsg.String
		}
		if links.Valid {
			if err := json.Unmarshal([]byte(links.String), &q.Links); err != nil {
				return nil, fmt.Errorf("decode links: %w", err)
			}
		}
		q.ResponseTime = respTime.Float64
		q.CreatedAt = fromMillis(created)
		out = append(out, q)
	}
	return out, rows.Err()
}

// QuestionMetrics aggregates the whole question log.
func (s *SQLStore) QuestionMetrics(ctx context.Context, since time.Time) (*domain.QuestionMetrics, error) {
	query := s.rebind(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		AVG(response_time),
		COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM questions`)

	var (
		m   domain.QuestionMetrics
		avg sql.NullFloat64
	)
	if err := s.db.QueryRowContext(ctx, query, toMillis(since)).Scan(
		&m.TotalQuestions, &m.SuccessfulQuestions, &avg, &m.QuestionsToday,
	); err != nil {
		return nil, fmt.Errorf("question metrics: %w", err)
	}
	m.AvgResponseTime = avg.Float64
	if m.TotalQuestions > 0 {
		m.SuccessRate = float64(m.SuccessfulQuestions) / float64(m.TotalQuestions)
	}
	return &m, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
