package service

import (
	"context"
	"fmt"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/metrics"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// PerformanceMetrics is the latency and throughput view of the question log.
// Percentiles are estimated from the mean.
type PerformanceMetrics struct {
	AvgResponseTime float64 `json:"avgResponseTime"`
	P95ResponseTime float64 `json:"p95ResponseTime"`
	P99ResponseTime float64 `json:"p99ResponseTime"`
	SuccessRate     float64 `json:"successRate"`
	TotalRequests   int     `json:"totalRequests"`
	Successful      int     `json:"successfulQuestions"`
	ErrorCount      int     `json:"errorCount"`
	QuestionsToday  int     `json:"questionsToday"`
	Throughput      float64 `json:"throughput"` // questions per hour today
}

// OutcomeService persists one record per answered or failed question and
// aggregates the log for the dashboard.
type OutcomeService struct {
	repo    port.QuestionRepository
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewOutcomeService creates an outcome logger.
func NewOutcomeService(repo port.QuestionRepository, m *metrics.Metrics) *OutcomeService {
	return &OutcomeService{repo: repo, metrics: m, now: time.Now}
}

// Record appends a question record.
func (s *OutcomeService) Record(ctx context.Context, rec *domain.QuestionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if err := s.repo.InsertQuestion(ctx, rec); err != nil {
		return fmt.Errorf("record question: %w", err)
	}
	outcome := "success"
	if !rec.Success {
		outcome = "failure"
	}
	s.metrics.RecordQuestion(outcome, rec.ResponseTime)
	return nil
}

// Metrics aggregates the log; "today" starts at local midnight.
func (s *OutcomeService) Metrics(ctx context.Context) (*domain.QuestionMetrics, error) {
	return s.repo.QuestionMetrics(ctx, startOfDay(s.now()))
}

// Recent returns the newest records first.
func (s *OutcomeService) Recent(ctx context.Context, limit int) ([]domain.QuestionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.repo.ListQuestions(ctx, limit)
}

// Performance derives latency estimates and throughput from a single
// Metrics aggregate, so every field describes the same snapshot.
func (s *OutcomeService) Performance(ctx context.Context) (*PerformanceMetrics, error) {
	m, err := s.Metrics(ctx)
	if err != nil {
		return nil, err
	}
	return &PerformanceMetrics{
		AvgResponseTime: m.AvgResponseTime,
		P95ResponseTime: m.AvgResponseTime * 1.5,
		P99ResponseTime: m.AvgResponseTime * 2,
		SuccessRate:     m.SuccessRate,
		TotalRequests:   m.TotalQuestions,
		Successful:      m.SuccessfulQuestions,
		ErrorCount:      m.TotalQuestions - m.SuccessfulQuestions,
		QuestionsToday:  m.QuestionsToday,
		Throughput:      float64(m.QuestionsToday) / 24,
	}, nil
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}
