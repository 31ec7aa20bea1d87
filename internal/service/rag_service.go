package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/metrics"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

const recordTimeout = 5 * time.Second

// AskRequest is a student question with an optional base64 image.
type AskRequest struct {
	Question string `json:"question"`
	Image    string `json:"image,omitempty"`
	Offline  bool   `json:"-"` // answer from rules and evidence only
}

// RAGService runs the retrieval-augmented answer pipeline for one question.
type RAGService struct {
	retrieval       *RetrievalService
	answers         *AnswerService
	images          *ImageService
	outcomes        *OutcomeService
	metrics         *metrics.Metrics
	providerTimeout time.Duration
}

// NewRAGService creates the pipeline.
func NewRAGService(retrieval *RetrievalService, answers *AnswerService, images *ImageService, outcomes *OutcomeService, m *metrics.Metrics, providerTimeout time.Duration) *RAGService {
	if providerTimeout <= 0 {
		providerTimeout = 60 * time.Second
	}
	return &RAGService{
		retrieval:       retrieval,
		answers:         answers,
		images:          images,
		outcomes:        outcomes,
		metrics:         m,
		providerTimeout: providerTimeout,
	}
}

// Validate rejects empty questions and oversized images. It performs no I/O.
func (s *RAGService) Validate(req AskRequest) error {
	if strings.TrimSpace(req.Question) == "" {
		return port.ErrEmptyQuestion
	}
	if req.Image != "" && !s.images.Fits(req.Image) {
		return port.ErrImageTooLarge
	}
	return nil
}

// Ask answers a question. Invalid requests are rejected without a log
// record; every other request is recorded exactly once, on success or failure.
func (s *RAGService) Ask(ctx context.Context, req AskRequest) (*domain.Answer, error) {
	if err := s.Validate(req); err != nil {
		s.metrics.RecordQuestion("rejected", 0)
		return nil, err
	}

	question := strings.TrimSpace(req.Question)
	slog.Info("question received", "question", question, "has_image", req.Image != "")

	start := time.Now()
	answer, err := s.answer(ctx, question, req)
	elapsed := time.Since(start).Seconds()

	rec := &domain.QuestionRecord{
		Question:     question,
		HasImage:     req.Image != "",
		ResponseTime: elapsed,
		Success:      err == nil,
	}
	if err == nil {
		rec.Answer = &answer.Answer
		rec.Links = answer.Links
	} else {
		msg := err.Error()
		rec.ErrorMessage = &msg
	}

	// The record is written even when the caller has gone away.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if recErr := s.outcomes.Record(recordCtx, rec); recErr != nil {
		slog.Error("failed to record question", "error", recErr)
	}

	if err != nil {
		slog.Error("question failed", "question", question, "duration", elapsed, "error", err)
		return nil, err
	}
	slog.Info("question answered", "duration", elapsed, "links", len(answer.Links))
	return answer, nil
}

func (s *RAGService) answer(ctx context.Context, question string, req AskRequest) (*domain.Answer, error) {
	// 1. Find evidence
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	callCtx, cancel := s.providerContext(ctx)
	evidence, err := s.retrieval.FindEvidence(callCtx, question)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("find evidence: %w", err)
	}

	// 2. Describe the image, if any
	var imageContext string
	if req.Image != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		callCtx, cancel := s.providerContext(ctx)
		imageContext = s.images.Describe(callCtx, req.Image)
		cancel()
	}

	// 3. Generate
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Offline {
		return &domain.Answer{Answer: s.answers.Fallback(question, evidence), Links: ExtractLinks(evidence)}, nil
	}
	callCtx, cancel = s.providerContext(ctx)
	defer cancel()
	text, links, err := s.answers.Generate(callCtx, question, evidence, imageContext)
	if err != nil {
		s.metrics.RecordProviderError("completion")
		return nil, err
	}
	if links == nil {
		links = []domain.Link{}
	}
	return &domain.Answer{Answer: text, Links: links}, nil
}

// providerContext detaches from caller cancellation so an in-flight provider
// call runs to completion, bounded by the provider timeout.
func (s *RAGService) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.providerTimeout)
}
