package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/adapter/ai"
	"github.com/arturoeanton/tds-virtual-ta/internal/adapter/store"
	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

type pipeline struct {
	rag     *RAGService
	repo    *store.MemoryStore
	index   *store.VectorStore
	emb     *stubEmbedder
	outcome *OutcomeService
}

func newPipeline(t *testing.T, completion port.CompletionProvider, describer port.ImageDescriber) *pipeline {
	t.Helper()
	repo := store.NewMemoryStore()
	idx := store.NewVectorStore(repo, 2)
	emb := &stubEmbedder{fallback: []float32{1, 0}}
	cfg := NewConfigService(repo, defaultOpts, "stub")
	outcomes := NewOutcomeService(repo, nil)
	rag := NewRAGService(
		NewRetrievalService(emb, idx, repo, 0, nil),
		NewAnswerService(completion, cfg, defaultRuleTable(t), false),
		NewImageService(describer, 1, nil),
		outcomes,
		nil,
		time.Second,
	)
	return &pipeline{rag: rag, repo: repo, index: idx, emb: emb, outcome: outcomes}
}

func (p *pipeline) records(t *testing.T) []domain.QuestionRecord {
	t.Helper()
	recs, err := p.outcome.Recent(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestAskRejectsInvalidRequestsWithoutRecord(t *testing.T) {
	p := newPipeline(t, nil, nil)
	tooBig := strings.Repeat("A", 2*1024*1024)

	tests := []struct {
		name string
		req  AskRequest
		want error
	}{
		{"empty", AskRequest{Question: ""}, port.ErrEmptyQuestion},
		{"blank", AskRequest{Question: "  \n\t "}, port.ErrEmptyQuestion},
		{"oversized image", AskRequest{Question: "what is this?", Image: tooBig}, port.ErrImageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.rag.Ask(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !port.IsValidation(err) {
				t.Fatal("validation errors must be classified as such")
			}
		})
	}
	if n := p.emb.calls.Load(); n != 0 {
		t.Fatalf("retrieval ran for rejected requests (%d embed calls)", n)
	}
	if recs := p.records(t); len(recs) != 0 {
		t.Fatalf("rejected requests were logged: %+v", recs)
	}
}

func TestAskEmptyKnowledgeBaseWithoutCredentials(t *testing.T) {
	p := newPipeline(t, nil, nil)

	answer, err := p.rag.Ask(context.Background(), AskRequest{Question: "What is the capital of Mars?"})
	if err != nil {
		t.Fatal(err)
	}
	if answer.Answer != NoInformationAnswer {
		t.Fatalf("answer = %q", answer.Answer)
	}
	if answer.Links == nil || len(answer.Links) != 0 {
		t.Fatalf("links must be an empty list, got %#v", answer.Links)
	}

	recs := p.records(t)
	if len(recs) != 1 || !recs[0].Success || recs[0].ErrorMessage != nil {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Answer == nil || *recs[0].Answer != NoInformationAnswer {
		t.Fatalf("answer not recorded: %+v", recs[0])
	}
}

func TestAskForumEvidenceBecomesLink(t *testing.T) {
	llm := &stubCompletion{answer: "Use the model named in the question."}
	p := newPipeline(t, llm, nil)

	post := mustUpsert(t, p.repo, forum(42, "https://forum/t/42", "GA5 clarification", "use gpt-3.5-turbo-0125"))
	mustIndex(t, p.index, post, []float32{0.9, 0.1})

	answer, err := p.rag.Ask(context.Background(), AskRequest{Question: "Which model should I use?"})
	if err != nil {
		t.Fatal(err)
	}
	if answer.Answer != llm.answer {
		t.Fatalf("answer = %q", answer.Answer)
	}
	if len(answer.Links) != 1 || answer.Links[0] != (domain.Link{URL: "https://forum/t/42", Text: "GA5 clarification"}) {
		t.Fatalf("links = %+v", answer.Links)
	}
	if !strings.Contains(llm.system, "[FORUM] GA5 clarification: use gpt-3.5-turbo-0125") {
		t.Fatalf("evidence missing from prompt: %q", llm.system)
	}

	recs := p.records(t)
	if len(recs) != 1 || !recs[0].Success || len(recs[0].Links) != 1 {
		t.Fatalf("records = %+v", recs)
	}
}

func TestAskCompletionFailureIsRecordedOnce(t *testing.T) {
	p := newPipeline(t, &stubCompletion{err: errors.New("upstream 503")}, nil)

	_, err := p.rag.Ask(context.Background(), AskRequest{Question: "why?"})
	if err == nil || !strings.Contains(err.Error(), "upstream 503") {
		t.Fatalf("err = %v", err)
	}
	if port.IsValidation(err) {
		t.Fatal("provider failure must not look like a validation error")
	}

	recs := p.records(t)
	if len(recs) != 1 {
		t.Fatalf("want exactly one record, got %d", len(recs))
	}
	r := recs[0]
	if r.Success || r.ErrorMessage == nil || !strings.Contains(*r.ErrorMessage, "upstream 503") || r.Answer != nil || r.Links != nil {
		t.Fatalf("failure record = %+v", r)
	}
}

func TestAskImageFailureDoesNotFailQuestion(t *testing.T) {
	llm := &stubCompletion{answer: "ok"}
	p := newPipeline(t, llm, stubDescriber{err: errors.New("vision down")})

	answer, err := p.rag.Ask(context.Background(), AskRequest{Question: "what does this show?", Image: "data:image/png;base64,iVBORw0KGgo="})
	if err != nil {
		t.Fatal(err)
	}
	if answer.Answer != "ok" || strings.Contains(llm.system, "Image context") {
		t.Fatalf("answer = %+v, prompt = %q", answer, llm.system)
	}
	recs := p.records(t)
	if len(recs) != 1 || !recs[0].HasImage {
		t.Fatalf("records = %+v", recs)
	}
}

func TestAskWithPlaceholderImageContext(t *testing.T) {
	llm := &stubCompletion{answer: "ok"}
	p := newPipeline(t, llm, ai.PlaceholderDescriber{})

	if _, err := p.rag.Ask(context.Background(), AskRequest{Question: "see image", Image: "iVBORw0KGgo="}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(llm.system, "Image context: "+ai.PlaceholderDescription) {
		t.Fatalf("image context missing: %q", llm.system)
	}
}

func TestAskOfflineRequestUsesRules(t *testing.T) {
	llm := &stubCompletion{answer: "model"}
	p := newPipeline(t, llm, nil)

	answer, err := p.rag.Ask(context.Background(), AskRequest{Question: "docker vs podman?", Offline: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(answer.Answer, "While Docker is widely used") || llm.calls != 0 {
		t.Fatalf("answer = %q, calls = %d", answer.Answer, llm.calls)
	}
}

func TestAskCancelledCallerStillRecorded(t *testing.T) {
	llm := &stubCompletion{answer: "unused"}
	p := newPipeline(t, llm, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.rag.Ask(ctx, AskRequest{Question: "anyone there?"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if llm.calls != 0 || p.emb.calls.Load() != 0 {
		t.Fatal("no provider calls should start after cancellation")
	}
	recs := p.records(t)
	if len(recs) != 1 || recs[0].Success {
		t.Fatalf("records = %+v", recs)
	}
}
