package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/adapter/store"
	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
)

func TestFindEvidenceOrderAndDedup(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	idx := store.NewVectorStore(nil, 2)

	f1 := mustUpsert(t, repo, forum(1, "https://forum/t/1", "Docker on Windows", "wsl setup"))
	c1 := mustUpsert(t, repo, course("https://tds/docker", "Containers", "use docker or podman"))
	mustUpsert(t, repo, course("https://tds/docker-compose", "Compose", "docker compose files"))
	mustUpsert(t, repo, course("https://tds/docker-extra", "More", "docker again"))
	f2 := mustUpsert(t, repo, forum(2, "https://forum/t/2", "docker error", "permission denied"))

	mustIndex(t, idx, f1, []float32{1, 0})
	mustIndex(t, idx, c1, []float32{0.8, 0.2})

	emb := &stubEmbedder{fallback: []float32{1, 0}}
	svc := NewRetrievalService(emb, idx, repo, time.Minute, nil)

	got, err := svc.FindEvidence(ctx, "docker")
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"https://forum/t/1",          // vector
		"https://tds/docker",         // vector, also first course keyword hit
		"https://tds/docker-compose", // second course keyword hit
		f2.URL,                       // forum keyword hit
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries %+v, want %d", len(got), got, len(want))
	}
	for i, u := range want {
		if got[i].URL != u {
			t.Errorf("entry %d = %s, want %s", i, got[i].URL, u)
		}
	}
	if got[0].Variant != domain.VariantForum || got[1].Variant != domain.VariantCourse {
		t.Fatalf("variants not carried through: %+v", got[:2])
	}
}

func TestFindEvidenceCapsAtEightUniqueURLs(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	idx := store.NewVectorStore(nil, 2)

	for i := 0; i < 6; i++ {
		item := mustUpsert(t, repo, course(fmt.Sprintf("https://tds/v%d", i), "vector only", "unrelated"))
		mustIndex(t, idx, item, []float32{1, float32(i)})
	}
	for i := 0; i < 4; i++ {
		mustUpsert(t, repo, course(fmt.Sprintf("https://tds/k%d", i), "git basics", "git"))
		mustUpsert(t, repo, forum(int64(100+i), fmt.Sprintf("https://forum/t/%d", i), "git help", "git"))
	}

	svc := NewRetrievalService(&stubEmbedder{fallback: []float32{1, 0}}, idx, repo, 0, nil)
	got, err := svc.FindEvidence(ctx, "git")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != maxEvidence {
		t.Fatalf("got %d entries, want %d", len(got), maxEvidence)
	}
	seen := map[string]bool{}
	for _, e := range got {
		if seen[e.URL] {
			t.Fatalf("duplicate url %s", e.URL)
		}
		seen[e.URL] = true
	}
}

func TestFindEvidenceDegradesWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	idx := store.NewVectorStore(nil, 2)
	item := mustUpsert(t, repo, forum(1, "https://forum/t/1", "podman rootless", "podman"))
	mustIndex(t, idx, item, []float32{1, 0})

	svc := NewRetrievalService(&stubEmbedder{err: errors.New("quota exceeded")}, idx, repo, 0, nil)
	got, err := svc.FindEvidence(ctx, "podman")
	if err != nil {
		t.Fatalf("embedding failure must not fail retrieval: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://forum/t/1" {
		t.Fatalf("want keyword-only result, got %+v", got)
	}
}

func TestFindEvidenceDegradesOnDimensionMismatch(t *testing.T) {
	repo := store.NewMemoryStore()
	idx := store.NewVectorStore(nil, 3)
	item := mustUpsert(t, repo, course("https://tds/x", "x", "y"))
	mustIndex(t, idx, item, []float32{1, 0, 0})

	svc := NewRetrievalService(&stubEmbedder{fallback: []float32{1, 0}}, idx, repo, 0, nil)
	got, err := svc.FindEvidence(context.Background(), "nothing matches")
	if err != nil || len(got) != 0 {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestFindEvidenceSkipsDanglingReferences(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	idx := store.NewVectorStore(nil, 2)
	gone := mustUpsert(t, repo, course("https://tds/gone", "gone", "a"))
	kept := mustUpsert(t, repo, course("https://tds/kept", "kept", "b"))
	mustIndex(t, idx, gone, []float32{1, 0})
	mustIndex(t, idx, kept, []float32{0.5, 0.5})
	if err := repo.DeleteContent(ctx, gone.ID); err != nil {
		t.Fatal(err)
	}

	svc := NewRetrievalService(&stubEmbedder{fallback: []float32{1, 0}}, idx, repo, 0, nil)
	got, err := svc.FindEvidence(ctx, "zzz")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].URL != "https://tds/kept" {
		t.Fatalf("dangling reference not skipped: %+v", got)
	}
}

func TestFindEvidenceCachesQuestionEmbedding(t *testing.T) {
	repo := store.NewMemoryStore()
	idx := store.NewVectorStore(nil, 2)
	emb := &stubEmbedder{fallback: []float32{1, 0}}
	svc := NewRetrievalService(emb, idx, repo, time.Minute, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.FindEvidence(context.Background(), "same question"); err != nil {
			t.Fatal(err)
		}
	}
	if n := emb.calls.Load(); n != 1 {
		t.Fatalf("embedder called %d times, want 1", n)
	}
}

func TestForumEvidenceRanksFirstAndBecomesTheLink(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	idx := store.NewVectorStore(nil, 3)

	const u, title = "https://discourse.onlinedegree.iitm.ac.in/t/ga5-question/155939", "GA5 Question 8 Clarification"
	other := mustUpsert(t, repo, course("https://tds/other", "Other", "unrelated"))
	post := mustUpsert(t, repo, forum(155939, u, title, "use gpt-3.5-turbo-0125"))
	mustIndex(t, idx, other, []float32{0, 1, 0})
	mustIndex(t, idx, post, []float32{0.99, 0.05, 0})

	query := []float32{1, 0, 0}
	svc := NewRetrievalService(&stubEmbedder{vectors: map[string][]float32{"which model?": query}}, idx, repo, 0, nil)

	evidence, err := svc.FindEvidence(ctx, "which model?")
	if err != nil {
		t.Fatal(err)
	}
	if len(evidence) == 0 || evidence[0].URL != u {
		t.Fatalf("forum post not ranked first: %+v", evidence)
	}

	links := ExtractLinks(evidence)
	if len(links) != 1 || links[0].URL != u || links[0].Text != title {
		t.Fatalf("links = %+v", links)
	}
}
