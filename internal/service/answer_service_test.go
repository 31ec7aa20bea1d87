package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arturoeanton/tds-virtual-ta/internal/adapter/store"
	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
)

func defaultRuleTable(t *testing.T) []FallbackRule {
	t.Helper()
	rules, err := LoadFallbackRules("")
	if err != nil {
		t.Fatalf("load built-in rules: %v", err)
	}
	return rules
}

func TestBuiltInRules(t *testing.T) {
	rules := defaultRuleTable(t)
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	want := "gpt-model-choice,ga4-bonus-dashboard,docker-vs-podman,future-exam-date"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("rules = %s, want %s", got, want)
	}
}

func TestFallbackAnswers(t *testing.T) {
	svc := NewAnswerService(nil, nil, defaultRuleTable(t), false)
	evidence := []domain.EvidenceEntry{{Text: strings.Repeat("é", 400), URL: "https://tds/a", Title: "A", Variant: domain.VariantCourse}}

	tests := []struct {
		name     string
		question string
		evidence []domain.EvidenceEntry
		prefix   string
	}{
		{"gpt model", "Should I use gpt-4o-mini or GPT 3.5?", nil, "You must use `gpt-3.5-turbo-0125`"},
		{"ga4 bonus", "How does a GA4 bonus show on the dashboard?", nil, "If a student scores 10/10 on GA4"},
		{"docker podman with evidence", "Can I use Docker instead of Podman?", evidence, "While Docker is widely used"},
		{"exam date", "When is the TDS Sep 2025 end-term exam?", nil, "The TDS Sep 2025 end-term exam date"},
		{"gpt without model hint", "what is gpt", evidence, "Based on the course materials, here's what I found: "},
		{"no evidence", "what is kubernetes", nil, NoInformationAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.Fallback(tt.question, tt.evidence)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Fatalf("answer = %q, want prefix %q", got, tt.prefix)
			}
		})
	}
}

func TestFallbackExcerptIsThreeHundredCharacters(t *testing.T) {
	svc := NewAnswerService(nil, nil, nil, false)
	body := strings.Repeat("あ", 299) + "XYZ"
	got := svc.Fallback("anything", []domain.EvidenceEntry{{Text: body}})
	want := "Based on the course materials, here's what I found: " + strings.Repeat("あ", 299) + "X" +
		"... Please refer to the linked resources for more detailed information."
	if got != want {
		t.Fatalf("excerpt = %q", got)
	}
}

func TestDockerPodmanFallbackIsDeterministic(t *testing.T) {
	svc := NewAnswerService(nil, nil, defaultRuleTable(t), false)
	evidence := []domain.EvidenceEntry{{Text: "some course text", URL: "https://tds/x", Variant: domain.VariantCourse}}

	first, _, err := svc.Generate(context.Background(), "docker or podman?", evidence, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(first, "While Docker is widely used") {
		t.Fatalf("unexpected answer %q", first)
	}
	for i := 0; i < 20; i++ {
		again, _, _ := svc.Generate(context.Background(), "docker or podman?", evidence, "")
		if again != first {
			t.Fatalf("answer changed on run %d", i)
		}
	}
}

func TestExtractLinksForumOnlyCappedAtThree(t *testing.T) {
	evidence := []domain.EvidenceEntry{
		{URL: "c1", Title: "course", Variant: domain.VariantCourse},
		{URL: "f1", Title: "one", Variant: domain.VariantForum},
		{URL: "f2", Title: "two", Variant: domain.VariantForum},
		{URL: "c2", Title: "course", Variant: domain.VariantCourse},
		{URL: "f3", Title: "three", Variant: domain.VariantForum},
		{URL: "f4", Title: "four", Variant: domain.VariantForum},
	}
	links := ExtractLinks(evidence)
	want := []domain.Link{{URL: "f1", Text: "one"}, {URL: "f2", Text: "two"}, {URL: "f3", Text: "three"}}
	if len(links) != len(want) {
		t.Fatalf("links = %+v", links)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("link %d = %+v, want %+v", i, links[i], want[i])
		}
	}

	if empty := ExtractLinks(nil); empty == nil || len(empty) != 0 {
		t.Fatalf("no evidence must yield an empty, non-nil list: %#v", empty)
	}
}

func TestGenerateUsesConfiguredOptionsAndPrompt(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	cfg := NewConfigService(repo, defaultOpts, "text-embedding-ada-002")
	if err := cfg.Set(ctx, domain.ConfigPrimaryModel, "gpt-4o-mini", ""); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set(ctx, domain.ConfigTemperature, "0.2", ""); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set(ctx, domain.ConfigMaxTokens, "256", ""); err != nil {
		t.Fatal(err)
	}

	llm := &stubCompletion{answer: "Use gpt-3.5-turbo-0125."}
	svc := NewAnswerService(llm, cfg, defaultRuleTable(t), false)

	evidence := []domain.EvidenceEntry{
		{Text: "course body", URL: "https://tds/c", Title: "Course page", Variant: domain.VariantCourse},
		{Text: "forum body", URL: "https://forum/f", Title: "Forum post", Variant: domain.VariantForum},
	}
	answer, links, err := svc.Generate(ctx, "docker or podman?", evidence, "a terminal screenshot")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "Use gpt-3.5-turbo-0125." {
		t.Fatalf("model answer not returned (rules must not apply with a provider): %q", answer)
	}
	if len(links) != 1 || links[0].URL != "https://forum/f" {
		t.Fatalf("links = %+v", links)
	}

	if llm.opts.Model != "gpt-4o-mini" || llm.opts.Temperature != 0.2 || llm.opts.MaxTokens != 256 {
		t.Fatalf("options = %+v", llm.opts)
	}
	for _, want := range []string{
		"Teaching Assistant for the Tools in Data Science (TDS) course",
		"[COURSE] Course page: course body\n\n[FORUM] Forum post: forum body",
		"Image context: a terminal screenshot",
	} {
		if !strings.Contains(llm.system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if !strings.HasPrefix(llm.user, "Student question: docker or podman?") {
		t.Fatalf("user prompt = %q", llm.user)
	}
}

func TestGenerateReturnsProviderError(t *testing.T) {
	cfg := NewConfigService(store.NewMemoryStore(), defaultOpts, "")
	svc := NewAnswerService(&stubCompletion{err: errors.New("timeout")}, cfg, nil, false)
	if _, _, err := svc.Generate(context.Background(), "q", nil, ""); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestOfflineModeSkipsProvider(t *testing.T) {
	llm := &stubCompletion{answer: "model"}
	svc := NewAnswerService(llm, nil, defaultRuleTable(t), true)
	got, _, err := svc.Generate(context.Background(), "what is kubernetes", nil, "")
	if err != nil || got != NoInformationAnswer || llm.calls != 0 {
		t.Fatalf("got %q, %v, calls=%d", got, err, llm.calls)
	}
}

func TestParseFallbackRules(t *testing.T) {
	rules, err := ParseFallbackRules([]byte(`
rules:
  - name: deadline
    all: [Deadline]
    any: [GA1, ga2]
    answer: "  Check the calendar.  "
`))
	if err != nil {
		t.Fatal(err)
	}
	r := rules[0]
	if r.All[0] != "deadline" || r.Any[0] != "ga1" || r.Answer != "Check the calendar." {
		t.Fatalf("rule not normalised: %+v", r)
	}
	if !r.Matches("ga2 deadline?") || r.Matches("deadline?") || r.Matches("ga1") {
		t.Fatal("all/any semantics broken")
	}

	for name, doc := range map[string]string{
		"no answer":   "rules:\n  - name: x\n    all: [a]\n",
		"no keywords": "rules:\n  - name: x\n    answer: y\n",
		"bad yaml":    "rules: [",
	} {
		if _, err := ParseFallbackRules([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFallbackRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  - name: only\n    all: [hello]\n    answer: hi\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadFallbackRules(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].Name != "only" {
		t.Fatalf("rules = %+v", rules)
	}
	if _, err := LoadFallbackRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}
}
